package stream

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// notifier wakes every waiter at once. Waiters take the channel before
// checking for work so a broadcast in between is not lost.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// fileWatcher broadcasts on writes to the database or its WAL made by other
// processes sharing the file.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func watchDatabase(path string, n *notifier, logger *slog.Logger) (*fileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	fw := &fileWatcher{watcher: watcher, done: make(chan struct{})}
	base := filepath.Base(path)

	go func() {
		defer close(fw.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if strings.HasPrefix(filepath.Base(event.Name), base) {
					n.broadcast()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("database watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return fw, nil
}

func (fw *fileWatcher) Close() error {
	err := fw.watcher.Close()
	<-fw.done
	return err
}
