package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/acp/observability"
	"github.com/tailored-agentic-units/acp/transport"
)

var ErrShutdownTimeout = errors.New("listener did not stop in time")

// State is the lifecycle of one subscription.
type State int32

const (
	StateUnsubscribed State = iota
	StateCreatingGroup
	StateListening
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateCreatingGroup:
		return "creating_group"
	case StateListening:
		return "listening"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type subscription struct {
	topic    string
	group    string
	consumer string
	callback transport.Callback

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) State() State {
	return State(s.state.Load())
}

// Transport is the durable transport.Transport. Each topic is a stream in the
// Backend; each subscription reads it through a durable consumer group on its
// own listener goroutine and acknowledges every entry after its callback
// returns, whether or not the callback failed.
type Transport struct {
	backend  Backend
	cfg      Config
	logger   *slog.Logger
	observer observability.Observer

	mu        sync.Mutex
	connected bool
	closing   bool
	subs      map[string]*subscription
}

type Option func(*Transport)

func WithObserver(observer observability.Observer) Option {
	return func(t *Transport) {
		if observer != nil {
			t.observer = observer
		}
	}
}

// New creates a Transport over backend. Zero fields of cfg take their
// defaults.
func New(backend Backend, cfg Config, opts ...Option) *Transport {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	t := &Transport{
		backend:  backend,
		cfg:      merged,
		logger:   merged.Logger,
		observer: observability.NoOpObserver{},
		subs:     make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ transport.Transport = (*Transport)(nil)

// Connect opens the backend. Calling it while connected does nothing.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}
	if err := t.backend.Open(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := t.backend.Ping(ctx); err != nil {
		t.backend.Close()
		return fmt.Errorf("connect: %w", err)
	}

	t.connected = true
	t.logger.DebugContext(ctx, "stream transport connected")
	return nil
}

// Disconnect stops every listener, then closes the backend. It is safe to
// call when already disconnected. Subscribe fails with ErrNotConnected from
// the moment Disconnect starts.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected && len(t.subs) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	var g errgroup.Group
	for _, topic := range topics {
		g.Go(func() error {
			err := t.Unsubscribe(ctx, topic)
			if errors.Is(err, transport.ErrNotSubscribed) {
				return nil
			}
			return err
		})
	}
	unsubErr := g.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = false
	if !t.connected {
		return unsubErr
	}
	t.connected = false
	closeErr := t.backend.Close()

	t.logger.DebugContext(ctx, "stream transport disconnected", slog.Int("subscriptions", len(topics)))
	return errors.Join(unsubErr, closeErr)
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Publish appends payload to the stream named topic and returns the entry id.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if !t.IsConnected() {
		return "", fmt.Errorf("publish to %s: %w", topic, transport.ErrNotConnected)
	}

	id, err := t.backend.Append(ctx, topic, payload)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

// Subscribe creates the topic's consumer group if needed and starts a
// listener. An existing group is reused.
func (t *Transport) Subscribe(
	ctx context.Context,
	topic string,
	callback transport.Callback,
	opts ...transport.SubscribeOption,
) error {
	options := transport.ApplySubscribeOptions(opts...)

	t.mu.Lock()
	if !t.connected || t.closing {
		t.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", topic, transport.ErrNotConnected)
	}
	if _, exists := t.subs[topic]; exists {
		t.mu.Unlock()
		return fmt.Errorf("subscribe to %s: %w", topic, transport.ErrAlreadySubscribed)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		topic:    topic,
		group:    t.cfg.Naming.Group(topic),
		consumer: t.cfg.Naming.Consumer(topic, options.ConsumerName),
		callback: callback,
		ctx:      listenCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	sub.state.Store(int32(StateCreatingGroup))
	t.subs[topic] = sub
	t.mu.Unlock()

	err := t.backend.CreateGroup(ctx, topic, sub.group, t.cfg.ReplayHistory)
	switch {
	case err == nil:
		t.logger.DebugContext(
			ctx,
			"consumer group created",
			slog.String("topic", topic),
			slog.String("group", sub.group),
		)
	case errors.Is(err, ErrGroupExists):
	default:
		t.mu.Lock()
		if t.subs[topic] == sub {
			delete(t.subs, topic)
		}
		t.mu.Unlock()
		cancel()
		close(sub.done)
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	go t.listen(sub)
	return nil
}

// Unsubscribe cancels the topic's listener and waits, up to ShutdownTimeout,
// for it to exit. Once it returns nil no further callbacks run for topic.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	sub, exists := t.subs[topic]
	if exists {
		delete(t.subs, topic)
	}
	t.mu.Unlock()

	if !exists {
		return fmt.Errorf("unsubscribe from %s: %w", topic, transport.ErrNotSubscribed)
	}

	sub.state.Store(int32(StateCancelled))
	sub.cancel()

	timer := time.NewTimer(t.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-sub.done:
	case <-ctx.Done():
		return fmt.Errorf("unsubscribe from %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("unsubscribe from %s: %w", topic, ErrShutdownTimeout)
	}

	observability.Emit(ctx, t.observer, observability.EventSubscriptionStop, observability.LevelVerbose,
		"stream.Unsubscribe", map[string]any{
			"topic":    topic,
			"group":    sub.group,
			"consumer": sub.consumer,
		})
	return nil
}

// State reports the lifecycle state of topic's subscription.
func (t *Transport) State(topic string) State {
	t.mu.Lock()
	sub, exists := t.subs[topic]
	t.mu.Unlock()

	if !exists {
		return StateUnsubscribed
	}
	return sub.State()
}

// listen first re-reads entries this consumer received but never
// acknowledged, then blocks for new ones. Read errors back off and retry
// until the subscription is cancelled.
func (t *Transport) listen(sub *subscription) {
	defer close(sub.done)

	ctx := sub.ctx
	if !sub.state.CompareAndSwap(int32(StateCreatingGroup), int32(StateListening)) {
		return
	}

	observability.Emit(ctx, t.observer, observability.EventSubscriptionStart, observability.LevelVerbose,
		"stream.listen", map[string]any{
			"topic":    sub.topic,
			"group":    sub.group,
			"consumer": sub.consumer,
		})

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	pending := true

	for ctx.Err() == nil {
		entries, err := t.backend.ReadGroup(ctx, sub.topic, sub.group, sub.consumer, ReadOptions{
			Pending: pending,
			Count:   t.cfg.BatchSize,
			Block:   t.cfg.BlockTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := NextBackoffDelay(t.cfg.Backoff, attempt, rng)
			t.logger.WarnContext(
				ctx,
				"stream read failed",
				slog.String("topic", sub.topic),
				slog.String("group", sub.group),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			observability.Emit(ctx, t.observer, observability.EventReadError, observability.LevelWarning,
				"stream.listen", map[string]any{
					"topic":   sub.topic,
					"attempt": attempt,
					"error":   err.Error(),
				})
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0

		if pending && (t.cfg.BatchSize <= 0 || int64(len(entries)) < t.cfg.BatchSize) {
			pending = false
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			t.deliver(ctx, sub, entry)
		}
	}
}

func (t *Transport) deliver(ctx context.Context, sub *subscription, entry Entry) {
	// Bookkeeping after the callback must complete even if the subscription
	// is cancelled meanwhile.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ShutdownTimeout)
	defer cancel()

	if err := invoke(ctx, sub.callback, sub.topic, entry.Data); err != nil {
		t.logger.WarnContext(
			ctx,
			"stream callback failed",
			slog.String("topic", sub.topic),
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		observability.Emit(ctx, t.observer, observability.EventCallbackError, observability.LevelWarning,
			"stream.deliver", map[string]any{
				"topic":    sub.topic,
				"entry_id": entry.ID,
				"error":    err.Error(),
			})

		if t.cfg.DeadLetter {
			if dlErr := t.deadLetter(bookCtx, sub, entry, err); dlErr != nil {
				t.logger.ErrorContext(
					ctx,
					"dead letter failed",
					slog.String("topic", sub.topic),
					slog.String("entry_id", entry.ID),
					slog.String("error", dlErr.Error()),
				)
			} else {
				observability.Emit(ctx, t.observer, observability.EventDeadLetter, observability.LevelWarning,
					"stream.deliver", map[string]any{
						"topic":       sub.topic,
						"entry_id":    entry.ID,
						"dead_letter": t.deadLetterTopic(sub.topic),
					})
			}
		}
	}

	if err := t.backend.Ack(bookCtx, sub.topic, sub.group, entry.ID); err != nil {
		t.logger.ErrorContext(
			ctx,
			"stream ack failed",
			slog.String("topic", sub.topic),
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
}

func invoke(ctx context.Context, callback transport.Callback, topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return callback(ctx, topic, payload)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
