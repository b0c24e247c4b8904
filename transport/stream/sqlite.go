package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPollInterval = 250 * time.Millisecond

// SQLiteBackend keeps streams, consumer groups and pending entries in one
// SQLite database. Several processes may share the file; appends made by
// other processes wake blocked readers through a file watcher, with polling
// as the fallback.
type SQLiteBackend struct {
	path         string
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	db      *sql.DB
	watcher *fileWatcher
	notify  *notifier
}

type SQLiteOption func(*SQLiteBackend)

func WithPollInterval(interval time.Duration) SQLiteOption {
	return func(b *SQLiteBackend) {
		if interval > 0 {
			b.pollInterval = interval
		}
	}
}

func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(b *SQLiteBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewSQLiteBackend(path string, opts ...SQLiteOption) *SQLiteBackend {
	b := &SQLiteBackend{
		path:         path,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		notify:       newNotifier(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", sqliteDSN(b.path))
	if err != nil {
		return fmt.Errorf("stream store: open: %w", err)
	}
	// One connection serialises in-process access; busy_timeout covers
	// other processes holding the write lock.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("stream store: %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	watcher, err := watchDatabase(b.path, b.notify, b.logger)
	if err != nil {
		b.logger.WarnContext(
			ctx,
			"database watcher unavailable, polling for appends",
			slog.String("path", b.path),
			slog.String("error", err.Error()),
		)
	}

	b.db = db
	b.watcher = watcher
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stream_entries (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			stream     TEXT NOT NULL,
			data       BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS stream_groups (
			stream     TEXT NOT NULL,
			name       TEXT NOT NULL,
			last_seq   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (stream, name)
		);

		CREATE TABLE IF NOT EXISTS stream_pending (
			stream       TEXT NOT NULL,
			grp          TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			consumer     TEXT NOT NULL,
			delivered_at TEXT NOT NULL,
			deliveries   INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (stream, grp, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_stream ON stream_entries(stream, seq);
		CREATE INDEX IF NOT EXISTS idx_pending_consumer ON stream_pending(stream, grp, consumer, seq);
	`)
	if err != nil {
		return fmt.Errorf("stream store: migrate: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	var errs []error
	if b.watcher != nil {
		errs = append(errs, b.watcher.Close())
		b.watcher = nil
	}
	errs = append(errs, b.db.Close())
	b.db = nil

	// Release blocked readers so they observe the closed backend.
	b.notify.broadcast()
	return errors.Join(errs...)
}

func (b *SQLiteBackend) conn() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrBackendClosed
	}
	return b.db, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	db, err := b.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (b *SQLiteBackend) Append(ctx context.Context, stream string, data []byte) (string, error) {
	db, err := b.conn()
	if err != nil {
		return "", err
	}

	if data == nil {
		data = []byte{}
	}
	res, err := db.ExecContext(
		ctx,
		`INSERT INTO stream_entries (stream, data, created_at) VALUES (?, ?, ?)`,
		stream, data, now(),
	)
	if err != nil {
		return "", fmt.Errorf("stream store: append: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("stream store: append: %w", err)
	}

	b.notify.broadcast()
	return formatID(seq), nil
}

func (b *SQLiteBackend) CreateGroup(ctx context.Context, stream, group string, fromStart bool) error {
	db, err := b.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO stream_groups (stream, name, last_seq, created_at)
		VALUES (?, ?, CASE WHEN ? THEN 0 ELSE (
			SELECT COALESCE(MAX(seq), 0) FROM stream_entries WHERE stream = ?
		) END, ?)
		ON CONFLICT(stream, name) DO NOTHING
	`, stream, group, fromStart, stream, now())
	if err != nil {
		return fmt.Errorf("stream store: create group: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stream store: create group: %w", err)
	}
	if n == 0 {
		return ErrGroupExists
	}
	return nil
}

func (b *SQLiteBackend) ReadGroup(
	ctx context.Context,
	stream, group, consumer string,
	opts ReadOptions,
) ([]Entry, error) {
	if opts.Pending {
		return b.readPending(ctx, stream, group, consumer, opts.Count)
	}

	var deadline time.Time
	if opts.Block > 0 {
		deadline = time.Now().Add(opts.Block)
	}

	for {
		wake := b.notify.wait()

		entries, err := b.claimNew(ctx, stream, group, consumer, opts.Count)
		if err != nil || len(entries) > 0 || opts.Block <= 0 {
			return entries, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(remaining, b.pollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// sqliteDSN makes every transaction take the write lock at BEGIN. A
// deferred transaction that reads the group cursor and then writes fails with
// SQLITE_BUSY, without waiting on busy_timeout, when another process commits
// in between.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

// claimNew moves entries past the group's cursor into the consumer's pending
// list and advances the cursor, in one transaction.
func (b *SQLiteBackend) claimNew(ctx context.Context, stream, group, consumer string, count int64) ([]Entry, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stream store: read group: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	err = tx.QueryRowContext(
		ctx,
		`SELECT last_seq FROM stream_groups WHERE stream = ? AND name = ?`,
		stream, group,
	).Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, group, stream)
	}
	if err != nil {
		return nil, fmt.Errorf("stream store: read group: %w", err)
	}

	rows, err := tx.QueryContext(
		ctx,
		`SELECT seq, data FROM stream_entries WHERE stream = ? AND seq > ? ORDER BY seq LIMIT ?`,
		stream, lastSeq, limit(count),
	)
	if err != nil {
		return nil, fmt.Errorf("stream store: read group: %w", err)
	}
	seqs, entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	deliveredAt := now()
	for _, seq := range seqs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_pending (stream, grp, seq, consumer, delivered_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(stream, grp, seq) DO UPDATE SET
				consumer = excluded.consumer,
				delivered_at = excluded.delivered_at,
				deliveries = deliveries + 1
		`, stream, group, seq, consumer, deliveredAt)
		if err != nil {
			return nil, fmt.Errorf("stream store: read group: %w", err)
		}
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE stream_groups SET last_seq = ? WHERE stream = ? AND name = ?`,
		seqs[len(seqs)-1], stream, group,
	)
	if err != nil {
		return nil, fmt.Errorf("stream store: read group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("stream store: read group: %w", err)
	}
	return entries, nil
}

func (b *SQLiteBackend) readPending(ctx context.Context, stream, group, consumer string, count int64) ([]Entry, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	var exists int
	err = db.QueryRowContext(
		ctx,
		`SELECT 1 FROM stream_groups WHERE stream = ? AND name = ?`,
		stream, group,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, group, stream)
	}
	if err != nil {
		return nil, fmt.Errorf("stream store: read pending: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT p.seq, e.data
		FROM stream_pending p
		JOIN stream_entries e ON e.seq = p.seq
		WHERE p.stream = ? AND p.grp = ? AND p.consumer = ?
		ORDER BY p.seq
		LIMIT ?
	`, stream, group, consumer, limit(count))
	if err != nil {
		return nil, fmt.Errorf("stream store: read pending: %w", err)
	}
	_, entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		seq, _ := parseID(e.ID)
		_, err := db.ExecContext(
			ctx,
			`UPDATE stream_pending SET deliveries = deliveries + 1, delivered_at = ? WHERE stream = ? AND grp = ? AND seq = ?`,
			now(), stream, group, seq,
		)
		if err != nil {
			return nil, fmt.Errorf("stream store: read pending: %w", err)
		}
	}
	return entries, nil
}

func (b *SQLiteBackend) Ack(ctx context.Context, stream, group string, ids ...string) error {
	db, err := b.conn()
	if err != nil {
		return err
	}

	for _, id := range ids {
		seq, err := parseID(id)
		if err != nil {
			return err
		}
		_, err = db.ExecContext(
			ctx,
			`DELETE FROM stream_pending WHERE stream = ? AND grp = ? AND seq = ?`,
			stream, group, seq,
		)
		if err != nil {
			return fmt.Errorf("stream store: ack %s: %w", id, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Pending(ctx context.Context, stream, group string) (int64, error) {
	db, err := b.conn()
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM stream_pending WHERE stream = ? AND grp = ?`,
		stream, group,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("stream store: pending: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) Len(ctx context.Context, stream string) (int64, error) {
	db, err := b.conn()
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_entries WHERE stream = ?`, stream).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("stream store: len: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]int64, []Entry, error) {
	defer rows.Close()

	var seqs []int64
	var entries []Entry
	for rows.Next() {
		var seq int64
		var data []byte
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, nil, fmt.Errorf("stream store: scan: %w", err)
		}
		seqs = append(seqs, seq)
		entries = append(entries, Entry{ID: formatID(seq), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("stream store: scan: %w", err)
	}
	return seqs, entries, nil
}

func formatID(seq int64) string {
	return strconv.FormatInt(seq, 10) + "-0"
}

func parseID(id string) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimSuffix(id, "-0"), 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return seq, nil
}

// limit maps a zero count to SQLite's "no limit".
func limit(count int64) int64 {
	if count <= 0 {
		return -1
	}
	return count
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
