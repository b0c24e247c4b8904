package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBackend maps the stream contract onto Redis Streams: XADD, XGROUP
// CREATE MKSTREAM, XREADGROUP and XACK.
type RedisBackend struct {
	options *redis.Options

	mu     sync.RWMutex
	client *redis.Client
}

func NewRedisBackend(options *redis.Options) *RedisBackend {
	return &RedisBackend{options: options}
}

// NewRedisBackendFromURL accepts redis:// and rediss:// URLs.
func NewRedisBackendFromURL(url string) (*RedisBackend, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBackend(options), nil
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return nil
	}

	client := redis.NewClient(b.options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis: ping %s: %w", b.options.Addr, err)
	}
	b.client = client
	return nil
}

func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *RedisBackend) conn() (*redis.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, ErrBackendClosed
	}
	return b.client, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	client, err := b.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (b *RedisBackend) Append(ctx context.Context, stream string, data []byte) (string, error) {
	client, err := b.conn()
	if err != nil {
		return "", err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{FieldData: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return id, nil
}

func (b *RedisBackend) CreateGroup(ctx context.Context, stream, group string, fromStart bool) error {
	client, err := b.conn()
	if err != nil {
		return err
	}

	start := "$"
	if fromStart {
		start = "0"
	}

	err = client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return ErrGroupExists
		}
		return fmt.Errorf("redis: xgroup create %s %s: %w", stream, group, err)
	}
	return nil
}

func (b *RedisBackend) ReadGroup(
	ctx context.Context,
	stream, group, consumer string,
	opts ReadOptions,
) ([]Entry, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}

	id := ">"
	block := opts.Block
	if opts.Pending {
		id = "0"
		block = 0
	}
	// go-redis omits BLOCK for negative durations; zero would block forever.
	if block <= 0 {
		block = -1
	}

	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    opts.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, group, stream)
		}
		return nil, fmt.Errorf("redis: xreadgroup %s %s: %w", stream, group, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Data: fieldBytes(msg.Values)})
		}
	}
	return entries, nil
}

func (b *RedisBackend) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	client, err := b.conn()
	if err != nil {
		return err
	}
	if err := client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: xack %s %s: %w", stream, group, err)
	}
	return nil
}

func (b *RedisBackend) Pending(ctx context.Context, stream, group string) (int64, error) {
	client, err := b.conn()
	if err != nil {
		return 0, err
	}
	pending, err := client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: xpending %s %s: %w", stream, group, err)
	}
	return pending.Count, nil
}

func (b *RedisBackend) Len(ctx context.Context, stream string) (int64, error) {
	client, err := b.conn()
	if err != nil {
		return 0, err
	}
	n, err := client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: xlen %s: %w", stream, err)
	}
	return n, nil
}

// fieldBytes extracts the payload field. Entries trimmed from the stream
// while still pending come back without values.
func fieldBytes(values map[string]any) []byte {
	switch v := values[FieldData].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}
