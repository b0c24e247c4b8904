package stream

import (
	"context"
	"errors"
	"time"
)

// FieldData names the single field each stream entry stores its payload in.
const FieldData = "data"

var (
	ErrGroupExists   = errors.New("consumer group already exists")
	ErrNoGroup       = errors.New("consumer group does not exist")
	ErrBackendClosed = errors.New("stream backend closed")
	ErrInvalidID     = errors.New("invalid entry id")
)

type Entry struct {
	ID   string
	Data []byte
}

// ReadOptions controls a consumer group read.
type ReadOptions struct {
	// Pending re-reads entries already delivered to this consumer but not
	// acknowledged, instead of entries never delivered to the group.
	Pending bool
	// Count caps the number of entries returned; zero means no cap.
	Count int64
	// Block waits up to this long for new entries when none are available.
	// Zero or negative returns immediately. Ignored for pending reads.
	Block time.Duration
}

// Backend is the logical append-only stream contract: append, read-new per
// consumer group, acknowledge, and re-read unacknowledged entries.
type Backend interface {
	// Open establishes the underlying connection. A closed Backend may be
	// opened again.
	Open(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Append stores data as a new entry of stream, creating the stream on
	// first use, and returns the entry id.
	Append(ctx context.Context, stream string, data []byte) (string, error)

	// CreateGroup creates a durable consumer group positioned at the end of
	// the stream, or at its beginning when fromStart is set. It returns
	// ErrGroupExists if the group is already present.
	CreateGroup(ctx context.Context, stream, group string, fromStart bool) error

	ReadGroup(ctx context.Context, stream, group, consumer string, opts ReadOptions) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Pending returns the number of delivered but unacknowledged entries.
	Pending(ctx context.Context, stream, group string) (int64, error)
	Len(ctx context.Context, stream string) (int64, error)
}
