package stream

import (
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/acp/transport"
)

type Config struct {
	Naming transport.Naming

	// BlockTimeout bounds each blocking read, and so how long a listener
	// takes to notice cancellation on backends that cannot interrupt a read.
	BlockTimeout time.Duration
	BatchSize    int64

	// ReplayHistory positions newly created groups at the start of the
	// stream instead of its end.
	ReplayHistory bool

	// DeadLetter appends entries whose callback failed to
	// topic+DeadLetterSuffix before acknowledging them.
	DeadLetter       bool
	DeadLetterSuffix string

	// ShutdownTimeout bounds how long Unsubscribe waits for a listener.
	ShutdownTimeout time.Duration

	Backoff BackoffConfig

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Naming:           transport.DefaultNaming(),
		BlockTimeout:     time.Second,
		BatchSize:        10,
		DeadLetterSuffix: ".dlq",
		ShutdownTimeout:  5 * time.Second,
		Backoff:          DefaultBackoffConfig(),
		Logger:           slog.Default(),
	}
}

func (c *Config) Merge(source *Config) {
	c.Naming.Merge(&source.Naming)

	if source.BlockTimeout > 0 {
		c.BlockTimeout = source.BlockTimeout
	}
	if source.BatchSize > 0 {
		c.BatchSize = source.BatchSize
	}
	if source.ReplayHistory {
		c.ReplayHistory = true
	}
	if source.DeadLetter {
		c.DeadLetter = true
	}
	if source.DeadLetterSuffix != "" {
		c.DeadLetterSuffix = source.DeadLetterSuffix
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
	c.Backoff.Merge(&source.Backoff)
	if source.Logger != nil {
		c.Logger = source.Logger
	}
}
