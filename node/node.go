// Package node assembles one agent process: it builds the configured
// transport, the protocol handler and the optional object store, installs
// the built-in message handlers and runs until its context ends.
//
//	cfg, err := node.LoadConfig("planner.toml")
//	n, err := node.New(cfg, node.WithLogger(logger))
//	err = n.Run(ctx)
package node

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/acp/handler"
	"github.com/tailored-agentic-units/acp/observability"
	"github.com/tailored-agentic-units/acp/store"
	"github.com/tailored-agentic-units/acp/transport"
	"github.com/tailored-agentic-units/acp/transport/memory"
	"github.com/tailored-agentic-units/acp/transport/stream"
)

const stopTimeout = 10 * time.Second

type options struct {
	logger    *slog.Logger
	observer  observability.Observer
	transport transport.Transport
	broker    *memory.Broker
	store     store.Store
	tasks     map[string]TaskFunc
}

// Option overrides a subsystem New would otherwise build from config.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver overrides the observers named in config.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithTransport overrides the config-created transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithBroker shares an in-process broker between nodes using the memory
// transport.
func WithBroker(b *memory.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithStore overrides the config-created object store.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTask adds or replaces a task served to task_request messages.
func WithTask(name string, fn TaskFunc) Option {
	return func(o *options) {
		if o.tasks == nil {
			o.tasks = make(map[string]TaskFunc)
		}
		o.tasks[name] = fn
	}
}

// Node is one running agent.
type Node struct {
	cfg       Config
	handler   *handler.Handler
	transport transport.Transport
	store     store.Store
	tasks     map[string]TaskFunc
	logger    *slog.Logger
	observer  observability.Observer
}

// New creates a Node from configuration.
func New(cfg *Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	observer := o.observer
	if observer == nil {
		resolved, err := observability.Resolve(cfg.Observers...)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve observers: %w", err)
		}
		observer = resolved
	}

	tr := o.transport
	if tr == nil {
		built, err := newTransport(cfg, o.broker, o.logger, observer)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		tr = built
	}

	st := o.store
	if st == nil {
		opened, err := store.New(&cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		st = opened
	}

	n := &Node{
		cfg:       *cfg,
		transport: tr,
		store:     st,
		tasks:     DefaultTasks(),
		logger:    o.logger,
		observer:  observer,
	}
	for name, fn := range o.tasks {
		n.tasks[name] = fn
	}

	h, err := handler.New(handler.Config{
		AgentID:          cfg.AgentID,
		BroadcastTopic:   cfg.BroadcastTopic,
		DefaultTimeout:   time.Duration(cfg.RequestTimeout),
		ConsumerName:     cfg.Transport.ConsumerName,
		AnnouncePresence: cfg.AnnouncePresence != nil && *cfg.AnnouncePresence,
		Capabilities:     n.capabilities(),
		Logger:           o.logger,
	}, tr, handler.WithObserver(observer), handler.WithTable(n.table()))
	if err != nil {
		return nil, fmt.Errorf("failed to create handler: %w", err)
	}
	n.handler = h

	return n, nil
}

func newTransport(
	cfg *Config,
	broker *memory.Broker,
	logger *slog.Logger,
	observer observability.Observer,
) (transport.Transport, error) {
	tc := cfg.Transport

	switch tc.Kind {
	case TransportMemory:
		if broker == nil {
			broker = memory.NewBroker()
		}
		return memory.New(broker, memory.WithLogger(logger)), nil
	case TransportSQLite:
		backend := stream.NewSQLiteBackend(
			tc.SQLitePath,
			stream.WithPollInterval(time.Duration(tc.PollInterval)),
			stream.WithSQLiteLogger(logger),
		)
		return stream.New(backend, streamConfig(cfg, logger), stream.WithObserver(observer)), nil
	case TransportRedis:
		backend, err := stream.NewRedisBackendFromURL(tc.RedisURL)
		if err != nil {
			return nil, err
		}
		return stream.New(backend, streamConfig(cfg, logger), stream.WithObserver(observer)), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, tc.Kind)
	}
}

func streamConfig(cfg *Config, logger *slog.Logger) stream.Config {
	tc := cfg.Transport

	groupPrefix := tc.GroupPrefix
	if groupPrefix == "" {
		groupPrefix = cfg.AgentID
	}

	return stream.Config{
		Naming: transport.Naming{
			GroupPrefix:    groupPrefix,
			ConsumerPrefix: tc.ConsumerPrefix,
		},
		BlockTimeout:     time.Duration(tc.BlockTimeout),
		BatchSize:        tc.BatchSize,
		ReplayHistory:    tc.ReplayHistory != nil && *tc.ReplayHistory,
		DeadLetter:       tc.DeadLetter != nil && *tc.DeadLetter,
		DeadLetterSuffix: tc.DeadLetterSuffix,
		ShutdownTimeout:  time.Duration(tc.ShutdownTimeout),
		Logger:           logger,
	}
}

func (n *Node) Handler() *handler.Handler {
	return n.handler
}

func (n *Node) Store() store.Store {
	return n.store
}

// Start brings the handler online.
func (n *Node) Start(ctx context.Context) error {
	if err := n.handler.Start(ctx); err != nil {
		return err
	}
	observability.Emit(ctx, n.observer, EventNodeStart, observability.LevelInfo, "node.Start", map[string]any{
		"agent_id":  n.cfg.AgentID,
		"transport": n.cfg.Transport.Kind,
	})
	return nil
}

// Stop takes the handler offline and releases the store.
func (n *Node) Stop(ctx context.Context) error {
	err := n.handler.Stop(ctx)

	if closer, ok := n.store.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			n.logger.WarnContext(ctx, "store close failed", slog.String("error", cerr.Error()))
		}
	}

	observability.Emit(ctx, n.observer, EventNodeStop, observability.LevelInfo, "node.Stop", map[string]any{
		"agent_id": n.cfg.AgentID,
		"metrics":  n.handler.Metrics(),
	})
	return err
}

// Run starts the node, waits for ctx to end and stops it within a bounded
// grace period.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	return n.Stop(stopCtx)
}

func (n *Node) capabilities() []string {
	if len(n.cfg.Capabilities) > 0 {
		return n.cfg.Capabilities
	}
	return taskNames(n.tasks)
}
