// Package memory provides an in-process Transport for tests and single-process
// deployments.
//
// Transports created from the same Broker see each other's publishes. Every
// subscription to a topic receives every payload published to it after the
// subscription was made, in publish order; there are no consumer groups and
// nothing survives the process.
//
//	broker := memory.NewBroker()
//	a := memory.New(broker)
//	b := memory.New(broker)
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tailored-agentic-units/acp/transport"
)

const defaultBufferSize = 256

type delivery struct {
	id      string
	payload []byte
}

// Broker is the shared in-process bus.
type Broker struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscription]struct{}
	sequence map[string]uint64
}

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[*subscription]struct{}),
		sequence: make(map[string]uint64),
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Broker) attach(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[sub.topic] == nil {
		b.subs[sub.topic] = make(map[*subscription]struct{})
	}
	b.subs[sub.topic][sub] = struct{}{}
}

func (b *Broker) detach(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

// publish assigns the entry id under the lock and enqueues outside it, so a
// full subscriber queue never blocks attach, detach or other topics.
// Payloads from one publisher reach each subscriber in publish order.
func (b *Broker) publish(ctx context.Context, topic string, payload []byte) (string, []error) {
	b.mu.Lock()
	b.sequence[topic]++
	id := fmt.Sprintf("%d-0", b.sequence[topic])
	targets := make([]*subscription, 0, len(b.subs[topic]))
	for sub := range b.subs[topic] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	var errs []error
	for _, sub := range targets {
		data := append([]byte(nil), payload...)
		if err := sub.queue.Send(ctx, delivery{id: id, payload: data}); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.consumer, err))
		}
	}
	return id, errs
}

type subscription struct {
	topic    string
	consumer string
	callback transport.Callback
	queue    *deliveryChannel[delivery]
	cancel   context.CancelFunc
	done     chan struct{}
}

// Transport is the in-memory transport.Transport.
type Transport struct {
	broker     *Broker
	naming     transport.Naming
	bufferSize int
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
	subs      map[string]*subscription
}

type Option func(*Transport)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithBufferSize bounds each subscription's queue. Publish blocks while a
// subscriber's queue is full.
func WithBufferSize(size int) Option {
	return func(t *Transport) {
		if size > 0 {
			t.bufferSize = size
		}
	}
}

func New(broker *Broker, opts ...Option) *Transport {
	t := &Transport{
		broker:     broker,
		naming:     transport.DefaultNaming(),
		bufferSize: defaultBufferSize,
		logger:     slog.Default(),
		subs:       make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	for _, topic := range topics {
		if err := t.Unsubscribe(ctx, topic); err != nil {
			t.logger.WarnContext(
				ctx,
				"unsubscribe during disconnect failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
	}

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if !t.IsConnected() {
		return "", fmt.Errorf("publish to %s: %w", topic, transport.ErrNotConnected)
	}

	id, errs := t.broker.publish(ctx, topic, payload)
	for _, err := range errs {
		t.logger.WarnContext(
			ctx,
			"failed to enqueue delivery",
			slog.String("topic", topic),
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
	}
	return id, nil
}

func (t *Transport) Subscribe(
	ctx context.Context,
	topic string,
	callback transport.Callback,
	opts ...transport.SubscribeOption,
) error {
	options := transport.ApplySubscribeOptions(opts...)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return fmt.Errorf("subscribe to %s: %w", topic, transport.ErrNotConnected)
	}
	if _, exists := t.subs[topic]; exists {
		return fmt.Errorf("subscribe to %s: %w", topic, transport.ErrAlreadySubscribed)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		topic:    topic,
		consumer: t.naming.Consumer(topic, options.ConsumerName),
		callback: callback,
		queue:    newDeliveryChannel[delivery](listenCtx, t.bufferSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	t.subs[topic] = sub
	t.broker.attach(sub)
	go t.listen(listenCtx, sub)

	t.logger.DebugContext(
		ctx,
		"subscribed",
		slog.String("topic", topic),
		slog.String("consumer", sub.consumer),
	)
	return nil
}

// Unsubscribe detaches the subscription and waits for its listener to exit.
// Deliveries still queued are discarded.
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

	sub.cancel()
	t.broker.detach(sub)

	select {
	case <-sub.done:
	case <-ctx.Done():
		return fmt.Errorf("unsubscribe from %s: %w", topic, ctx.Err())
	}

	t.logger.DebugContext(ctx, "unsubscribed", slog.String("topic", topic))
	return nil
}

func (t *Transport) listen(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	for {
		d, err := sub.queue.Receive()
		if err != nil || ctx.Err() != nil {
			return
		}

		if err := invoke(ctx, sub.callback, sub.topic, d.payload); err != nil {
			t.logger.WarnContext(
				ctx,
				"subscription callback failed",
				slog.String("topic", sub.topic),
				slog.String("entry_id", d.id),
				slog.String("error", err.Error()),
			)
		}
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
