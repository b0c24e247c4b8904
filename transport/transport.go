// Package transport defines the broker-independent contract for moving
// encoded protocol messages between agents.
//
// A Transport publishes opaque byte payloads to named topics and delivers
// payloads published to subscribed topics to a Callback. Two implementations
// are provided: transport/stream (durable, consumer-group based) and
// transport/memory (deterministic, in-process, for tests).
//
// Contract shared by every implementation:
//
//   - Publish before Connect fails with ErrNotConnected.
//   - One listener per topic per Transport: a second Subscribe on the same
//     topic fails with ErrAlreadySubscribed.
//   - Unsubscribe on a topic that is not subscribed returns ErrNotSubscribed;
//     callers report it and carry on.
//   - After Unsubscribe or Disconnect returns, no further callbacks fire for
//     the affected subscriptions.
//   - Callbacks for one topic run sequentially in delivery order; callbacks
//     for different topics run concurrently.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected      = errors.New("transport not connected")
	ErrAlreadySubscribed = errors.New("topic already subscribed")
	ErrNotSubscribed     = errors.New("topic not subscribed")
)

// Callback receives one delivered payload. A returned error is reported by
// the transport; it does not stop the subscription.
type Callback func(ctx context.Context, topic string, payload []byte) error

type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Publish appends payload to topic and returns the id assigned to it.
	Publish(ctx context.Context, topic string, payload []byte) (string, error)

	Subscribe(ctx context.Context, topic string, callback Callback, opts ...SubscribeOption) error
	Unsubscribe(ctx context.Context, topic string) error
}

type SubscribeOptions struct {
	ConsumerName string
}

type SubscribeOption func(*SubscribeOptions)

// WithConsumerName pins the consumer identity for a subscription. Durable
// transports use it to hand back entries delivered to the same consumer
// before a restart but never acknowledged.
func WithConsumerName(name string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.ConsumerName = name
	}
}

func ApplySubscribeOptions(opts ...SubscribeOption) SubscribeOptions {
	var options SubscribeOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
