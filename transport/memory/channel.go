package memory

import (
	"context"
)

// deliveryChannel is a bounded FIFO owned by one subscription. It is never
// closed; cancelling its context stops both senders and the receiver, so a
// publish racing an unsubscribe cannot panic on a closed channel.
type deliveryChannel[T any] struct {
	channel    chan T
	context    context.Context
	bufferSize int
}

func newDeliveryChannel[T any](ctx context.Context, bufferSize int) *deliveryChannel[T] {
	return &deliveryChannel[T]{
		channel:    make(chan T, bufferSize),
		context:    ctx,
		bufferSize: bufferSize,
	}
}

func (dc *deliveryChannel[T]) Send(ctx context.Context, item T) error {
	if err := dc.context.Err(); err != nil {
		return err
	}
	select {
	case dc.channel <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-dc.context.Done():
		return dc.context.Err()
	}
}

func (dc *deliveryChannel[T]) Receive() (T, error) {
	select {
	case item := <-dc.channel:
		return item, nil
	case <-dc.context.Done():
		var zero T
		return zero, dc.context.Err()
	}
}

func (dc *deliveryChannel[T]) QueueLength() int {
	return len(dc.channel)
}
