package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acp/transport"
	"github.com/tailored-agentic-units/acp/transport/memory"
)

func connected(t *testing.T, broker *memory.Broker) *memory.Transport {
	t.Helper()
	tr := memory.New(broker)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { tr.Disconnect(context.Background()) })
	return tr
}

func TestTransport_PublishBeforeConnect(t *testing.T) {
	tr := memory.New(memory.NewBroker())

	_, err := tr.Publish(context.Background(), "topic", []byte("x"))
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestTransport_SubscribeTwice(t *testing.T) {
	tr := connected(t, memory.NewBroker())
	ctx := context.Background()
	noop := func(context.Context, string, []byte) error { return nil }

	if err := tr.Subscribe(ctx, "topic", noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := tr.Subscribe(ctx, "topic", noop); !errors.Is(err, transport.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v, want ErrAlreadySubscribed", err)
	}
}

func TestTransport_UnsubscribeUnknown(t *testing.T) {
	tr := connected(t, memory.NewBroker())

	err := tr.Unsubscribe(context.Background(), "missing")
	if !errors.Is(err, transport.ErrNotSubscribed) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotSubscribed", err)
	}
}

func TestTransport_DeliversInOrder(t *testing.T) {
	broker := memory.NewBroker()
	publisher := connected(t, broker)
	subscriber := connected(t, broker)
	ctx := context.Background()

	const n = 50
	received := make(chan string, n)
	err := subscriber.Subscribe(ctx, "topic", func(_ context.Context, topic string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := range n {
		if _, err := publisher.Publish(ctx, "topic", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	for i := range n {
		select {
		case got := <-received:
			if got != fmt.Sprint(i) {
				t.Fatalf("delivery %d = %q, want %q", i, got, fmt.Sprint(i))
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for delivery %d", i)
		}
	}
}

func TestTransport_FanOut(t *testing.T) {
	broker := memory.NewBroker()
	a := connected(t, broker)
	b := connected(t, broker)
	ctx := context.Background()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	callback := func(context.Context, string, []byte) error {
		count.Add(1)
		wg.Done()
		return nil
	}

	a.Subscribe(ctx, "broadcast", callback)
	b.Subscribe(ctx, "broadcast", callback)

	if broker.Subscribers("broadcast") != 2 {
		t.Fatalf("Subscribers() = %d, want 2", broker.Subscribers("broadcast"))
	}

	if _, err := a.Publish(ctx, "broadcast", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	wg.Wait()
	if count.Load() != 2 {
		t.Errorf("callbacks = %d, want 2", count.Load())
	}
}

func TestTransport_PublishReturnsSequentialIDs(t *testing.T) {
	tr := connected(t, memory.NewBroker())
	ctx := context.Background()

	first, _ := tr.Publish(ctx, "topic", []byte("a"))
	second, _ := tr.Publish(ctx, "topic", []byte("b"))

	if first != "1-0" || second != "2-0" {
		t.Errorf("ids = %q, %q, want 1-0, 2-0", first, second)
	}
}

func TestTransport_UnsubscribeStopsDelivery(t *testing.T) {
	broker := memory.NewBroker()
	tr := connected(t, broker)
	ctx := context.Background()

	var count atomic.Int32
	tr.Subscribe(ctx, "topic", func(context.Context, string, []byte) error {
		count.Add(1)
		return nil
	})

	if err := tr.Unsubscribe(ctx, "topic"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	for range 20 {
		tr.Publish(ctx, "topic", []byte("late"))
	}
	time.Sleep(50 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("callbacks after unsubscribe = %d, want 0", got)
	}
	if broker.Subscribers("topic") != 0 {
		t.Errorf("Subscribers() = %d, want 0", broker.Subscribers("topic"))
	}
}

func TestTransport_CallbackErrorsDoNotStopListener(t *testing.T) {
	tr := connected(t, memory.NewBroker())
	ctx := context.Background()

	received := make(chan string, 3)
	tr.Subscribe(ctx, "topic", func(_ context.Context, _ string, payload []byte) error {
		received <- string(payload)
		switch string(payload) {
		case "fail":
			return errors.New("boom")
		case "panic":
			panic("boom")
		}
		return nil
	})

	for _, p := range []string{"fail", "panic", "ok"} {
		tr.Publish(ctx, "topic", []byte(p))
	}

	for _, want := range []string{"fail", "panic", "ok"} {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("delivery = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestTransport_DisconnectStopsAll(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New(broker)
	ctx := context.Background()
	tr.Connect(ctx)

	noop := func(context.Context, string, []byte) error { return nil }
	tr.Subscribe(ctx, "a", noop)
	tr.Subscribe(ctx, "b", noop)

	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := tr.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}

	if broker.Subscribers("a")+broker.Subscribers("b") != 0 {
		t.Error("Disconnect() should detach every subscription")
	}
	if _, err := tr.Publish(ctx, "a", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Publish() after Disconnect error = %v, want ErrNotConnected", err)
	}
}
