package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startedBus(t *testing.T, opts ...BusOption) *Bus {
	t.Helper()
	b := NewBus(opts...)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

func TestBus_StartStop(t *testing.T) {
	b := NewBus()

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !b.IsRunning() {
		t.Error("expected bus to be running")
	}
	if err := b.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if b.IsRunning() {
		t.Error("expected bus to be stopped")
	}
	if err := b.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestBus_PublishNotRunning(t *testing.T) {
	b := NewBus()

	err := b.Publish(context.Background(), New("proc.spawned", nil, "test"))
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Publish() = %v, want ErrNotRunning", err)
	}
}

func TestBus_PublishInvalidTopic(t *testing.T) {
	b := startedBus(t)

	err := b.Publish(context.Background(), Event{Topic: ""})
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() = %v, want ErrInvalidTopic", err)
	}
}

func TestBus_SyncDelivery(t *testing.T) {
	b := startedBus(t)

	var got []Event
	_, err := b.SubscribeFunc("proc.exited", func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeFunc() error: %v", err)
	}

	// Sync handlers run in the publisher's goroutine, so the slice is
	// safe to read immediately after Publish returns.
	if err := b.Publish(context.Background(), New("proc.exited", 7, "test")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Payload != 7 {
		t.Errorf("Payload = %v, want 7", got[0].Payload)
	}
}

func TestBus_AsyncDelivery(t *testing.T) {
	b := startedBus(t)

	done := make(chan Event, 1)
	_, err := b.Subscribe("proc.exited", HandlerFunc(func(_ context.Context, e Event) error {
		done <- e
		return nil
	}), WithDeliveryMode(DeliveryAsync))
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.Publish(context.Background(), New("proc.exited", "payload", "test")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case e := <-done:
		if e.Payload != "payload" {
			t.Errorf("Payload = %v, want payload", e.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async delivery")
	}
}

func TestBus_PublishSyncForcesInline(t *testing.T) {
	b := startedBus(t)

	var count atomic.Int32
	_, err := b.Subscribe("proc.exited", HandlerFunc(func(_ context.Context, _ Event) error {
		count.Add(1)
		return nil
	}), WithDeliveryMode(DeliveryAsync))
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.PublishSync(context.Background(), New("proc.exited", nil, "test")); err != nil {
		t.Fatalf("PublishSync() error: %v", err)
	}

	// No waiting: the handler must have run before PublishSync returned.
	if count.Load() != 1 {
		t.Errorf("expected handler to run inline, count = %d", count.Load())
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	b := startedBus(t)

	var mu sync.Mutex
	var topics []Topic
	_, err := b.SubscribeFunc("proc.*", func(_ context.Context, e Event) error {
		mu.Lock()
		topics = append(topics, e.Topic)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeFunc() error: %v", err)
	}

	ctx := context.Background()
	_ = b.Publish(ctx, New("proc.spawned", nil, "test"))
	_ = b.Publish(ctx, New("proc.exited", nil, "test"))
	_ = b.Publish(ctx, New("other.exited", nil, "test"))

	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 2 {
		t.Fatalf("expected 2 deliveries, got %d (%v)", len(topics), topics)
	}
}

func TestBus_Filter(t *testing.T) {
	b := startedBus(t)

	var got []any
	_, err := b.Subscribe("proc.exited", HandlerFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Payload)
		return nil
	}), WithFilter(func(e Event) bool {
		code, ok := e.Payload.(int)
		return ok && code != 0
	}))
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	ctx := context.Background()
	_ = b.Publish(ctx, New("proc.exited", 0, "test"))
	_ = b.Publish(ctx, New("proc.exited", 42, "test"))

	if len(got) != 1 || got[0] != 42 {
		t.Errorf("expected only non-zero payload delivered, got %v", got)
	}
}

func TestBus_Once(t *testing.T) {
	b := startedBus(t)

	var count atomic.Int32
	sub, err := b.Subscribe("proc.exited", HandlerFunc(func(_ context.Context, _ Event) error {
		count.Add(1)
		return nil
	}), WithOnce())
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	ctx := context.Background()
	_ = b.Publish(ctx, New("proc.exited", nil, "test"))
	_ = b.Publish(ctx, New("proc.exited", nil, "test"))

	if count.Load() != 1 {
		t.Errorf("expected exactly one delivery, got %d", count.Load())
	}
	if sub.IsActive() {
		t.Error("expected once subscription to be cancelled after delivery")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := startedBus(t)

	var count atomic.Int32
	sub, err := b.SubscribeFunc("proc.exited", func(_ context.Context, _ Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeFunc() error: %v", err)
	}

	if err := b.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	_ = b.Publish(context.Background(), New("proc.exited", nil, "test"))

	if count.Load() != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", count.Load())
	}

	if err := b.Unsubscribe(sub); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe() = %v, want ErrSubscriptionNotFound", err)
	}
	if err := b.Unsubscribe(nil); !errors.Is(err, ErrInvalidSubscription) {
		t.Errorf("Unsubscribe(nil) = %v, want ErrInvalidSubscription", err)
	}
}

func TestBus_SubscribeValidation(t *testing.T) {
	b := startedBus(t)

	if _, err := b.Subscribe("proc.exited", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Subscribe(nil handler) = %v, want ErrNilHandler", err)
	}
	if _, err := b.SubscribeFunc("", func(context.Context, Event) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) = %v, want ErrInvalidTopic", err)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	recovered := make(chan any, 1)
	b := startedBus(t, WithPanicHandler(func(_ Event, r any, _ []byte) {
		recovered <- r
	}))

	_, err := b.SubscribeFunc("proc.exited", func(_ context.Context, _ Event) error {
		panic("handler boom")
	})
	if err != nil {
		t.Fatalf("SubscribeFunc() error: %v", err)
	}

	if err := b.Publish(context.Background(), New("proc.exited", nil, "test")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case r := <-recovered:
		if r != "handler boom" {
			t.Errorf("recovered = %v, want handler boom", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler was not invoked")
	}

	if got := b.Stats().HandlerPanics; got != 1 {
		t.Errorf("HandlerPanics = %d, want 1", got)
	}
}

func TestBus_HandlerErrorCounted(t *testing.T) {
	b := startedBus(t)

	_, err := b.SubscribeFunc("proc.exited", func(_ context.Context, _ Event) error {
		return errors.New("handler failed")
	})
	if err != nil {
		t.Fatalf("SubscribeFunc() error: %v", err)
	}

	_ = b.Publish(context.Background(), New("proc.exited", nil, "test"))

	stats := b.Stats()
	if stats.HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", stats.HandlerErrors)
	}
	if stats.EventsDelivered != 0 {
		t.Errorf("EventsDelivered = %d, want 0", stats.EventsDelivered)
	}
}

func TestBus_StopDrainsQueue(t *testing.T) {
	b := NewBus(WithQueueSize(16), WithWorkers(1))
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var count atomic.Int32
	_, err := b.Subscribe("proc.output", HandlerFunc(func(_ context.Context, _ Event) error {
		count.Add(1)
		return nil
	}), WithDeliveryMode(DeliveryAsync))
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, New("proc.output", i, "test")); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	if count.Load() != 10 {
		t.Errorf("expected all queued deliveries to drain, got %d", count.Load())
	}
}

func TestBus_Stats(t *testing.T) {
	b := startedBus(t)

	_, _ = b.SubscribeFunc("proc.exited", func(context.Context, Event) error { return nil })
	_ = b.Publish(context.Background(), New("proc.exited", nil, "test"))

	stats := b.Stats()
	if stats.EventsPublished != 1 {
		t.Errorf("EventsPublished = %d, want 1", stats.EventsPublished)
	}
	if stats.EventsDelivered != 1 {
		t.Errorf("EventsDelivered = %d, want 1", stats.EventsDelivered)
	}
	if stats.ActiveSubscriptions != 1 {
		t.Errorf("ActiveSubscriptions = %d, want 1", stats.ActiveSubscriptions)
	}
}
