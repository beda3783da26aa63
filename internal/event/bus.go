package event

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bus routes published events to matching subscriptions. Subscriptions with
// DeliverySync run in the publisher's goroutine; DeliveryAsync subscriptions
// are served by a bounded worker pool.
type Bus struct {
	registry   *registry
	dispatcher *dispatcher

	running atomic.Bool
	config  busConfig

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
	panics    atomic.Uint64
}

type busConfig struct {
	queueSize    int
	workers      int
	timeout      time.Duration
	panicHandler PanicHandler
}

// BusOption configures a Bus.
type BusOption func(*busConfig)

// WithQueueSize sets the async queue capacity.
func WithQueueSize(size int) BusOption {
	return func(c *busConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithWorkers sets the async worker count.
func WithWorkers(count int) BusOption {
	return func(c *busConfig) {
		if count > 0 {
			c.workers = count
		}
	}
}

// WithHandlerTimeout bounds async handler execution. Zero disables the
// timeout.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		c.timeout = d
	}
}

// WithPanicHandler installs a callback invoked when a handler panics.
func WithPanicHandler(h PanicHandler) BusOption {
	return func(c *busConfig) {
		c.panicHandler = h
	}
}

// NewBus creates a bus with the given options. Call Start before
// publishing.
func NewBus(opts ...BusOption) *Bus {
	config := busConfig{
		queueSize: 1024,
		workers:   4,
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{
		registry: newRegistry(),
		config:   config,
	}
	b.dispatcher = newDispatcher(config.queueSize, config.workers, config.timeout, b.invoke)

	return b
}

// Start starts the async worker pool.
func (b *Bus) Start() error {
	if b.running.Load() {
		return ErrAlreadyRunning
	}
	if err := b.dispatcher.start(); err != nil {
		return err
	}
	b.running.Store(true)
	return nil
}

// Stop stops the bus, draining queued async deliveries until the context is
// cancelled.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.running.Swap(false) {
		return ErrNotRunning
	}
	return b.dispatcher.stop(ctx)
}

// IsRunning returns true if the bus has been started and not stopped.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

// Subscribe registers a handler for a topic pattern. The pattern may
// contain wildcards ("*" one segment, "**" zero or more).
func (b *Bus) Subscribe(pattern Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	sub := newSubscription(uuid.NewString(), pattern, handler, opts...)
	b.registry.add(sub)
	return sub, nil
}

// SubscribeFunc is a convenience wrapper for subscribing a function.
func (b *Bus) SubscribeFunc(pattern Topic, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error) {
	return b.Subscribe(pattern, fn, opts...)
}

// Unsubscribe cancels and removes a subscription.
func (b *Bus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	sub.Cancel()
	if !b.registry.remove(sub.ID()) {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Publish delivers an event to all matching subscriptions, honoring each
// subscription's delivery mode. Async deliveries that do not fit in the
// queue are dropped and counted in Stats.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	return b.publish(ctx, e, false)
}

// PublishSync delivers an event to all matching subscriptions in the
// caller's goroutine, regardless of their delivery mode. The call returns
// after every handler has run.
func (b *Bus) PublishSync(ctx context.Context, e Event) error {
	return b.publish(ctx, e, true)
}

func (b *Bus) publish(ctx context.Context, e Event, forceSync bool) error {
	if !b.running.Load() {
		return ErrNotRunning
	}
	if !e.Topic.IsValid() {
		return ErrInvalidTopic
	}

	subs := b.registry.match(e.Topic)
	if len(subs) == 0 {
		return nil
	}

	b.published.Add(1)

	for _, sub := range subs {
		if !sub.shouldDeliver(e) {
			continue
		}

		if forceSync || sub.config.DeliveryMode == DeliverySync {
			b.invoke(ctx, e, sub)
		} else if err := b.dispatcher.enqueue(ctx, e, sub); err != nil {
			b.dropped.Add(1)
		}

		if sub.config.Once {
			sub.Cancel()
			b.registry.remove(sub.ID())
		}
	}

	return nil
}

// invoke runs a single handler with panic isolation.
func (b *Bus) invoke(ctx context.Context, e Event, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			if b.config.panicHandler != nil {
				stack := capturePanicStack()
				func() {
					defer func() { _ = recover() }()
					b.config.panicHandler(e, r, stack)
				}()
			}
		}
	}()

	if err := sub.handler.Handle(ctx, e); err != nil {
		b.errors.Add(1)
		return
	}
	b.delivered.Add(1)
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsPublished:     b.published.Load(),
		EventsDelivered:     b.delivered.Load(),
		EventsDropped:       b.dropped.Load(),
		HandlerErrors:       b.errors.Load(),
		HandlerPanics:       b.panics.Load(),
		ActiveSubscriptions: b.registry.countActive(),
		QueueDepth:          b.dispatcher.depth(),
	}
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.registry.clear()
}
