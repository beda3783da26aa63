package event

import "context"

// DeliveryMode specifies how events are delivered to a subscription.
type DeliveryMode int

const (
	// DeliverySync executes the handler in the publisher's goroutine.
	// Use for handlers whose ordering relative to the publish matters.
	DeliverySync DeliveryMode = iota

	// DeliveryAsync queues the event for delivery on the worker pool.
	DeliveryAsync
)

// String returns a human-readable delivery mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverySync:
		return "sync"
	case DeliveryAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Handler processes events delivered to a subscription.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, e Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// FilterFunc is a predicate for filtering events.
// Return true to allow the event, false to skip it.
type FilterFunc func(e Event) bool

// PanicHandler is called when a handler panics. The stack is the goroutine
// stack captured at recovery.
type PanicHandler func(e Event, recovered any, stack []byte)

// Stats contains bus statistics.
type Stats struct {
	// EventsPublished is the total number of events published.
	EventsPublished uint64

	// EventsDelivered is the number of successful handler executions.
	EventsDelivered uint64

	// EventsDropped is the number of async deliveries dropped because the
	// queue was full.
	EventsDropped uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// ActiveSubscriptions is the current number of active subscriptions.
	ActiveSubscriptions int

	// QueueDepth is the current async queue depth.
	QueueDepth int
}
