package event

import "sync/atomic"

// Subscription represents an active event subscription.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// Topic returns the subscribed topic pattern.
	Topic() Topic

	// IsActive returns true if the subscription can receive events.
	IsActive() bool

	// Cancel permanently cancels the subscription. Cancelling an already
	// cancelled subscription is a no-op.
	Cancel()
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// DeliveryMode specifies sync or async delivery.
	DeliveryMode DeliveryMode

	// Filter is an optional predicate. If set, events are only delivered
	// when Filter returns true.
	Filter FilterFunc

	// Once auto-cancels the subscription after the first delivery.
	Once bool
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithDeliveryMode sets the delivery mode.
func WithDeliveryMode(m DeliveryMode) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.DeliveryMode = m
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithOnce auto-cancels the subscription after its first delivery.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// subscription is the internal Subscription implementation.
type subscription struct {
	id        string
	topic     Topic
	handler   Handler
	config    SubscriptionConfig
	cancelled atomic.Bool
	claimed   atomic.Bool
}

func newSubscription(id string, t Topic, h Handler, opts ...SubscriptionOption) *subscription {
	config := SubscriptionConfig{DeliveryMode: DeliverySync}
	for _, opt := range opts {
		opt(&config)
	}

	return &subscription{
		id:      id,
		topic:   t,
		handler: h,
		config:  config,
	}
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Topic() Topic   { return s.topic }
func (s *subscription) IsActive() bool { return !s.cancelled.Load() }
func (s *subscription) Cancel()        { s.cancelled.Store(true) }

// shouldDeliver reports whether the event passes the subscription's state
// and filter. For Once subscriptions it atomically claims the single
// delivery, so at most one caller ever gets true.
func (s *subscription) shouldDeliver(e Event) bool {
	if s.cancelled.Load() {
		return false
	}
	if s.config.Filter != nil && !s.config.Filter(e) {
		return false
	}
	if s.config.Once {
		return s.claimed.CompareAndSwap(false, true)
	}
	return true
}
