package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a message published on the bus. Events are immutable once
// created.
type Event struct {
	// Topic is the hierarchical event type (e.g., "proc.exited").
	Topic Topic

	// Payload contains the event-specific data.
	Payload any

	// Metadata contains standard event information.
	Metadata Metadata
}

// Metadata contains standard information attached to every event.
type Metadata struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Source identifies the component that published the event.
	Source string
}

// New creates an event with the given topic and payload.
func New(t Topic, payload any, source string) Event {
	return Event{
		Topic:   t,
		Payload: payload,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Source:    source,
		},
	}
}

// NewWithMetadata creates an event with caller-supplied metadata. Missing
// metadata fields are filled in.
func NewWithMetadata(t Topic, payload any, meta Metadata) Event {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	return Event{
		Topic:    t,
		Payload:  payload,
		Metadata: meta,
	}
}
