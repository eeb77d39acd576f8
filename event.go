package conductor

import (
	"context"
	"reflect"
	"time"
)

// Priority determines which queue an event is placed in and therefore how
// soon the dispatch worker picks it up. All queued events of a higher
// priority are dispatched before any event of a lower priority.
type Priority int

const (
	// PriorityCritical is reserved for events the rest of the system cannot
	// make progress without, such as device failures and platform readiness.
	PriorityCritical Priority = iota

	// PriorityHigh is for latency-sensitive events like pitch-detection
	// results and buffer notices.
	PriorityHigh

	// PriorityNormal is the default priority for routine state updates.
	PriorityNormal

	// PriorityLow is for debug and presentation events that may wait behind
	// everything else.
	PriorityLow

	numPriorities = 4
)

// String returns the human-readable name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Event is an immutable value carried through the bus. Its identity is
// structural: there is no persistent id, and the event's lifetime spans
// publish through handler completion.
type Event struct {
	// Type is the string tag of the event, derived from the payload's
	// dynamic type unless set explicitly. Used for logging and metrics;
	// dispatch itself is keyed by the payload type token.
	Type string

	// Priority selects the queue the event is placed in.
	Priority Priority

	// Timestamp is when the event was published. The value carries Go's
	// monotonic clock reading, so latency measurements are not affected
	// by wall-clock adjustments.
	Timestamp time.Time

	// Payload is the opaque event data. Handlers are matched by the exact
	// dynamic type of this field.
	Payload any
}

// NewEvent creates an event carrying the given payload at the given
// priority. The event's Type tag is derived from the payload's dynamic
// type.
func NewEvent(priority Priority, payload any) Event {
	event := Event{
		Priority: priority,
		Payload:  payload,
	}
	// A nil payload is rejected by Publish; leave the type tag empty
	// rather than derive it from nothing.
	if payload != nil {
		event.Type = typeToken(payload).String()
	}
	return event
}

// EventHandler is a function invoked for each dispatched event whose
// payload type matches the handler's registration. Handlers run on the
// bus's dispatch goroutine; a slow handler delays subsequent events, so
// heavy work should be handed off by the handler itself.
//
// A handler error is caught, counted and logged by the bus. It never stops
// the dispatch worker or other handlers registered for the same type.
type EventHandler func(ctx context.Context, event Event) error

// typeToken returns the dispatch key for a payload value.
func typeToken(payload any) reflect.Type {
	return reflect.TypeOf(payload)
}
