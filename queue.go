package conductor

import (
	"fmt"
)

// Queue capacity bounds. A zero capacity selects the default; anything
// above the hard cap is rejected at construction time.
const (
	DefaultQueueCapacity = 10000
	MaxQueueCapacity     = 50000
)

// EventQueueSet holds four capacity-bounded FIFO queues, one per priority.
// Pushing to a full queue is rejected with ErrQueueFull; the set never
// silently drops events and never grows beyond the configured capacity.
//
// Each queue is a buffered channel, which gives FIFO ordering and makes
// push and pop safe for concurrent callers without an additional lock.
type EventQueueSet struct {
	queues   [numPriorities]chan Event
	capacity int
}

// NewEventQueueSet creates a queue set with the given per-priority
// capacity. A non-positive capacity selects DefaultQueueCapacity.
func NewEventQueueSet(capacity int) (*EventQueueSet, error) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if capacity > MaxQueueCapacity {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d", ErrConfigInvalidCapacity, capacity, MaxQueueCapacity)
	}

	qs := &EventQueueSet{capacity: capacity}
	for i := range qs.queues {
		qs.queues[i] = make(chan Event, capacity)
	}
	return qs, nil
}

// Capacity returns the configured per-priority capacity.
func (qs *EventQueueSet) Capacity() int {
	return qs.capacity
}

// Push enqueues an event into the queue matching its priority. It returns
// ErrQueueFull if that queue is at capacity; other priorities are
// unaffected. Push never blocks.
func (qs *EventQueueSet) Push(event Event) error {
	p := event.Priority
	if p < PriorityCritical || p > PriorityLow {
		p = PriorityNormal
		event.Priority = p
	}

	select {
	case qs.queues[p] <- event:
		return nil
	default:
		return fmt.Errorf("%w: priority %s at capacity %d", ErrQueueFull, p, qs.capacity)
	}
}

// Pop dequeues the head of the highest-priority non-empty queue. The
// second return value reports whether an event was available.
func (qs *EventQueueSet) Pop() (Event, bool) {
	for p := PriorityCritical; p <= PriorityLow; p++ {
		select {
		case event := <-qs.queues[p]:
			return event, true
		default:
		}
	}
	return Event{}, false
}

// Depth returns the number of queued events for one priority.
func (qs *EventQueueSet) Depth(p Priority) int {
	if p < PriorityCritical || p > PriorityLow {
		return 0
	}
	return len(qs.queues[p])
}

// Depths returns the queued event count for every priority, indexed by
// Priority value.
func (qs *EventQueueSet) Depths() [4]int {
	var depths [4]int
	for i := range qs.queues {
		depths[i] = len(qs.queues[i])
	}
	return depths
}

// Len returns the total number of queued events across all priorities.
func (qs *EventQueueSet) Len() int {
	total := 0
	for i := range qs.queues {
		total += len(qs.queues[i])
	}
	return total
}
