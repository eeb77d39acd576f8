package conductor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// BusState is the lifecycle state of an EventBus.
type BusState int32

const (
	BusStopped BusState = iota
	BusStarting
	BusRunning
	BusStopping
)

// String returns the human-readable name of the bus state.
func (s BusState) String() string {
	switch s {
	case BusStopped:
		return "stopped"
	case BusStarting:
		return "starting"
	case BusRunning:
		return "running"
	case BusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BusMetrics is a snapshot of the bus's counters. Safe to request from any
// goroutine at any time.
type BusMetrics struct {
	// TotalEventsProcessed counts events fully dispatched, including
	// events whose handlers returned errors.
	TotalEventsProcessed uint64 `json:"totalEventsProcessed"`

	// HandlerErrors counts handler invocations that returned an error or
	// panicked.
	HandlerErrors uint64 `json:"handlerErrors"`

	// QueueDepths holds the current queued event count per priority,
	// indexed by Priority value.
	QueueDepths [4]int `json:"queueDepths"`

	// AverageLatency holds the moving-average publish-to-dispatch latency
	// per priority. The average is updated as (prev+new)/2, which biases
	// toward recent samples rather than computing a true mean.
	AverageLatency [4]time.Duration `json:"averageLatency"`

	// ActiveSubscriptions is the number of currently registered handlers.
	ActiveSubscriptions int `json:"activeSubscriptions"`
}

// subscription is one registered handler. Registration order within a type
// is preserved and is the dispatch order.
type subscription struct {
	id      uint64
	token   reflect.Type
	handler EventHandler
}

// EventBus routes published events to handlers registered for the exact
// dynamic type of the event payload. Events are queued by priority and
// drained by a single background worker, highest priority first.
//
// Publish, Subscribe, Unsubscribe and Metrics may be called concurrently
// from any goroutine. The queue set, the handler registry and the metrics
// have independent synchronization so callers never contend on a single
// global lock, and publishing never blocks on dispatch.
type EventBus struct {
	config *CoreConfig
	logger Logger

	queues *EventQueueSet

	handlerMutex sync.RWMutex
	handlers     map[reflect.Type][]*subscription
	subIndex     map[uint64]reflect.Type
	nextSubID    atomic.Uint64

	stateMutex sync.Mutex
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	metricsMutex   sync.Mutex
	totalProcessed uint64
	handlerErrors  uint64
	avgLatency     [4]time.Duration
}

// NewEventBus creates a stopped bus with the given configuration. A nil
// config selects defaults.
func NewEventBus(config *CoreConfig, logger Logger) (*EventBus, error) {
	if config == nil {
		config = NewCoreConfig()
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	queues, err := NewEventQueueSet(config.QueueCapacity)
	if err != nil {
		return nil, err
	}

	return &EventBus{
		config:   config,
		logger:   logger,
		queues:   queues,
		handlers: make(map[reflect.Type][]*subscription),
		subIndex: make(map[uint64]reflect.Type),
		wake:     make(chan struct{}, 1),
	}, nil
}

// State returns the bus's current lifecycle state.
func (b *EventBus) State() BusState {
	return BusState(b.state.Load())
}

// Start transitions the bus to Running and launches the dispatch worker.
// Starting a bus that is not fully stopped fails with ErrBusAlreadyRunning.
func (b *EventBus) Start(ctx context.Context) error {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if b.State() != BusStopped {
		return fmt.Errorf("%w: state %s", ErrBusAlreadyRunning, b.State())
	}
	b.state.Store(int32(BusStarting))

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	b.state.Store(int32(BusRunning))
	go b.run()

	if b.logger != nil {
		b.logger.Info("Event bus started", "queueCapacity", b.queues.Capacity(), "pollInterval", b.config.ProcessingInterval)
	}
	return nil
}

// Stop signals the dispatch worker and blocks until it has exited. Events
// still queued when the worker observes the stop signal stay queued and
// are dispatched after a subsequent Start. Stopping a bus that is not
// Running fails with ErrBusNotRunning.
func (b *EventBus) Stop() error {
	b.stateMutex.Lock()
	defer b.stateMutex.Unlock()

	if b.State() != BusRunning {
		return fmt.Errorf("%w: state %s", ErrBusNotRunning, b.State())
	}
	b.state.Store(int32(BusStopping))

	b.cancel()
	<-b.done

	b.state.Store(int32(BusStopped))
	if b.logger != nil {
		b.logger.Info("Event bus stopped", "remainingEvents", b.queues.Len())
	}
	return nil
}

// Publish enqueues an event into the queue matching its priority. It
// fails with ErrBusNotRunning unless the bus is Running and with
// ErrQueueFull if that priority's queue is at capacity. Publish never
// blocks waiting for a consumer.
func (b *EventBus) Publish(event Event) error {
	if b.State() != BusRunning {
		return fmt.Errorf("%w: cannot publish %q", ErrBusNotRunning, event.Type)
	}
	if event.Payload == nil {
		return ErrNilPayload
	}
	if event.Type == "" {
		event.Type = typeToken(event.Payload).String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := b.queues.Push(event); err != nil {
		return err
	}

	// Wake the worker without blocking; a pending notification is enough.
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers a handler for events whose payload has exactly the
// given dynamic type. It returns the subscription id, a process-unique
// monotonically increasing value starting at 1.
//
// Most callers should use the generic SubscribeTo helper, which derives
// the type token from the handler's signature at compile time.
func (b *EventBus) Subscribe(payloadType reflect.Type, handler EventHandler) (uint64, error) {
	if handler == nil {
		return 0, ErrEventHandlerNil
	}
	if payloadType == nil {
		return 0, ErrNilSubscriptionType
	}

	id := b.nextSubID.Add(1)
	sub := &subscription{id: id, token: payloadType, handler: handler}

	b.handlerMutex.Lock()
	b.handlers[payloadType] = append(b.handlers[payloadType], sub)
	b.subIndex[id] = payloadType
	b.handlerMutex.Unlock()

	return id, nil
}

// Unsubscribe removes the subscription with the given id. A second call
// with the same id fails with ErrInvalidSubscription.
func (b *EventBus) Unsubscribe(id uint64) error {
	b.handlerMutex.Lock()
	defer b.handlerMutex.Unlock()

	token, ok := b.subIndex[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrInvalidSubscription, id)
	}
	delete(b.subIndex, id)

	subs := b.handlers[token]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[token] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[token]) == 0 {
		delete(b.handlers, token)
	}
	return nil
}

// ActiveSubscriptions returns the number of registered handlers.
func (b *EventBus) ActiveSubscriptions() int {
	b.handlerMutex.RLock()
	defer b.handlerMutex.RUnlock()
	return len(b.subIndex)
}

// Metrics returns a snapshot of processing counters, queue depths and
// latency averages. Safe to call concurrently from any goroutine.
func (b *EventBus) Metrics() BusMetrics {
	b.metricsMutex.Lock()
	m := BusMetrics{
		TotalEventsProcessed: b.totalProcessed,
		HandlerErrors:        b.handlerErrors,
		AverageLatency:       b.avgLatency,
	}
	b.metricsMutex.Unlock()

	m.QueueDepths = b.queues.Depths()
	m.ActiveSubscriptions = b.ActiveSubscriptions()
	return m
}

// run is the dispatch loop. It drains the highest-priority non-empty
// queue one event at a time, invoking all handlers for the event's
// payload type synchronously before moving on. When all queues are empty
// it waits for a publish notification, falling back to a short poll
// interval so a missed wakeup can never stall the bus.
func (b *EventBus) run() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		event, ok := b.queues.Pop()
		if !ok {
			timer := time.NewTimer(b.config.ProcessingInterval)
			select {
			case <-b.ctx.Done():
				timer.Stop()
				return
			case <-b.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		b.dispatch(event)
	}
}

// dispatch invokes every handler registered for the event's payload type
// in registration order. Handler errors and panics are isolated: they are
// counted and logged but never stop the remaining handlers or the worker.
func (b *EventBus) dispatch(event Event) {
	token := typeToken(event.Payload)

	b.handlerMutex.RLock()
	subs := make([]*subscription, len(b.handlers[token]))
	copy(subs, b.handlers[token])
	b.handlerMutex.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, event)
	}

	latency := time.Since(event.Timestamp)

	b.metricsMutex.Lock()
	b.totalProcessed++
	prev := b.avgLatency[event.Priority]
	b.avgLatency[event.Priority] = (prev + latency) / 2
	b.metricsMutex.Unlock()
}

// invoke runs a single handler with panic isolation.
func (b *EventBus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metricsMutex.Lock()
			b.handlerErrors++
			b.metricsMutex.Unlock()
			if b.logger != nil {
				b.logger.Error("Event handler panicked", "eventType", event.Type, "subscription", sub.id, "panic", r)
			}
		}
	}()

	if err := sub.handler(b.ctx, event); err != nil {
		b.metricsMutex.Lock()
		b.handlerErrors++
		b.metricsMutex.Unlock()
		if b.logger != nil {
			b.logger.Error("Event handler failed", "eventType", event.Type, "subscription", sub.id, "error", err)
		}
	}
}
