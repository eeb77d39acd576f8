// Observer pattern interfaces for out-of-band lifecycle announcements.
// These use the CloudEvents specification for a standardized event format,
// keeping presentation-layer consumers decoupled from the core: the
// priority bus carries subsystem traffic, observers carry announcements
// about the core itself.
package conductor

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of coordination-core events: module state
// transitions, recovery decisions, configuration reloads. Observers should
// handle events quickly to avoid blocking other observers.
type Observer interface {
	// OnEvent is called for each event the observer is subscribed to.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// Subject is implemented by components that emit announcements. The
// LifecycleCoordinator is the canonical Subject; the recovery manager,
// config watcher and health monitor emit through it.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to the given
	// event types. An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent: unknown
	// observers are not an error.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all matching observers without
	// blocking the caller; observer errors are logged, not propagated.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes one registered observer for debugging and
// monitoring surfaces.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// CloudEvent types emitted by the core, in reverse domain notation.
const (
	// Module lifecycle events
	EventTypeModuleRegistered  = "com.conductor.module.registered"
	EventTypeModuleInitialized = "com.conductor.module.initialized"
	EventTypeModuleStarted     = "com.conductor.module.started"
	EventTypeModuleStopped     = "com.conductor.module.stopped"
	EventTypeModuleShutdown    = "com.conductor.module.shutdown"
	EventTypeModuleFailed      = "com.conductor.module.failed"

	// Recovery events
	EventTypeModuleQuarantined = "com.conductor.recovery.quarantined"
	EventTypeModuleReleased    = "com.conductor.recovery.released"
	EventTypeModuleFallback    = "com.conductor.recovery.fallback"
	EventTypeModuleRestarted   = "com.conductor.recovery.restarted"
	EventTypeRecoveryEscalated = "com.conductor.recovery.escalated"

	// Configuration events
	EventTypeConfigLoaded   = "com.conductor.config.loaded"
	EventTypeConfigReloaded = "com.conductor.config.reloaded"

	// Health events
	EventTypeHealthReport = "com.conductor.health.report"

	// Coordinator lifecycle events
	EventTypeCoordinatorStarted = "com.conductor.coordinator.started"
	EventTypeCoordinatorStopped = "com.conductor.coordinator.stopped"
)

// FunctionalObserver wraps a plain function as an Observer. Useful for
// quick observer creation without defining a struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates to the given
// function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
