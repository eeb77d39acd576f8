package conductor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// LifecycleResult aggregates the outcome of one lifecycle phase across all
// modules. A failure in one module does not abort the phase: modules on
// independent dependency branches still get their turn, and only the
// failed module's dependents are skipped.
type LifecycleResult struct {
	// Succeeded lists modules the phase completed for, in execution order.
	Succeeded []string

	// Failed maps a module ID to the error its lifecycle call returned.
	Failed map[string]error

	// Skipped lists modules that were not attempted because a module they
	// depend on (directly or transitively) failed.
	Skipped []string
}

// Err returns nil when every attempted module succeeded, otherwise an
// error summarizing the failures.
func (r *LifecycleResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, r.Failed[id]))
	}
	return fmt.Errorf("lifecycle phase failed for %d module(s): %s", len(ids), strings.Join(parts, "; "))
}

// observerRegistration holds one registered observer with its event-type
// filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// LifecycleCoordinator drives registered modules through their lifecycle
// in dependency order and is the canonical Subject for out-of-band
// announcements.
//
// The coordinator owns the registry, the dependency container, the typed
// event bus and the recovery manager; embedding applications reach them
// through the accessor methods. Lifecycle phases are serialized: Init,
// Start, Stop and Shutdown never run concurrently with each other.
type LifecycleCoordinator struct {
	config    *CoreConfig
	logger    Logger
	registry  *ModuleRegistry
	container *DependencyContainer
	bus       *TypedEventBus
	recovery  *ErrorRecoveryManager

	observerMutex sync.RWMutex
	observers     map[string]*observerRegistration

	phaseMutex sync.Mutex
}

// NewLifecycleCoordinator assembles a coordination core: registry,
// container, priority event bus and recovery manager, all sharing the
// given config and logger. A nil config selects defaults.
func NewLifecycleCoordinator(config *CoreConfig, logger Logger) (*LifecycleCoordinator, error) {
	if config == nil {
		config = NewCoreConfig()
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	bus, err := NewEventBus(config, logger)
	if err != nil {
		return nil, err
	}

	c := &LifecycleCoordinator{
		config:    config,
		logger:    logger,
		registry:  NewModuleRegistry(logger),
		container: NewDependencyContainer(),
		bus:       NewTypedEventBus(bus),
		recovery:  NewErrorRecoveryManager(config, logger),
		observers: make(map[string]*observerRegistration),
	}
	c.recovery.SetSubject(c)
	c.recovery.SetRestartFunc(c.restartModule)

	// Modules resolve the core's own services from the container like any
	// other shared service.
	if err := RegisterSingleton(c.container, c.bus); err != nil {
		return nil, err
	}
	if err := RegisterSingleton(c.container, c.recovery); err != nil {
		return nil, err
	}
	if logger != nil {
		if err := RegisterSingleton[Logger](c.container, logger); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry returns the module registry.
func (c *LifecycleCoordinator) Registry() *ModuleRegistry { return c.registry }

// Container returns the dependency container shared with modules.
func (c *LifecycleCoordinator) Container() *DependencyContainer { return c.container }

// Bus returns the typed event bus.
func (c *LifecycleCoordinator) Bus() *TypedEventBus { return c.bus }

// Recovery returns the error recovery manager.
func (c *LifecycleCoordinator) Recovery() *ErrorRecoveryManager { return c.recovery }

// RegisterModule registers a module with the registry and announces it.
// Registration order does not matter; dependency order is computed at
// Init time.
func (c *LifecycleCoordinator) RegisterModule(module Module) error {
	if err := c.registry.Register(module); err != nil {
		return err
	}
	c.emitEvent(EventTypeModuleRegistered, map[string]interface{}{
		"module":  module.ID(),
		"name":    module.Name(),
		"version": module.Version(),
	})
	return nil
}

// Init initializes all registered modules in dependency order. A module
// whose Init fails is marked Failed; its dependents are skipped, but
// modules on independent branches are still initialized. The returned
// result always reflects every module; the error is result.Err().
func (c *LifecycleCoordinator) Init(ctx context.Context) (*LifecycleResult, error) {
	c.phaseMutex.Lock()
	defer c.phaseMutex.Unlock()

	order, err := c.registry.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Failed: make(map[string]error)}
	blocked := make(map[string]bool)

	for _, id := range order {
		if c.isBlocked(id, blocked) {
			blocked[id] = true
			result.Skipped = append(result.Skipped, id)
			if c.logger != nil {
				c.logger.Warn("Skipping module init, dependency failed", "module", id)
			}
			continue
		}

		module, ok := c.registry.Module(id)
		if !ok {
			continue
		}
		if err := module.Init(ctx, c.container); err != nil {
			wrapped := fmt.Errorf("failed to initialize module %s: %w", id, err)
			_ = c.registry.MarkFailed(id, wrapped)
			c.recovery.HandleModuleError(id, err)
			blocked[id] = true
			result.Failed[id] = wrapped
			c.emitEvent(EventTypeModuleFailed, map[string]interface{}{
				"module": id,
				"phase":  "init",
				"error":  err.Error(),
			})
			if c.logger != nil {
				c.logger.Error("Module initialization failed", "module", id, "error", err)
			}
			continue
		}

		_ = c.registry.UpdateModuleState(id, ModuleStateInitialized)
		result.Succeeded = append(result.Succeeded, id)
		c.emitEvent(EventTypeModuleInitialized, map[string]interface{}{"module": id})
		if c.logger != nil {
			c.logger.Debug("Module initialized", "module", id)
		}
	}

	return result, result.Err()
}

// Start starts the event bus and then every Initialized module in
// dependency order. Modules that do not implement Startable transition
// straight to Started. Failures follow the same skip policy as Init.
func (c *LifecycleCoordinator) Start(ctx context.Context) (*LifecycleResult, error) {
	c.phaseMutex.Lock()
	defer c.phaseMutex.Unlock()

	if c.bus.Bus().State() != BusRunning {
		if err := c.bus.Bus().Start(ctx); err != nil {
			return nil, err
		}
	}

	order, err := c.registry.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Failed: make(map[string]error)}
	blocked := make(map[string]bool)

	for _, id := range order {
		info, err := c.registry.GetModuleInfo(id)
		if err != nil {
			continue
		}
		if info.State != ModuleStateInitialized {
			blocked[id] = info.State == ModuleStateFailed
			continue
		}
		if c.isBlocked(id, blocked) {
			blocked[id] = true
			result.Skipped = append(result.Skipped, id)
			continue
		}

		module, _ := c.registry.Module(id)
		if startable, ok := module.(Startable); ok {
			if err := startable.Start(ctx); err != nil {
				wrapped := fmt.Errorf("failed to start module %s: %w", id, err)
				_ = c.registry.MarkFailed(id, wrapped)
				c.recovery.HandleModuleError(id, err)
				blocked[id] = true
				result.Failed[id] = wrapped
				c.emitEvent(EventTypeModuleFailed, map[string]interface{}{
					"module": id,
					"phase":  "start",
					"error":  err.Error(),
				})
				if c.logger != nil {
					c.logger.Error("Module start failed", "module", id, "error", err)
				}
				continue
			}
		}

		_ = c.registry.UpdateModuleState(id, ModuleStateStarted)
		result.Succeeded = append(result.Succeeded, id)
		c.emitEvent(EventTypeModuleStarted, map[string]interface{}{"module": id})
	}

	c.emitEvent(EventTypeCoordinatorStarted, map[string]interface{}{
		"modules": len(result.Succeeded),
		"failed":  len(result.Failed),
		"skipped": len(result.Skipped),
	})
	return result, result.Err()
}

// Stop stops Started modules in reverse dependency order so dependents
// stop before the services they rely on, then stops the event bus. Each
// module's Stop runs under the configured shutdown timeout. Stop keeps
// going after individual failures so every module gets its chance to
// stop.
func (c *LifecycleCoordinator) Stop(ctx context.Context) (*LifecycleResult, error) {
	c.phaseMutex.Lock()
	defer c.phaseMutex.Unlock()
	return c.stopLocked(ctx)
}

func (c *LifecycleCoordinator) stopLocked(ctx context.Context) (*LifecycleResult, error) {
	order, err := c.registry.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Failed: make(map[string]error)}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		info, err := c.registry.GetModuleInfo(id)
		if err != nil || info.State != ModuleStateStarted {
			continue
		}

		module, _ := c.registry.Module(id)
		if stoppable, ok := module.(Stoppable); ok {
			stopCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
			err := stoppable.Stop(stopCtx)
			cancel()
			if err != nil {
				wrapped := fmt.Errorf("failed to stop module %s: %w", id, err)
				_ = c.registry.MarkFailed(id, wrapped)
				result.Failed[id] = wrapped
				if c.logger != nil {
					c.logger.Error("Module stop failed", "module", id, "error", err)
				}
				continue
			}
		}

		_ = c.registry.UpdateModuleState(id, ModuleStateStopped)
		result.Succeeded = append(result.Succeeded, id)
		c.emitEvent(EventTypeModuleStopped, map[string]interface{}{"module": id})
	}

	if c.bus.Bus().State() == BusRunning {
		if err := c.bus.Bus().Stop(); err != nil && c.logger != nil {
			c.logger.Error("Failed to stop event bus", "error", err)
		}
	}

	c.emitEvent(EventTypeCoordinatorStopped, map[string]interface{}{
		"modules": len(result.Succeeded),
	})
	return result, result.Err()
}

// Shutdown stops any still-running modules, then gives Shutdownable
// modules their final lifecycle call in reverse dependency order. After
// Shutdown the coordinator should be discarded.
func (c *LifecycleCoordinator) Shutdown(ctx context.Context) (*LifecycleResult, error) {
	c.phaseMutex.Lock()
	defer c.phaseMutex.Unlock()

	stopResult, err := c.stopLocked(ctx)
	if stopResult == nil {
		return nil, err
	}

	order, orderErr := c.registry.TopologicalOrder()
	if orderErr != nil {
		return stopResult, orderErr
	}

	result := &LifecycleResult{Failed: make(map[string]error)}
	for id, failure := range stopResult.Failed {
		result.Failed[id] = failure
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		module, ok := c.registry.Module(id)
		if !ok {
			continue
		}
		shutdownable, ok := module.(Shutdownable)
		if !ok {
			continue
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
		err := shutdownable.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			result.Failed[id] = fmt.Errorf("failed to shut down module %s: %w", id, err)
			if c.logger != nil {
				c.logger.Error("Module shutdown failed", "module", id, "error", err)
			}
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
		c.emitEvent(EventTypeModuleShutdown, map[string]interface{}{"module": id})
	}

	return result, result.Err()
}

// restartModule is the recovery manager's restart hook: it stops the
// module if running, re-initializes it and starts it again.
func (c *LifecycleCoordinator) restartModule(ctx context.Context, id string) error {
	c.phaseMutex.Lock()
	defer c.phaseMutex.Unlock()

	module, ok := c.registry.Module(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	info, err := c.registry.GetModuleInfo(id)
	if err != nil {
		return err
	}
	if info.State == ModuleStateStarted {
		if stoppable, ok := module.(Stoppable); ok {
			stopCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
			err := stoppable.Stop(stopCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to stop module %s for restart: %w", id, err)
			}
		}
	}

	if err := module.Init(ctx, c.container); err != nil {
		wrapped := fmt.Errorf("failed to re-initialize module %s: %w", id, err)
		_ = c.registry.MarkFailed(id, wrapped)
		return wrapped
	}
	_ = c.registry.UpdateModuleState(id, ModuleStateInitialized)

	if startable, ok := module.(Startable); ok {
		if err := startable.Start(ctx); err != nil {
			wrapped := fmt.Errorf("failed to restart module %s: %w", id, err)
			_ = c.registry.MarkFailed(id, wrapped)
			return wrapped
		}
	}
	_ = c.registry.UpdateModuleState(id, ModuleStateStarted)
	c.emitEvent(EventTypeModuleStarted, map[string]interface{}{"module": id, "restart": true})
	return nil
}

// isBlocked reports whether any of the module's direct dependencies is in
// the blocked set. Transitive blocking falls out of processing modules in
// topological order: a blocked module is itself added to the set.
func (c *LifecycleCoordinator) isBlocked(id string, blocked map[string]bool) bool {
	info, err := c.registry.GetModuleInfo(id)
	if err != nil {
		return false
	}
	for _, dep := range info.Dependencies {
		if blocked[dep] {
			return true
		}
	}
	return false
}

// RegisterObserver adds an observer, optionally filtered to the given
// event types. An empty filter receives all events.
func (c *LifecycleCoordinator) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	c.observerMutex.Lock()
	defer c.observerMutex.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}
	c.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	if c.logger != nil {
		c.logger.Info("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	}
	return nil
}

// UnregisterObserver removes an observer. Idempotent: unknown observers
// are not an error.
func (c *LifecycleCoordinator) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	c.observerMutex.Lock()
	defer c.observerMutex.Unlock()

	if _, exists := c.observers[observer.ObserverID()]; exists {
		delete(c.observers, observer.ObserverID())
		if c.logger != nil {
			c.logger.Info("Observer unregistered", "observerID", observer.ObserverID())
		}
	}
	return nil
}

// NotifyObservers sends a CloudEvent to all matching observers. Each
// observer is notified on its own goroutine so a slow or panicking
// observer cannot block the caller or its peers.
func (c *LifecycleCoordinator) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		if c.logger != nil {
			c.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		}
		return err
	}

	c.observerMutex.RLock()
	defer c.observerMutex.RUnlock()

	for _, registration := range c.observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		registration := registration
		go func() {
			defer func() {
				if r := recover(); r != nil && c.logger != nil {
					c.logger.Error("Observer panicked", "observerID", registration.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil && c.logger != nil {
				c.logger.Error("Observer error", "observerID", registration.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

// GetObservers returns information about registered observers.
func (c *LifecycleCoordinator) GetObservers() []ObserverInfo {
	c.observerMutex.RLock()
	defer c.observerMutex.RUnlock()

	infos := make([]ObserverInfo, 0, len(c.observers))
	for id, registration := range c.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		infos = append(infos, ObserverInfo{
			ID:           id,
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// emitEvent builds and sends a coordination-core CloudEvent.
func (c *LifecycleCoordinator) emitEvent(eventType string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, "lifecycle-coordinator", data, nil)
	if err := c.NotifyObservers(context.Background(), event); err != nil && c.logger != nil {
		c.logger.Debug("Failed to notify observers", "eventType", eventType, "error", err)
	}
}
