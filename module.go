// Package conductor coordinates independently developed subsystems (audio
// capture, UI, platform detection) inside a single process. It provides a
// priority-ordered publish/subscribe event bus and a module supervisor
// that sequences initialization in dependency order, tracks health, and
// isolates failures.
//
// The core pieces compose bottom-up: an EventQueueSet feeds an EventBus,
// a TypedEventBus adds compile-time-checked subscriptions, a
// ModuleRegistry holds module metadata and the dependency DAG, a
// LifecycleCoordinator drives Init/Start/Stop/Shutdown across registered
// modules, a DependencyContainer shares services between them, and an
// ErrorRecoveryManager turns module faults into recovery decisions.
//
// Basic usage:
//
//	coord, err := conductor.NewLifecycleCoordinator(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	coord.RegisterModule(&AudioCaptureModule{})
//	coord.RegisterModule(&PitchAnalyzerModule{})
//	if _, err := coord.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if _, err := coord.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package conductor

import (
	"context"
	"fmt"
	"time"
)

// Module is a registrable subsystem managed by the lifecycle coordinator.
//
// A module declares its identity and is initialized, started, stopped and
// shut down by the coordinator in dependency order. Modules obtain shared
// services through the DependencyContainer passed to Init.
type Module interface {
	// ID returns the unique key for this module. It must be unique within
	// the process and stable across restarts of the module.
	ID() string

	// Name returns a human-readable name for the module.
	Name() string

	// Version returns the module's version string.
	Version() string

	// Init prepares the module for Start. It is called after all declared
	// dependencies have been initialized. Required services should be
	// resolved from the container here.
	Init(ctx context.Context, container *DependencyContainer) error
}

// DependencyAware is an optional interface for modules that depend on
// other modules. Declared dependencies are initialized and started before
// this module and stopped after it. Dependencies are matched by module ID.
type DependencyAware interface {
	// Dependencies returns the IDs of modules this module depends on.
	Dependencies() []string
}

// Startable is an optional interface for modules that perform runtime
// work. Start is called after every module has been initialized, in
// dependency order.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is an optional interface for modules that need an orderly
// stop. Stop is called in reverse dependency order so dependents stop
// before the services they rely on.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Shutdownable is an optional interface for modules that hold resources
// beyond their running state. Shutdown is called after Stop, also in
// reverse dependency order, as the final lifecycle call.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
}

// ModuleState is the lifecycle state of a registered module. States only
// move forward unless the module is explicitly restarted.
type ModuleState int

const (
	ModuleStateUnregistered ModuleState = iota
	ModuleStateRegistered
	ModuleStateInitialized
	ModuleStateStarted
	ModuleStateStopped
	ModuleStateFailed
)

// String returns the human-readable name of the state.
func (s ModuleState) String() string {
	switch s {
	case ModuleStateUnregistered:
		return "unregistered"
	case ModuleStateRegistered:
		return "registered"
	case ModuleStateInitialized:
		return "initialized"
	case ModuleStateStarted:
		return "started"
	case ModuleStateStopped:
		return "stopped"
	case ModuleStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModuleInfo is the registry's record of one module.
type ModuleInfo struct {
	// ID is the module's unique key.
	ID string `json:"id"`

	// Name is the module's human-readable name.
	Name string `json:"name"`

	// Version is the module's version string.
	Version string `json:"version"`

	// Dependencies are the IDs of modules this module depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// State is the module's current lifecycle state.
	State ModuleState `json:"state"`

	// StateReason carries the error message when State is Failed.
	StateReason string `json:"stateReason,omitempty"`

	// RegisteredAt is when the module was registered.
	RegisteredAt time.Time `json:"registeredAt"`
}

// DependencyStatus reports whether one declared dependency is ready.
type DependencyStatus struct {
	// ModuleID is the dependency's module ID.
	ModuleID string `json:"moduleId"`

	// Satisfied is true once the dependency has reached Started.
	Satisfied bool `json:"satisfied"`
}

// moduleDependencies extracts declared dependencies, tolerating modules
// that don't implement DependencyAware.
func moduleDependencies(module Module) []string {
	if aware, ok := module.(DependencyAware); ok {
		return aware.Dependencies()
	}
	return nil
}

// validateModuleMetadata rejects modules with missing identity fields.
func validateModuleMetadata(module Module) error {
	if module == nil {
		return fmt.Errorf("%w: module is nil", ErrInvalidMetadata)
	}
	if module.ID() == "" {
		return fmt.Errorf("%w: empty module id", ErrInvalidMetadata)
	}
	if module.Name() == "" {
		return fmt.Errorf("%w: empty module name for id %q", ErrInvalidMetadata, module.ID())
	}
	return nil
}
