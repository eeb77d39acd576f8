package conductor

import (
	"errors"
)

// Core errors
var (
	// Event bus errors
	ErrBusNotRunning       = errors.New("event bus is not running")
	ErrBusAlreadyRunning   = errors.New("event bus is already running")
	ErrQueueFull           = errors.New("event queue is full")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrEventHandlerNil     = errors.New("event handler cannot be nil")
	ErrNilPayload          = errors.New("event payload cannot be nil")
	ErrNilSubscriptionType = errors.New("subscription payload type cannot be nil")

	// Module registry errors
	ErrInvalidMetadata         = errors.New("invalid module metadata")
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrModuleNotFound          = errors.New("module not found")
	ErrModuleAlreadyRegistered = errors.New("module already registered")
	ErrDependencyMissing       = errors.New("module depends on non-existent module")

	// Recovery errors
	ErrModuleNotTracked = errors.New("module has no recorded health state")

	// Dependency container errors
	ErrServiceNotRegistered     = errors.New("service type not registered")
	ErrServiceAlreadyRegistered = errors.New("service type already registered")
	ErrServiceFactoryNil        = errors.New("service factory cannot be nil")
	ErrServiceNil               = errors.New("service instance cannot be nil")

	// Configuration errors
	ErrConfigNil               = errors.New("config is nil")
	ErrConfigUnsupportedFormat = errors.New("unsupported config file format")
	ErrConfigInvalidCapacity   = errors.New("queue capacity out of range")
	ErrConfigFieldConversion   = errors.New("failed to convert environment value for config field")

	// Observer errors
	ErrObserverNil = errors.New("observer cannot be nil")

	// Watcher / monitor errors
	ErrWatcherAlreadyRunning = errors.New("config watcher is already running")
	ErrWatcherNotRunning     = errors.New("config watcher is not running")
	ErrMonitorAlreadyRunning = errors.New("health monitor is already running")
	ErrMonitorNotRunning     = errors.New("health monitor is not running")
)
