package conductor

import (
	"fmt"
	"reflect"
	"sync"
)

// DependencyContainer is a type-keyed IoC registry used by modules to
// obtain shared services. It is independent of the module graph: anything
// can register and resolve services regardless of lifecycle state.
//
// Singletons return the same instance on every resolve; transients invoke
// their factory on every resolve. Resolving an unregistered type returns
// ErrServiceNotRegistered, never a panic.
type DependencyContainer struct {
	mutex      sync.RWMutex
	singletons map[reflect.Type]any
	factories  map[reflect.Type]func() (any, error)
}

// NewDependencyContainer creates an empty container.
func NewDependencyContainer() *DependencyContainer {
	return &DependencyContainer{
		singletons: make(map[reflect.Type]any),
		factories:  make(map[reflect.Type]func() (any, error)),
	}
}

// RegisterSingleton stores one shared instance under the type T. T may be
// an interface type, in which case any resolve of that interface returns
// this instance.
func RegisterSingleton[T any](c *DependencyContainer, instance T) error {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if isNilValue(instance) {
		return fmt.Errorf("%w: %s", ErrServiceNil, key)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.registeredLocked(key) {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, key)
	}
	c.singletons[key] = instance
	return nil
}

// RegisterTransient stores a factory under the type T; each resolve
// invokes the factory and returns a fresh instance.
func RegisterTransient[T any](c *DependencyContainer, factory func() (T, error)) error {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrServiceFactoryNil, key)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.registeredLocked(key) {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, key)
	}
	c.factories[key] = func() (any, error) {
		return factory()
	}
	return nil
}

// Resolve returns the service registered under the type T.
func Resolve[T any](c *DependencyContainer) (T, error) {
	var zero T
	key := reflect.TypeOf((*T)(nil)).Elem()

	instance, err := c.ResolveType(key)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		// Factories are registered through the typed API, so a mismatch
		// here indicates container corruption rather than caller error.
		return zero, fmt.Errorf("%w: stored %T under key %s", ErrServiceNotRegistered, instance, key)
	}
	return typed, nil
}

// IsRegistered reports whether a service is registered under the type T.
func IsRegistered[T any](c *DependencyContainer) bool {
	key := reflect.TypeOf((*T)(nil)).Elem()

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.registeredLocked(key)
}

// ResolveType is the runtime-typed variant of Resolve for callers that
// only hold a reflect.Type token.
func (c *DependencyContainer) ResolveType(key reflect.Type) (any, error) {
	c.mutex.RLock()
	instance, isSingleton := c.singletons[key]
	factory, isTransient := c.factories[key]
	c.mutex.RUnlock()

	switch {
	case isSingleton:
		return instance, nil
	case isTransient:
		fresh, err := factory()
		if err != nil {
			return nil, fmt.Errorf("service factory for %s failed: %w", key, err)
		}
		return fresh, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrServiceNotRegistered, key)
	}
}

// RegisteredTypes returns the type keys currently registered, in no
// particular order.
func (c *DependencyContainer) RegisteredTypes() []reflect.Type {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	types := make([]reflect.Type, 0, len(c.singletons)+len(c.factories))
	for key := range c.singletons {
		types = append(types, key)
	}
	for key := range c.factories {
		types = append(types, key)
	}
	return types
}

func (c *DependencyContainer) registeredLocked(key reflect.Type) bool {
	_, singleton := c.singletons[key]
	_, transient := c.factories[key]
	return singleton || transient
}

// isNilValue reports whether an interface value wraps a nil pointer,
// map, slice, channel or function.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
