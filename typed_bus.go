package conductor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// TypedEventBus layers compile-time-checked subscriptions and per-module
// subscription grouping on top of the type-erased EventBus. Subscriptions
// created through a group are tracked under the module's name so a whole
// module can be unsubscribed in one call, which is how subsystems detach
// during shutdown or quarantine.
type TypedEventBus struct {
	bus *EventBus

	groupMutex sync.Mutex
	groups     map[string][]uint64
}

// NewTypedEventBus wraps an existing EventBus.
func NewTypedEventBus(bus *EventBus) *TypedEventBus {
	return &TypedEventBus{
		bus:    bus,
		groups: make(map[string][]uint64),
	}
}

// Bus returns the underlying type-erased bus.
func (tb *TypedEventBus) Bus() *EventBus {
	return tb.bus
}

// Publish wraps the payload in an event at the given priority and
// publishes it on the underlying bus.
func (tb *TypedEventBus) Publish(priority Priority, payload any) error {
	return tb.bus.Publish(NewEvent(priority, payload))
}

// SubscribeTo registers a handler for payloads of the concrete type T.
// The type token is derived from the handler signature, so subscribing to
// the wrong payload type is a compile error rather than a silent mismatch.
// T must be a concrete type; dispatch matches the payload's exact dynamic
// type, never interfaces it happens to satisfy.
func SubscribeTo[T any](tb *TypedEventBus, handler func(ctx context.Context, event Event, payload T) error) (uint64, error) {
	if handler == nil {
		return 0, ErrEventHandlerNil
	}

	token := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, event Event) error {
		payload, ok := event.Payload.(T)
		if !ok {
			return fmt.Errorf("%w: payload %T does not match subscription type %s", ErrInvalidSubscription, event.Payload, token)
		}
		return handler(ctx, event, payload)
	}

	return tb.bus.Subscribe(token, wrapped)
}

// SubscribeForModule is SubscribeTo with the subscription recorded under
// the named module's group.
func SubscribeForModule[T any](tb *TypedEventBus, module string, handler func(ctx context.Context, event Event, payload T) error) (uint64, error) {
	id, err := SubscribeTo(tb, handler)
	if err != nil {
		return 0, err
	}

	tb.groupMutex.Lock()
	tb.groups[module] = append(tb.groups[module], id)
	tb.groupMutex.Unlock()
	return id, nil
}

// Unsubscribe removes a single subscription, detaching it from its module
// group if it belongs to one.
func (tb *TypedEventBus) Unsubscribe(id uint64) error {
	if err := tb.bus.Unsubscribe(id); err != nil {
		return err
	}

	tb.groupMutex.Lock()
	defer tb.groupMutex.Unlock()
	for module, ids := range tb.groups {
		for i, subID := range ids {
			if subID == id {
				tb.groups[module] = append(ids[:i], ids[i+1:]...)
				if len(tb.groups[module]) == 0 {
					delete(tb.groups, module)
				}
				return nil
			}
		}
	}
	return nil
}

// UnsubscribeModule removes every subscription registered under the named
// module. Unknown module names are a no-op: bulk detach runs during
// shutdown paths where the module may never have subscribed.
func (tb *TypedEventBus) UnsubscribeModule(module string) error {
	tb.groupMutex.Lock()
	ids := tb.groups[module]
	delete(tb.groups, module)
	tb.groupMutex.Unlock()

	for _, id := range ids {
		if err := tb.bus.Unsubscribe(id); err != nil {
			return fmt.Errorf("failed to unsubscribe module %q: %w", module, err)
		}
	}
	return nil
}

// ModuleSubscriptions returns the subscription ids registered under the
// named module, in registration order.
func (tb *TypedEventBus) ModuleSubscriptions(module string) []uint64 {
	tb.groupMutex.Lock()
	defer tb.groupMutex.Unlock()

	ids := make([]uint64, len(tb.groups[module]))
	copy(ids, tb.groups[module])
	return ids
}

// Modules returns the names of modules that currently hold subscriptions.
func (tb *TypedEventBus) Modules() []string {
	tb.groupMutex.Lock()
	defer tb.groupMutex.Unlock()

	modules := make([]string, 0, len(tb.groups))
	for module := range tb.groups {
		modules = append(modules, module)
	}
	return modules
}
