package conductor

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audioDevice struct {
	name string
}

type deviceProvider interface {
	DeviceName() string
}

func (d *audioDevice) DeviceName() string { return d.name }

func TestContainerSingleton(t *testing.T) {
	c := NewDependencyContainer()

	device := &audioDevice{name: "mic0"}
	require.NoError(t, RegisterSingleton(c, device))

	resolved, err := Resolve[*audioDevice](c)
	require.NoError(t, err)
	assert.Same(t, device, resolved)

	// Singletons always resolve to the same instance.
	again, err := Resolve[*audioDevice](c)
	require.NoError(t, err)
	assert.Same(t, resolved, again)
}

func TestContainerSingletonInterfaceKey(t *testing.T) {
	c := NewDependencyContainer()

	device := &audioDevice{name: "mic0"}
	require.NoError(t, RegisterSingleton[deviceProvider](c, device))

	resolved, err := Resolve[deviceProvider](c)
	require.NoError(t, err)
	assert.Equal(t, "mic0", resolved.DeviceName())

	// The interface registration does not register the concrete type.
	_, err = Resolve[*audioDevice](c)
	assert.ErrorIs(t, err, ErrServiceNotRegistered)
}

func TestContainerDuplicateRegistration(t *testing.T) {
	c := NewDependencyContainer()

	require.NoError(t, RegisterSingleton(c, &audioDevice{name: "a"}))
	err := RegisterSingleton(c, &audioDevice{name: "b"})
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)

	err = RegisterTransient(c, func() (*audioDevice, error) { return &audioDevice{}, nil })
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)
}

func TestContainerNilRegistrations(t *testing.T) {
	c := NewDependencyContainer()

	err := RegisterSingleton[*audioDevice](c, nil)
	assert.ErrorIs(t, err, ErrServiceNil)

	err = RegisterTransient[*audioDevice](c, nil)
	assert.ErrorIs(t, err, ErrServiceFactoryNil)
}

func TestContainerTransient(t *testing.T) {
	c := NewDependencyContainer()

	counter := 0
	require.NoError(t, RegisterTransient(c, func() (*audioDevice, error) {
		counter++
		return &audioDevice{name: "fresh"}, nil
	}))

	first, err := Resolve[*audioDevice](c)
	require.NoError(t, err)
	second, err := Resolve[*audioDevice](c)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, counter)
}

func TestContainerResolveUnknown(t *testing.T) {
	c := NewDependencyContainer()

	_, err := Resolve[*audioDevice](c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotRegistered)
}

func TestContainerIsRegistered(t *testing.T) {
	c := NewDependencyContainer()
	assert.False(t, IsRegistered[*audioDevice](c))

	require.NoError(t, RegisterSingleton(c, &audioDevice{}))
	assert.True(t, IsRegistered[*audioDevice](c))
}

func TestContainerResolveType(t *testing.T) {
	c := NewDependencyContainer()
	device := &audioDevice{name: "mic0"}
	require.NoError(t, RegisterSingleton(c, device))

	resolved, err := c.ResolveType(reflect.TypeOf(device))
	require.NoError(t, err)
	assert.Same(t, device, resolved)

	types := c.RegisteredTypes()
	assert.Contains(t, types, reflect.TypeOf(device))
}
