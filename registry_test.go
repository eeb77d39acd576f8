package conductor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	module := &testModule{id: "audio-capture"}
	require.NoError(t, registry.Register(module))
	assert.True(t, registry.IsRegistered("audio-capture"))

	info, err := registry.GetModuleInfo("audio-capture")
	require.NoError(t, err)
	assert.Equal(t, "audio-capture", info.ID)
	assert.Equal(t, ModuleStateRegistered, info.State)
	assert.False(t, info.RegisteredAt.IsZero())

	err = registry.Register(&testModule{id: "audio-capture"})
	assert.ErrorIs(t, err, ErrModuleAlreadyRegistered)
}

func TestRegistryRegisterValidation(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	err := registry.Register(&testModule{id: ""})
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	// Self-dependency is a cycle of length one.
	err = registry.Register(&testModule{id: "a", deps: []string{"a"}})
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestRegistryDirectCycleRejected(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	// Registering A with a dependency on an unregistered B is allowed;
	// the gap surfaces in CheckDependencies and TopologicalOrder.
	require.NoError(t, registry.Register(&testModule{id: "a", deps: []string{"b"}}))

	// B depending back on A closes the cycle and must be rejected, so B
	// is never registered.
	err := registry.Register(&testModule{id: "b", deps: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.False(t, registry.IsRegistered("b"))
	assert.True(t, registry.IsRegistered("a"))
}

func TestRegistryTransitiveCycleRejected(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	require.NoError(t, registry.Register(&testModule{id: "a", deps: []string{"b"}}))
	require.NoError(t, registry.Register(&testModule{id: "b", deps: []string{"c"}}))

	err := registry.Register(&testModule{id: "c", deps: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.False(t, registry.IsRegistered("c"))
}

func TestRegistryCheckDependencies(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	require.NoError(t, registry.Register(&testModule{id: "base"}))
	require.NoError(t, registry.Register(&testModule{id: "ui", deps: []string{"base", "theme"}}))

	statuses, err := registry.CheckDependencies("ui")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := make(map[string]bool)
	for _, s := range statuses {
		byID[s.ModuleID] = s.Satisfied
	}
	// base is registered but not yet started, theme is absent entirely;
	// neither satisfies the dependency.
	assert.False(t, byID["base"])
	assert.False(t, byID["theme"])

	require.NoError(t, registry.UpdateModuleState("base", ModuleStateStarted))
	statuses, err = registry.CheckDependencies("ui")
	require.NoError(t, err)
	for _, s := range statuses {
		if s.ModuleID == "base" {
			assert.True(t, s.Satisfied)
		}
	}

	_, err = registry.CheckDependencies("missing")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestRegistryStateTracking(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})
	require.NoError(t, registry.Register(&testModule{id: "m"}))

	require.NoError(t, registry.UpdateModuleState("m", ModuleStateInitialized))
	info, err := registry.GetModuleInfo("m")
	require.NoError(t, err)
	assert.Equal(t, ModuleStateInitialized, info.State)
	assert.Empty(t, info.StateReason)

	require.NoError(t, registry.MarkFailed("m", errors.New("device vanished")))
	info, err = registry.GetModuleInfo("m")
	require.NoError(t, err)
	assert.Equal(t, ModuleStateFailed, info.State)
	assert.Contains(t, info.StateReason, "device vanished")

	// Recovering out of Failed clears the reason.
	require.NoError(t, registry.UpdateModuleState("m", ModuleStateInitialized))
	info, err = registry.GetModuleInfo("m")
	require.NoError(t, err)
	assert.Empty(t, info.StateReason)

	err = registry.UpdateModuleState("missing", ModuleStateStarted)
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestRegistryTopologicalOrder(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})

	require.NoError(t, registry.Register(&testModule{id: "platform"}))
	require.NoError(t, registry.Register(&testModule{id: "audio", deps: []string{"platform"}}))
	require.NoError(t, registry.Register(&testModule{id: "pitch", deps: []string{"audio"}}))
	require.NoError(t, registry.Register(&testModule{id: "ui", deps: []string{"platform", "pitch"}}))

	order, err := registry.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["platform"], pos["audio"])
	assert.Less(t, pos["audio"], pos["pitch"])
	assert.Less(t, pos["pitch"], pos["ui"])
}

func TestRegistryTopologicalOrderMissingDependency(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})
	require.NoError(t, registry.Register(&testModule{id: "ui", deps: []string{"ghost"}}))

	_, err := registry.TopologicalOrder()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestRegistryModuleInfosCopies(t *testing.T) {
	registry := NewModuleRegistry(&mockLogger{})
	require.NoError(t, registry.Register(&testModule{id: "m"}))

	infos := registry.ModuleInfos()
	require.Len(t, infos, 1)
	infos[0].State = ModuleStateFailed

	fresh, err := registry.GetModuleInfo("m")
	require.NoError(t, err)
	assert.Equal(t, ModuleStateRegistered, fresh.State)
}
