package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deviceFailure struct {
	Device string
}

func newTestTypedBus(t *testing.T) *TypedEventBus {
	t.Helper()
	bus, err := NewEventBus(NewCoreConfig(), &mockLogger{})
	require.NoError(t, err)
	return NewTypedEventBus(bus)
}

func TestSubscribeToReceivesTypedPayload(t *testing.T) {
	tb := newTestTypedBus(t)
	require.NoError(t, tb.Bus().Start(context.Background()))
	defer func() { require.NoError(t, tb.Bus().Stop()) }()

	received := make(chan deviceFailure, 1)
	_, err := SubscribeTo(tb, func(ctx context.Context, event Event, payload deviceFailure) error {
		received <- payload
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tb.Publish(PriorityCritical, deviceFailure{Device: "mic0"}))

	select {
	case got := <-received:
		assert.Equal(t, "mic0", got.Device)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed dispatch")
	}
}

func TestSubscribeToNilHandler(t *testing.T) {
	tb := newTestTypedBus(t)

	_, err := SubscribeTo[deviceFailure](tb, nil)
	assert.ErrorIs(t, err, ErrEventHandlerNil)
}

func TestSubscribeToExactTypeOnly(t *testing.T) {
	tb := newTestTypedBus(t)
	require.NoError(t, tb.Bus().Start(context.Background()))
	defer func() { require.NoError(t, tb.Bus().Stop()) }()

	values := make(chan deviceFailure, 1)
	_, err := SubscribeTo(tb, func(ctx context.Context, event Event, payload deviceFailure) error {
		values <- payload
		return nil
	})
	require.NoError(t, err)

	// A pointer to the type is a different dynamic type and must not
	// match.
	require.NoError(t, tb.Publish(PriorityNormal, &deviceFailure{Device: "ptr"}))
	require.NoError(t, tb.Publish(PriorityNormal, deviceFailure{Device: "value"}))

	select {
	case got := <-values:
		assert.Equal(t, "value", got.Device)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestModuleGroups(t *testing.T) {
	tb := newTestTypedBus(t)

	handler := func(ctx context.Context, event Event, payload deviceFailure) error { return nil }

	id1, err := SubscribeForModule(tb, "audio-capture", handler)
	require.NoError(t, err)
	id2, err := SubscribeForModule(tb, "audio-capture", handler)
	require.NoError(t, err)
	id3, err := SubscribeForModule(tb, "ui", handler)
	require.NoError(t, err)

	assert.Equal(t, []uint64{id1, id2}, tb.ModuleSubscriptions("audio-capture"))
	assert.Equal(t, []uint64{id3}, tb.ModuleSubscriptions("ui"))
	assert.ElementsMatch(t, []string{"audio-capture", "ui"}, tb.Modules())
	assert.Equal(t, 3, tb.Bus().ActiveSubscriptions())

	require.NoError(t, tb.UnsubscribeModule("audio-capture"))
	assert.Empty(t, tb.ModuleSubscriptions("audio-capture"))
	assert.Equal(t, 1, tb.Bus().ActiveSubscriptions())

	// Bulk detach of a module that never subscribed is a no-op.
	require.NoError(t, tb.UnsubscribeModule("never-registered"))
}

func TestTypedUnsubscribeDetachesFromGroup(t *testing.T) {
	tb := newTestTypedBus(t)

	handler := func(ctx context.Context, event Event, payload deviceFailure) error { return nil }
	id, err := SubscribeForModule(tb, "audio-capture", handler)
	require.NoError(t, err)

	require.NoError(t, tb.Unsubscribe(id))
	assert.Empty(t, tb.ModuleSubscriptions("audio-capture"))
	assert.Empty(t, tb.Modules())

	err = tb.Unsubscribe(id)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
}
