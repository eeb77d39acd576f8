package conductor

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent(EventTypeModuleStarted, "lifecycle-coordinator", map[string]interface{}{
		"module": "audio-capture",
	}, map[string]interface{}{
		"sessionid": "abc",
	})

	assert.Equal(t, EventTypeModuleStarted, event.Type())
	assert.Equal(t, "lifecycle-coordinator", event.Source())
	assert.Equal(t, cloudevents.VersionV1, event.SpecVersion())
	assert.False(t, event.Time().IsZero())

	// IDs are UUIDs and unique across events.
	_, err := uuid.Parse(event.ID())
	require.NoError(t, err)
	other := NewCloudEvent(EventTypeModuleStarted, "lifecycle-coordinator", nil, nil)
	assert.NotEqual(t, event.ID(), other.ID())

	ext := event.Extensions()
	assert.Equal(t, "abc", ext["sessionid"])

	require.NoError(t, ValidateCloudEvent(event))
}

func TestValidateCloudEventRejectsIncomplete(t *testing.T) {
	event := cloudevents.NewEvent()
	// Missing id, source and type.
	err := ValidateCloudEvent(event)
	assert.Error(t, err)
}

func TestFunctionalObserver(t *testing.T) {
	var seen cloudevents.Event
	observer := NewFunctionalObserver("fn-observer", func(ctx context.Context, event cloudevents.Event) error {
		seen = event
		return nil
	})

	assert.Equal(t, "fn-observer", observer.ObserverID())

	event := NewCloudEvent(EventTypeHealthReport, "health-monitor", nil, nil)
	require.NoError(t, observer.OnEvent(context.Background(), event))
	assert.Equal(t, EventTypeHealthReport, seen.Type())
}
