package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiagnosticsServer(t *testing.T) (*LifecycleCoordinator, *httptest.Server) {
	t.Helper()
	coord := newTestCoordinator(t)
	handler := NewDiagnosticsHandler(coord, &mockLogger{})
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return coord, server
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestDiagnosticsBusEndpoint(t *testing.T) {
	coord, server := newDiagnosticsServer(t)

	var payload struct {
		State   string     `json:"state"`
		Metrics BusMetrics `json:"metrics"`
	}
	getJSON(t, server.URL+"/bus", &payload)
	assert.Equal(t, "stopped", payload.State)

	_, err := coord.Start(context.Background())
	require.NoError(t, err)
	defer func() {
		_, err := coord.Stop(context.Background())
		require.NoError(t, err)
	}()

	getJSON(t, server.URL+"/bus", &payload)
	assert.Equal(t, "running", payload.State)
}

func TestDiagnosticsModulesEndpoint(t *testing.T) {
	coord, server := newDiagnosticsServer(t)
	require.NoError(t, coord.RegisterModule(&testModule{id: "audio"}))

	var infos []ModuleInfo
	getJSON(t, server.URL+"/modules", &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "audio", infos[0].ID)
	assert.Equal(t, ModuleStateRegistered, infos[0].State)
}

func TestDiagnosticsRecoveryEndpoint(t *testing.T) {
	coord, server := newDiagnosticsServer(t)
	coord.Recovery().HandleModuleError("audio", errors.New("glitch"))

	var payload struct {
		Stats           RecoveryStats      `json:"stats"`
		Modules         []ModuleHealth     `json:"modules"`
		RecentDecisions []RecoveryDecision `json:"recentDecisions"`
	}
	getJSON(t, server.URL+"/recovery", &payload)
	assert.Equal(t, uint64(1), payload.Stats.TotalErrors)
	require.Len(t, payload.Modules, 1)
	assert.Equal(t, "audio", payload.Modules[0].ModuleID)
	require.Len(t, payload.RecentDecisions, 1)
}

func TestDiagnosticsObserversEndpoint(t *testing.T) {
	coord, server := newDiagnosticsServer(t)

	observer := NewFunctionalObserver("probe", func(ctx context.Context, event CloudEvent) error { return nil })
	require.NoError(t, coord.RegisterObserver(observer, EventTypeHealthReport))

	var infos []ObserverInfo
	getJSON(t, server.URL+"/observers", &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "probe", infos[0].ID)
	assert.Equal(t, []string{EventTypeHealthReport}, infos[0].EventTypes)
}
