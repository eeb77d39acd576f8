package conductor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DiagnosticsHandler exposes the core's internal state as JSON for debug
// tooling. It is strictly opt-in: nothing in the core requires a network
// surface, and embedding applications mount this router only when they
// want one.
type DiagnosticsHandler struct {
	coordinator *LifecycleCoordinator
	logger      Logger
}

// NewDiagnosticsHandler creates a diagnostics handler over the
// coordinator's components.
func NewDiagnosticsHandler(coordinator *LifecycleCoordinator, logger Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{coordinator: coordinator, logger: logger}
}

// Routes returns the diagnostics router, ready to mount under a path of
// the embedding application's choosing.
func (h *DiagnosticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/bus", h.handleBusMetrics)
	r.Get("/modules", h.handleModules)
	r.Get("/recovery", h.handleRecovery)
	r.Get("/observers", h.handleObservers)
	return r
}

func (h *DiagnosticsHandler) handleBusMetrics(w http.ResponseWriter, r *http.Request) {
	bus := h.coordinator.Bus().Bus()
	h.writeJSON(w, map[string]interface{}{
		"state":   bus.State().String(),
		"metrics": bus.Metrics(),
	})
}

func (h *DiagnosticsHandler) handleModules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.coordinator.Registry().ModuleInfos())
}

func (h *DiagnosticsHandler) handleRecovery(w http.ResponseWriter, r *http.Request) {
	recovery := h.coordinator.Recovery()
	h.writeJSON(w, map[string]interface{}{
		"stats":           recovery.GetRecoveryStats(),
		"modules":         recovery.AllModuleHealth(),
		"recentDecisions": recovery.RecentDecisions(),
	})
}

func (h *DiagnosticsHandler) handleObservers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.coordinator.GetObservers())
}

func (h *DiagnosticsHandler) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil && h.logger != nil {
		h.logger.Error("Failed to encode diagnostics response", "error", err)
	}
}
