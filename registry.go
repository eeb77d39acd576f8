package conductor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModuleRegistry stores module metadata and lifecycle state and owns the
// dependency graph. Cycle detection runs at registration time only, so
// the graph held by the registry is always a DAG once a registration
// succeeds and traversal never needs to re-check.
//
// Registration and state updates are expected on the coordinating
// goroutine during startup and shutdown, but lookups are safe from any
// goroutine.
type ModuleRegistry struct {
	mutex   sync.RWMutex
	modules map[string]Module
	infos   map[string]*ModuleInfo
	logger  Logger
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry(logger Logger) *ModuleRegistry {
	return &ModuleRegistry{
		modules: make(map[string]Module),
		infos:   make(map[string]*ModuleInfo),
		logger:  logger,
	}
}

// Register validates the module's metadata, verifies that its declared
// dependencies do not introduce a cycle, and stores it with state
// Registered. A dependency on a not-yet-registered module is allowed; it
// is reported as unsatisfied by CheckDependencies and rejected by the
// lifecycle coordinator if still missing at initialization time.
func (r *ModuleRegistry) Register(module Module) error {
	if err := validateModuleMetadata(module); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := module.ID()
	if _, exists := r.infos[id]; exists {
		return fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, id)
	}

	deps := moduleDependencies(module)
	if cycle := r.findCycle(id, deps); cycle != nil {
		return fmt.Errorf("%w: %v", ErrCircularDependency, cycle)
	}

	r.modules[id] = module
	r.infos[id] = &ModuleInfo{
		ID:           id,
		Name:         module.Name(),
		Version:      module.Version(),
		Dependencies: append([]string(nil), deps...),
		State:        ModuleStateRegistered,
		RegisteredAt: time.Now(),
	}

	if r.logger != nil {
		r.logger.Debug("Module registered", "module", id, "dependencies", deps)
	}
	return nil
}

// findCycle runs a depth-first search from the candidate node over the
// stored graph plus the candidate's declared edges. Because the stored
// graph is already acyclic, any new cycle must pass through the candidate,
// so searching from it is sufficient. Returns the cycle path when found.
func (r *ModuleRegistry) findCycle(candidateID string, candidateDeps []string) []string {
	edges := func(id string) []string {
		if id == candidateID {
			return candidateDeps
		}
		if info, ok := r.infos[id]; ok {
			return info.Dependencies
		}
		return nil
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		if onStack[id] {
			return append(path, id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range edges(id) {
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	return visit(candidateID)
}

// CheckDependencies reports, for each of the module's declared
// dependencies, whether it has reached Started.
func (r *ModuleRegistry) CheckDependencies(id string) ([]DependencyStatus, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	info, ok := r.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	statuses := make([]DependencyStatus, 0, len(info.Dependencies))
	for _, dep := range info.Dependencies {
		depInfo, registered := r.infos[dep]
		statuses = append(statuses, DependencyStatus{
			ModuleID:  dep,
			Satisfied: registered && depInfo.State == ModuleStateStarted,
		})
	}
	return statuses, nil
}

// UpdateModuleState overwrites the module's lifecycle state. The only
// requirement is that the module exists; the lifecycle coordinator is
// responsible for meaningful transitions.
func (r *ModuleRegistry) UpdateModuleState(id string, state ModuleState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	info, ok := r.infos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	info.State = state
	if state != ModuleStateFailed {
		info.StateReason = ""
	}
	return nil
}

// MarkFailed sets the module's state to Failed with the given reason.
func (r *ModuleRegistry) MarkFailed(id string, reason error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	info, ok := r.infos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	info.State = ModuleStateFailed
	if reason != nil {
		info.StateReason = reason.Error()
	}
	return nil
}

// GetModuleInfo returns a copy of the module's registry record.
func (r *ModuleRegistry) GetModuleInfo(id string) (ModuleInfo, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	info, ok := r.infos[id]
	if !ok {
		return ModuleInfo{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	copied := *info
	copied.Dependencies = append([]string(nil), info.Dependencies...)
	return copied, nil
}

// IsRegistered reports whether a module with the given id exists.
func (r *ModuleRegistry) IsRegistered(id string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.infos[id]
	return ok
}

// Module returns the registered module instance.
func (r *ModuleRegistry) Module(id string) (Module, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	module, ok := r.modules[id]
	return module, ok
}

// ModuleInfos returns copies of all registry records.
func (r *ModuleRegistry) ModuleInfos() []ModuleInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	infos := make([]ModuleInfo, 0, len(r.infos))
	for _, info := range r.infos {
		copied := *info
		copied.Dependencies = append([]string(nil), info.Dependencies...)
		infos = append(infos, copied)
	}
	return infos
}

// TopologicalOrder returns module IDs with every dependency before its
// dependents. It fails if a declared dependency was never registered.
// The registry graph is acyclic by construction, so the traversal itself
// cannot loop.
func (r *ModuleRegistry) TopologicalOrder() ([]string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var order []string
	visited := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		for _, dep := range r.infos[id].Dependencies {
			if _, exists := r.infos[dep]; !exists {
				return fmt.Errorf("%w: %s depends on %s", ErrDependencyMissing, id, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		order = append(order, id)
		return nil
	}

	// Iterate ids in registration order for deterministic output.
	ids := make([]string, 0, len(r.infos))
	for id := range r.infos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.infos[ids[i]], r.infos[ids[j]]
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ID < b.ID
	})

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
