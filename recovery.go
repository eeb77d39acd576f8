package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// HealthStatus is the recovery manager's view of one module.
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusSafeMode
	HealthStatusFailed
)

// String returns the human-readable name of the status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusSafeMode:
		return "safe_mode"
	case HealthStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FallbackMode is a degraded operating mode a module enters instead of
// failing outright.
type FallbackMode int

const (
	// FallbackReadOnly keeps the module consuming events but suppresses
	// its outputs.
	FallbackReadOnly FallbackMode = iota

	// FallbackMinimal keeps only the module's essential function running.
	FallbackMinimal

	// FallbackDisabled parks the module entirely while keeping it
	// registered.
	FallbackDisabled
)

// String returns the human-readable name of the mode.
func (m FallbackMode) String() string {
	switch m {
	case FallbackReadOnly:
		return "read_only"
	case FallbackMinimal:
		return "minimal"
	case FallbackDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Severity classifies how serious a module error is. It drives the
// recovery action selection.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the human-readable name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ModuleError carries a module fault with an explicit severity. Errors
// reported without one are classified as SeverityMedium.
type ModuleError struct {
	ModuleID string
	Severity Severity
	Err      error
}

// Error implements the error interface.
func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %v", e.ModuleID, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ModuleError) Unwrap() error {
	return e.Err
}

// classifySeverity derives the severity from the error's context.
func classifySeverity(err error) Severity {
	var moduleErr *ModuleError
	if errors.As(err, &moduleErr) {
		return moduleErr.Severity
	}
	return SeverityMedium
}

// RecoveryActionKind enumerates the decisions the recovery manager can
// make about a module fault.
type RecoveryActionKind int

const (
	ActionIgnore RecoveryActionKind = iota
	ActionRetry
	ActionRestart
	ActionEscalate
	ActionShutdown
	ActionFallback
)

// String returns the human-readable name of the action kind.
func (k RecoveryActionKind) String() string {
	switch k {
	case ActionIgnore:
		return "ignore"
	case ActionRetry:
		return "retry"
	case ActionRestart:
		return "restart"
	case ActionEscalate:
		return "escalate"
	case ActionShutdown:
		return "shutdown"
	case ActionFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// RecoveryAction is the computed outcome of handling one module error. It
// is a value, not stored state: the caller executes it.
type RecoveryAction struct {
	Kind RecoveryActionKind

	// MaxAttempts and Delay are set for ActionRetry. Delay scales with
	// the module's consecutive error count.
	MaxAttempts int
	Delay       time.Duration

	// Mode is set for ActionFallback.
	Mode FallbackMode
}

// ModuleHealth is the recovery manager's per-module record. Mutated only
// by the recovery manager.
type ModuleHealth struct {
	ModuleID          string        `json:"moduleId"`
	ErrorCount        int           `json:"errorCount"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	LastError         string        `json:"lastError,omitempty"`
	LastErrorAt       time.Time     `json:"lastErrorAt,omitempty"`
	LastRestart       *time.Time    `json:"lastRestart,omitempty"`
	Status            HealthStatus  `json:"status"`
	Fallback          *FallbackMode `json:"fallback,omitempty"`
	Quarantined       bool          `json:"quarantined"`
}

// RecoveryDecision records one past decision for diagnostics.
type RecoveryDecision struct {
	ModuleID string             `json:"moduleId"`
	Action   RecoveryActionKind `json:"action"`
	Severity Severity           `json:"severity"`
	At       time.Time          `json:"at"`
}

// RecoveryStats aggregates the manager's counters.
type RecoveryStats struct {
	TotalErrors          uint64            `json:"totalErrors"`
	SuccessfulRecoveries uint64            `json:"successfulRecoveries"`
	ModulesInFallback    int               `json:"modulesInFallback"`
	QuarantinedModules   int               `json:"quarantinedModules"`
	TrackedModules       int               `json:"trackedModules"`
	ErrorsBySeverity     map[string]uint64 `json:"errorsBySeverity"`
}

// decisionHistorySize bounds the diagnostics ring of recent decisions.
const decisionHistorySize = 64

// ErrorRecoveryManager is the single authority deciding how module faults
// are handled: ignored, retried, restarted, escalated or absorbed into a
// fallback mode. It must tolerate concurrent error reports from arbitrary
// module goroutines.
//
// There is deliberately no package-level instance; the application root
// constructs one and hands it to every component that can report errors.
type ErrorRecoveryManager struct {
	config  *CoreConfig
	logger  Logger
	subject Subject

	mutex     sync.Mutex
	health    map[string]*ModuleHealth
	decisions []RecoveryDecision

	totalErrors          uint64
	successfulRecoveries uint64
	errorsBySeverity     map[string]uint64

	// restartFn is invoked by RestartModule when the registry/lifecycle
	// layer is wired in.
	restartFn func(ctx context.Context, moduleID string) error
}

// NewErrorRecoveryManager creates a recovery manager. A nil config
// selects defaults.
func NewErrorRecoveryManager(config *CoreConfig, logger Logger) *ErrorRecoveryManager {
	if config == nil {
		config = NewCoreConfig()
	}
	_ = config.ValidateConfig()
	return &ErrorRecoveryManager{
		config:           config,
		logger:           logger,
		health:           make(map[string]*ModuleHealth),
		errorsBySeverity: make(map[string]uint64),
	}
}

// SetSubject wires an announcement subject; recovery decisions that
// change a module's standing are emitted as CloudEvents through it.
func (m *ErrorRecoveryManager) SetSubject(subject Subject) {
	m.mutex.Lock()
	m.subject = subject
	m.mutex.Unlock()
}

// SetRestartFunc wires the hook RestartModule delegates to.
func (m *ErrorRecoveryManager) SetRestartFunc(fn func(ctx context.Context, moduleID string) error) {
	m.mutex.Lock()
	m.restartFn = fn
	m.mutex.Unlock()
}

// HandleModuleError records an error against the module and computes the
// recovery action. A quarantined module's errors return ActionIgnore
// without touching its counters.
func (m *ErrorRecoveryManager) HandleModuleError(moduleID string, err error) RecoveryAction {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health := m.healthLocked(moduleID)
	if health.Quarantined {
		return RecoveryAction{Kind: ActionIgnore}
	}

	health.ErrorCount++
	health.ConsecutiveErrors++
	health.LastError = err.Error()
	health.LastErrorAt = time.Now()

	severity := classifySeverity(err)
	m.totalErrors++
	m.errorsBySeverity[severity.String()]++

	action := m.selectActionLocked(health, severity)
	m.recordDecisionLocked(moduleID, action.Kind, severity)

	switch action.Kind {
	case ActionEscalate, ActionShutdown:
		health.Status = HealthStatusFailed
		m.emitLocked(EventTypeRecoveryEscalated, map[string]interface{}{
			"module":            moduleID,
			"action":            action.Kind.String(),
			"severity":          severity.String(),
			"consecutiveErrors": health.ConsecutiveErrors,
		})
	case ActionFallback:
		health.Status = HealthStatusSafeMode
	default:
		if health.Status == HealthStatusHealthy {
			health.Status = HealthStatusDegraded
		}
	}

	if m.logger != nil {
		m.logger.Warn("Module error handled",
			"module", moduleID,
			"severity", severity,
			"action", action.Kind,
			"consecutiveErrors", health.ConsecutiveErrors)
	}
	return action
}

// selectActionLocked is the decision table. Escalation takes precedence:
// once a module exceeds the consecutive-error threshold it never gets
// another retry without an intervening success or restart.
func (m *ErrorRecoveryManager) selectActionLocked(health *ModuleHealth, severity Severity) RecoveryAction {
	threshold := m.config.EscalationThreshold

	if health.ConsecutiveErrors > threshold {
		if severity >= SeverityCritical || health.ConsecutiveErrors > 2*threshold {
			return RecoveryAction{Kind: ActionShutdown}
		}
		return RecoveryAction{Kind: ActionEscalate}
	}

	if severity == SeverityCritical {
		return RecoveryAction{Kind: ActionEscalate}
	}

	// A module already in a fallback mode keeps absorbing non-critical
	// errors in that mode rather than being retried.
	if health.Fallback != nil && severity < SeverityHigh {
		return RecoveryAction{Kind: ActionFallback, Mode: *health.Fallback}
	}

	switch severity {
	case SeverityLow:
		return RecoveryAction{Kind: ActionIgnore}
	case SeverityHigh:
		return RecoveryAction{Kind: ActionRestart}
	default:
		return RecoveryAction{
			Kind:        ActionRetry,
			MaxAttempts: m.config.MaxRetryAttempts,
			Delay:       time.Duration(health.ConsecutiveErrors) * m.config.RetryBaseDelay,
		}
	}
}

// RecordSuccess resets the module's consecutive error count after a
// successful operation and restores a Degraded module to Healthy.
func (m *ErrorRecoveryManager) RecordSuccess(moduleID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health := m.healthLocked(moduleID)
	hadErrors := health.ConsecutiveErrors > 0
	health.ConsecutiveErrors = 0
	if health.Status == HealthStatusDegraded {
		health.Status = HealthStatusHealthy
	}
	if hadErrors {
		m.successfulRecoveries++
	}
}

// RestartModule delegates the actual restart to the wired lifecycle hook
// when present, then resets the module's consecutive error count and
// records the restart time. The restarted announcement is only emitted
// once the hook has succeeded; a failed hook emits a failure event
// instead and leaves the health counters untouched.
func (m *ErrorRecoveryManager) RestartModule(ctx context.Context, moduleID string) error {
	m.mutex.Lock()
	restartFn := m.restartFn
	m.mutex.Unlock()

	if restartFn != nil {
		if err := restartFn(ctx, moduleID); err != nil {
			m.mutex.Lock()
			m.emitLocked(EventTypeModuleFailed, map[string]interface{}{
				"module": moduleID,
				"phase":  "restart",
				"error":  err.Error(),
			})
			m.mutex.Unlock()
			return fmt.Errorf("failed to restart module %s: %w", moduleID, err)
		}
	}

	m.mutex.Lock()
	health := m.healthLocked(moduleID)
	now := time.Now()
	health.ConsecutiveErrors = 0
	health.LastRestart = &now
	m.emitLocked(EventTypeModuleRestarted, map[string]interface{}{"module": moduleID})
	m.mutex.Unlock()
	return nil
}

// QuarantineModule marks the module Failed and suppresses all further
// error handling for it until released.
func (m *ErrorRecoveryManager) QuarantineModule(moduleID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health := m.healthLocked(moduleID)
	health.Quarantined = true
	health.Status = HealthStatusFailed
	m.emitLocked(EventTypeModuleQuarantined, map[string]interface{}{"module": moduleID})

	if m.logger != nil {
		m.logger.Warn("Module quarantined", "module", moduleID, "errorCount", health.ErrorCount)
	}
}

// ReleaseQuarantine clears the quarantine flag. Error counters are kept:
// the module's history survives release.
func (m *ErrorRecoveryManager) ReleaseQuarantine(moduleID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health, ok := m.health[moduleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotTracked, moduleID)
	}
	health.Quarantined = false
	health.Status = HealthStatusDegraded
	m.emitLocked(EventTypeModuleReleased, map[string]interface{}{"module": moduleID})
	return nil
}

// IsQuarantined reports whether the module is quarantined.
func (m *ErrorRecoveryManager) IsQuarantined(moduleID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health, ok := m.health[moduleID]
	return ok && health.Quarantined
}

// SetFallbackMode places the module in a degraded operating mode and
// marks it SafeMode.
func (m *ErrorRecoveryManager) SetFallbackMode(moduleID string, mode FallbackMode) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health := m.healthLocked(moduleID)
	health.Fallback = &mode
	health.Status = HealthStatusSafeMode
	m.emitLocked(EventTypeModuleFallback, map[string]interface{}{
		"module": moduleID,
		"mode":   mode.String(),
	})
}

// GetFallbackMode returns the module's fallback mode, if any.
func (m *ErrorRecoveryManager) GetFallbackMode(moduleID string) (FallbackMode, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health, ok := m.health[moduleID]
	if !ok || health.Fallback == nil {
		return 0, false
	}
	return *health.Fallback, true
}

// ClearFallbackMode removes the module's fallback mode and restores it to
// Degraded so a later success can bring it back to Healthy.
func (m *ErrorRecoveryManager) ClearFallbackMode(moduleID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health, ok := m.health[moduleID]
	if !ok {
		return
	}
	health.Fallback = nil
	if health.Status == HealthStatusSafeMode {
		health.Status = HealthStatusDegraded
	}
}

// ModuleHealthInfo returns a copy of the module's health record.
func (m *ErrorRecoveryManager) ModuleHealthInfo(moduleID string) (ModuleHealth, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	health, ok := m.health[moduleID]
	if !ok {
		return ModuleHealth{}, fmt.Errorf("%w: %s", ErrModuleNotTracked, moduleID)
	}
	return copyHealth(health), nil
}

// AllModuleHealth returns copies of every tracked module's health record.
func (m *ErrorRecoveryManager) AllModuleHealth() []ModuleHealth {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	records := make([]ModuleHealth, 0, len(m.health))
	for _, health := range m.health {
		records = append(records, copyHealth(health))
	}
	return records
}

// DecayDegraded restores Degraded modules whose last error is older than
// the quiet period back to Healthy, resetting their consecutive error
// count. Returns the IDs of the modules restored.
func (m *ErrorRecoveryManager) DecayDegraded(quietPeriod time.Duration) []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var restored []string
	now := time.Now()
	for id, health := range m.health {
		if health.Status != HealthStatusDegraded {
			continue
		}
		if health.LastErrorAt.IsZero() || now.Sub(health.LastErrorAt) < quietPeriod {
			continue
		}
		health.Status = HealthStatusHealthy
		health.ConsecutiveErrors = 0
		restored = append(restored, id)
	}
	return restored
}

// RecentDecisions returns the most recent recovery decisions, oldest
// first.
func (m *ErrorRecoveryManager) RecentDecisions() []RecoveryDecision {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	decisions := make([]RecoveryDecision, len(m.decisions))
	copy(decisions, m.decisions)
	return decisions
}

// GetRecoveryStats returns aggregate counters across all tracked modules.
func (m *ErrorRecoveryManager) GetRecoveryStats() RecoveryStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats := RecoveryStats{
		TotalErrors:          m.totalErrors,
		SuccessfulRecoveries: m.successfulRecoveries,
		TrackedModules:       len(m.health),
		ErrorsBySeverity:     make(map[string]uint64, len(m.errorsBySeverity)),
	}
	for severity, count := range m.errorsBySeverity {
		stats.ErrorsBySeverity[severity] = count
	}
	for _, health := range m.health {
		if health.Quarantined {
			stats.QuarantinedModules++
		}
		if health.Fallback != nil {
			stats.ModulesInFallback++
		}
	}
	return stats
}

func (m *ErrorRecoveryManager) healthLocked(moduleID string) *ModuleHealth {
	health, ok := m.health[moduleID]
	if !ok {
		health = &ModuleHealth{ModuleID: moduleID, Status: HealthStatusHealthy}
		m.health[moduleID] = health
	}
	return health
}

func (m *ErrorRecoveryManager) recordDecisionLocked(moduleID string, action RecoveryActionKind, severity Severity) {
	m.decisions = append(m.decisions, RecoveryDecision{
		ModuleID: moduleID,
		Action:   action,
		Severity: severity,
		At:       time.Now(),
	})
	if len(m.decisions) > decisionHistorySize {
		m.decisions = m.decisions[len(m.decisions)-decisionHistorySize:]
	}
}

// emitLocked sends an announcement without blocking the caller. The
// subject's NotifyObservers already fans out on separate goroutines.
func (m *ErrorRecoveryManager) emitLocked(eventType string, data map[string]interface{}) {
	if m.subject == nil {
		return
	}
	event := NewCloudEvent(eventType, "recovery-manager", data, nil)
	subject := m.subject
	go func() {
		if err := subject.NotifyObservers(context.Background(), event); err != nil && m.logger != nil {
			m.logger.Debug("Failed to notify observers", "eventType", eventType, "error", err)
		}
	}()
}

func copyHealth(health *ModuleHealth) ModuleHealth {
	copied := *health
	if health.LastRestart != nil {
		restart := *health.LastRestart
		copied.LastRestart = &restart
	}
	if health.Fallback != nil {
		mode := *health.Fallback
		copied.Fallback = &mode
	}
	return copied
}
