package conductor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// HealthReport is the periodic snapshot the monitor publishes.
type HealthReport struct {
	GeneratedAt     time.Time      `json:"generatedAt"`
	Stats           RecoveryStats  `json:"stats"`
	Modules         []ModuleHealth `json:"modules"`
	RestoredModules []string       `json:"restoredModules,omitempty"`
	BusMetrics      *BusMetrics    `json:"busMetrics,omitempty"`
	SlowPriorities  []string       `json:"slowPriorities,omitempty"`
}

// HealthMonitor runs a scheduled sweep over the recovery manager's state:
// it restores Degraded modules to Healthy after a quiet period, compares
// bus dispatch latency against the configured target, and publishes a
// health report CloudEvent.
type HealthMonitor struct {
	config   *CoreConfig
	logger   Logger
	recovery *ErrorRecoveryManager

	mutex   sync.Mutex
	subject Subject
	bus     *EventBus
	cron    *cron.Cron
	running bool
}

// NewHealthMonitor creates a monitor over the given recovery manager. A
// nil config selects defaults.
func NewHealthMonitor(config *CoreConfig, logger Logger, recovery *ErrorRecoveryManager) *HealthMonitor {
	if config == nil {
		config = NewCoreConfig()
	}
	_ = config.ValidateConfig()
	return &HealthMonitor{
		config:   config,
		logger:   logger,
		recovery: recovery,
	}
}

// SetSubject wires an announcement subject for health reports.
func (m *HealthMonitor) SetSubject(subject Subject) {
	m.mutex.Lock()
	m.subject = subject
	m.mutex.Unlock()
}

// SetBus wires an event bus so the sweep can compare dispatch latency
// against the configured target.
func (m *HealthMonitor) SetBus(bus *EventBus) {
	m.mutex.Lock()
	m.bus = bus
	m.mutex.Unlock()
}

// Start schedules the health sweep using the configured schedule
// expression (for example "@every 30s").
func (m *HealthMonitor) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return ErrMonitorAlreadyRunning
	}

	c := cron.New()
	if _, err := c.AddFunc(m.config.HealthSweepSchedule, m.Sweep); err != nil {
		return fmt.Errorf("invalid health sweep schedule %q: %w", m.config.HealthSweepSchedule, err)
	}
	c.Start()
	m.cron = c
	m.running = true

	if m.logger != nil {
		m.logger.Info("Health monitor started", "schedule", m.config.HealthSweepSchedule)
	}
	return nil
}

// Stop cancels the schedule and waits for an in-flight sweep to finish.
func (m *HealthMonitor) Stop() error {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return ErrMonitorNotRunning
	}
	c := m.cron
	m.running = false
	m.mutex.Unlock()

	<-c.Stop().Done()

	if m.logger != nil {
		m.logger.Info("Health monitor stopped")
	}
	return nil
}

// Sweep runs one health pass immediately. The scheduler calls this on the
// configured cadence; tests and embedding applications may call it
// directly.
func (m *HealthMonitor) Sweep() {
	restored := m.recovery.DecayDegraded(m.config.DegradedQuietPeriod)
	if len(restored) > 0 && m.logger != nil {
		m.logger.Info("Modules restored to healthy after quiet period", "modules", restored)
	}

	report := HealthReport{
		GeneratedAt:     time.Now(),
		Stats:           m.recovery.GetRecoveryStats(),
		Modules:         m.recovery.AllModuleHealth(),
		RestoredModules: restored,
	}

	m.mutex.Lock()
	bus := m.bus
	subject := m.subject
	m.mutex.Unlock()

	if bus != nil {
		metrics := bus.Metrics()
		report.BusMetrics = &metrics
		for p := PriorityCritical; p <= PriorityLow; p++ {
			if metrics.AverageLatency[p] > m.config.TargetLatency {
				report.SlowPriorities = append(report.SlowPriorities, p.String())
				if m.logger != nil {
					m.logger.Warn("Dispatch latency above target",
						"priority", p,
						"average", metrics.AverageLatency[p],
						"target", m.config.TargetLatency)
				}
			}
		}
	}

	if subject != nil {
		event := NewCloudEvent(EventTypeHealthReport, "health-monitor", report, nil)
		if err := subject.NotifyObservers(context.Background(), event); err != nil && m.logger != nil {
			m.logger.Debug("Failed to notify observers", "eventType", EventTypeHealthReport, "error", err)
		}
	}
}
