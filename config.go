package conductor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the env tag of every CoreConfig field when
// looking up environment overrides, e.g. CONDUCTOR_QUEUE_CAPACITY.
const EnvPrefix = "CONDUCTOR"

// CoreConfig holds the construction-time tunables for the coordination
// core. Zero values are replaced with defaults by ValidateConfig. All
// fields can be loaded from YAML, TOML or JSON files and overridden from
// the environment.
type CoreConfig struct {
	// QueueCapacity is the per-priority bound of the event queue set.
	// Must not exceed MaxQueueCapacity. Zero selects DefaultQueueCapacity.
	QueueCapacity int `json:"queueCapacity,omitempty" yaml:"queueCapacity,omitempty" toml:"queueCapacity,omitempty" env:"QUEUE_CAPACITY"`

	// ProcessingInterval is how long the dispatch worker sleeps when all
	// queues are empty and no publish notification arrives. The worker is
	// normally woken by publish, so this only bounds the worst-case wake
	// delay. Zero selects 100µs.
	ProcessingInterval time.Duration `json:"processingInterval,omitempty" yaml:"processingInterval,omitempty" toml:"processingInterval,omitempty" env:"PROCESSING_INTERVAL"`

	// TargetLatency is the per-event dispatch latency the health monitor
	// compares the bus's moving averages against. Zero selects 50ms.
	TargetLatency time.Duration `json:"targetLatency,omitempty" yaml:"targetLatency,omitempty" toml:"targetLatency,omitempty" env:"TARGET_LATENCY"`

	// EscalationThreshold is the consecutive-error count past which the
	// recovery manager escalates instead of retrying. Zero selects 5.
	EscalationThreshold int `json:"escalationThreshold,omitempty" yaml:"escalationThreshold,omitempty" toml:"escalationThreshold,omitempty" env:"ESCALATION_THRESHOLD"`

	// RetryBaseDelay is the base delay of a Retry recovery action; the
	// actual delay scales with the module's consecutive error count.
	// Zero selects 100ms.
	RetryBaseDelay time.Duration `json:"retryBaseDelay,omitempty" yaml:"retryBaseDelay,omitempty" toml:"retryBaseDelay,omitempty" env:"RETRY_BASE_DELAY"`

	// MaxRetryAttempts caps the attempts of a Retry recovery action.
	// Zero selects 3.
	MaxRetryAttempts int `json:"maxRetryAttempts,omitempty" yaml:"maxRetryAttempts,omitempty" toml:"maxRetryAttempts,omitempty" env:"MAX_RETRY_ATTEMPTS"`

	// HealthSweepSchedule is the cron schedule of the health monitor's
	// periodic sweep. Empty selects "@every 30s".
	HealthSweepSchedule string `json:"healthSweepSchedule,omitempty" yaml:"healthSweepSchedule,omitempty" toml:"healthSweepSchedule,omitempty" env:"HEALTH_SWEEP_SCHEDULE"`

	// DegradedQuietPeriod is how long a Degraded module must go without a
	// new error before a health sweep marks it Healthy again. Zero
	// selects 2m.
	DegradedQuietPeriod time.Duration `json:"degradedQuietPeriod,omitempty" yaml:"degradedQuietPeriod,omitempty" toml:"degradedQuietPeriod,omitempty" env:"DEGRADED_QUIET_PERIOD"`

	// ShutdownTimeout bounds how long the lifecycle coordinator waits for
	// module Stop and Shutdown calls. Zero selects 30s.
	ShutdownTimeout time.Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty" toml:"shutdownTimeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

// NewCoreConfig returns a config populated with defaults.
func NewCoreConfig() *CoreConfig {
	cfg := &CoreConfig{}
	_ = cfg.ValidateConfig()
	return cfg
}

// ValidateConfig fills zero fields with defaults and rejects out-of-range
// values. It is called after file loading and environment overrides.
func (c *CoreConfig) ValidateConfig() error {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.QueueCapacity < 0 || c.QueueCapacity > MaxQueueCapacity {
		return fmt.Errorf("%w: %d", ErrConfigInvalidCapacity, c.QueueCapacity)
	}
	if c.ProcessingInterval <= 0 {
		c.ProcessingInterval = 100 * time.Microsecond
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = 50 * time.Millisecond
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 3
	}
	if c.HealthSweepSchedule == "" {
		c.HealthSweepSchedule = "@every 30s"
	}
	if c.DegradedQuietPeriod <= 0 {
		c.DegradedQuietPeriod = 2 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return nil
}

// LoadCoreConfig reads a config file (format selected by extension),
// applies environment overrides and validates the result.
func LoadCoreConfig(path string) (*CoreConfig, error) {
	cfg := &CoreConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse TOML config: %w", err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse JSON config: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrConfigUnsupportedFormat, filepath.Ext(path))
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the config struct and overwrites fields whose
// env-tagged variable is present in the environment.
func applyEnvOverrides(cfg *CoreConfig) error {
	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}

		envName := EnvPrefix + "_" + strings.ToUpper(tag)
		envValue, present := os.LookupEnv(envName)
		if !present || envValue == "" {
			continue
		}

		field := rv.Field(i)
		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrConfigFieldConversion, envName, envValue, err)
		}
	}
	return nil
}

// setFieldFromString converts a string to the field's type and sets it.
// Durations are parsed with time.ParseDuration; everything else goes
// through golobby/cast.
func setFieldFromString(field reflect.Value, strValue string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("cannot parse duration: %w", err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	converted, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted))
	return nil
}
