package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath                    string           `yaml:"db_path"`
	EventsRetentionDays       int              `yaml:"events_retention_days"`
	EventsSummarizeThreshold  int              `yaml:"events_summarize_threshold"`
	EventsSummarizeKeepRecent int              `yaml:"events_summarize_keep_recent"`
	Bus                       BusSettings      `yaml:"bus"`
	Resolver                  ResolverSettings `yaml:"resolver"`
	Policy                    PolicySettings   `yaml:"policy"`
}

// BusSettings tunes fan-out queues and redelivery.
type BusSettings struct {
	QueueSize        int `yaml:"queue_size"`
	DeliveryAttempts int `yaml:"delivery_attempts"`
}

// ResolverSettings tunes decision-input gathering.
type ResolverSettings struct {
	ModuleTimeoutMS int `yaml:"module_timeout_ms"`
}

// ThresholdPair is the per-action-kind confidence band.
type ThresholdPair struct {
	IgnoreBelow float64 `yaml:"ignore_below"`
	AutoAbove   float64 `yaml:"auto_above"`
}

// PolicySettings carries the deployment-tunable policy configuration.
// NeverAuto is a hard override, not a threshold: kinds listed here can never
// produce AUTO no matter what the thresholds say.
type PolicySettings struct {
	DefaultIgnoreBelow   float64                  `yaml:"default_ignore_below"`
	DefaultAutoAbove     float64                  `yaml:"default_auto_above"`
	FocusAutoMargin      float64                  `yaml:"focus_auto_margin"`
	NeverAuto            []string                 `yaml:"never_auto"`
	InterruptionAdjacent []string                 `yaml:"interruption_adjacent"`
	Thresholds           map[string]ThresholdPair `yaml:"thresholds"`
}

// Effective runtime defaults used when config.yaml omits a value.
const (
	defaultEventsRetentionDays   = 30
	defaultEventsSummarizeThresh = 200
	defaultEventsSummarizeKeep   = 50
	defaultBusQueueSize          = 256
	defaultBusDeliveryAttempts   = 3
	defaultModuleTimeoutMS       = 2000
)

// EventMaintenanceSettings are effective runtime values used by log maintenance.
type EventMaintenanceSettings struct {
	RetentionDays       int `json:"retention_days"`
	SummarizeThreshold  int `json:"summarize_threshold"`
	SummarizeKeepRecent int `json:"summarize_keep_recent"`
}

// EffectiveEventMaintenanceSettings returns validated maintenance settings with defaults.
// Invalid or missing config values fall back to safe defaults.
func EffectiveEventMaintenanceSettings() EventMaintenanceSettings {
	cfg := EventMaintenanceSettings{
		RetentionDays:       defaultEventsRetentionDays,
		SummarizeThreshold:  defaultEventsSummarizeThresh,
		SummarizeKeepRecent: defaultEventsSummarizeKeep,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if s.EventsRetentionDays > 0 {
		cfg.RetentionDays = s.EventsRetentionDays
	}
	if s.EventsSummarizeThreshold > 0 {
		cfg.SummarizeThreshold = s.EventsSummarizeThreshold
	}
	if s.EventsSummarizeKeepRecent > 0 {
		cfg.SummarizeKeepRecent = s.EventsSummarizeKeepRecent
	}

	if cfg.RetentionDays > 3650 {
		cfg.RetentionDays = 3650
	}
	if cfg.SummarizeThreshold < 20 {
		cfg.SummarizeThreshold = 20
	}
	return cfg
}

// EffectiveBusSettings returns validated bus tuning with defaults.
func EffectiveBusSettings() BusSettings {
	cfg := BusSettings{
		QueueSize:        defaultBusQueueSize,
		DeliveryAttempts: defaultBusDeliveryAttempts,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}
	if s.Bus.QueueSize > 0 {
		cfg.QueueSize = s.Bus.QueueSize
	}
	if s.Bus.DeliveryAttempts > 0 {
		cfg.DeliveryAttempts = s.Bus.DeliveryAttempts
	}
	if cfg.DeliveryAttempts > 10 {
		cfg.DeliveryAttempts = 10
	}
	return cfg
}

// EffectiveResolverSettings returns validated resolver tuning with defaults.
func EffectiveResolverSettings() ResolverSettings {
	cfg := ResolverSettings{ModuleTimeoutMS: defaultModuleTimeoutMS}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}
	if s.Resolver.ModuleTimeoutMS > 0 {
		cfg.ModuleTimeoutMS = s.Resolver.ModuleTimeoutMS
	}
	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/chord/config.yaml
// 2) /etc/chord/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/chord/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "chord", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
