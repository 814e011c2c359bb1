package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_PrefersUserConfigOverLocal(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	userConfigPath := filepath.Join(home, ".config", "chord", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: /tmp/from-user.db\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-user.db", s.DBPath)
}

func TestLoadSettings_FallsBackToLocalConfig(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-local.db", s.DBPath)
}

func TestLoadSettings_InvalidYAMLReturnsError(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	userConfigPath := filepath.Join(home, ".config", "chord", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: ["), 0o600))

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsFile_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /tmp/read.db\n"), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/read.db", s.DBPath)
}

func TestLoadSettingsFile_ReadsNestedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"events_retention_days: 45",
		"events_summarize_threshold: 300",
		"events_summarize_keep_recent: 80",
		"bus:",
		"  queue_size: 64",
		"  delivery_attempts: 5",
		"resolver:",
		"  module_timeout_ms: 750",
		"policy:",
		"  default_ignore_below: 0.35",
		"  default_auto_above: 0.9",
		"  focus_auto_margin: 0.2",
		"  never_auto: [send_payment]",
		"  interruption_adjacent: [schedule_call]",
		"  thresholds:",
		"    create_calendar_event:",
		"      ignore_below: 0.4",
		"      auto_above: 0.8",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.Equal(t, 45, s.EventsRetentionDays)
	require.Equal(t, 300, s.EventsSummarizeThreshold)
	require.Equal(t, 80, s.EventsSummarizeKeepRecent)
	require.Equal(t, 64, s.Bus.QueueSize)
	require.Equal(t, 5, s.Bus.DeliveryAttempts)
	require.Equal(t, 750, s.Resolver.ModuleTimeoutMS)
	require.InDelta(t, 0.35, s.Policy.DefaultIgnoreBelow, 0.0001)
	require.InDelta(t, 0.9, s.Policy.DefaultAutoAbove, 0.0001)
	require.InDelta(t, 0.2, s.Policy.FocusAutoMargin, 0.0001)
	require.Equal(t, []string{"send_payment"}, s.Policy.NeverAuto)
	require.Equal(t, []string{"schedule_call"}, s.Policy.InterruptionAdjacent)
	require.InDelta(t, 0.8, s.Policy.Thresholds["create_calendar_event"].AutoAbove, 0.0001)
}

func TestEffectiveEventMaintenanceSettings_DefaultsAndClamp(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	// No config file: defaults
	cfg := EffectiveEventMaintenanceSettings()
	require.Equal(t, 30, cfg.RetentionDays)
	require.Equal(t, 200, cfg.SummarizeThreshold)
	require.Equal(t, 50, cfg.SummarizeKeepRecent)

	// Out-of-range config values should be clamped/sanitized
	userConfigPath := filepath.Join(home, ".config", "chord", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte(strings.Join([]string{
		"events_retention_days: 99999",
		"events_summarize_threshold: 1",
		"events_summarize_keep_recent: -2",
		"",
	}, "\n")), 0o600))

	resetSettingsStateForTest()
	cfg = EffectiveEventMaintenanceSettings()
	require.Equal(t, 3650, cfg.RetentionDays)
	require.Equal(t, 20, cfg.SummarizeThreshold)
	require.Equal(t, 50, cfg.SummarizeKeepRecent)
}

func TestEffectiveBusSettings_DefaultsAndClamp(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := EffectiveBusSettings()
	require.Equal(t, 256, cfg.QueueSize)
	require.Equal(t, 3, cfg.DeliveryAttempts)

	userConfigPath := filepath.Join(home, ".config", "chord", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("bus:\n  queue_size: 16\n  delivery_attempts: 50\n"), 0o600))

	resetSettingsStateForTest()
	cfg = EffectiveBusSettings()
	require.Equal(t, 16, cfg.QueueSize)
	require.Equal(t, 10, cfg.DeliveryAttempts)
}

func TestEffectiveResolverSettings_Defaults(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := EffectiveResolverSettings()
	require.Equal(t, 2000, cfg.ModuleTimeoutMS)

	userConfigPath := filepath.Join(home, ".config", "chord", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("resolver:\n  module_timeout_ms: 900\n"), 0o600))

	resetSettingsStateForTest()
	cfg = EffectiveResolverSettings()
	require.Equal(t, 900, cfg.ModuleTimeoutMS)
}
