package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/chord/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chord"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# chord configuration
# Run: chord --help

# Optional: override the SQLite database location.
# Can also be set via CHORD_DB_PATH or --db-path.
# db_path: ~/.config/chord/chord.db

# Bus tuning. Oldest undelivered events are shed past queue_size.
# bus:
#   queue_size: 256
#   delivery_attempts: 3

# Decision resolver: per-module input gathering timeout.
# resolver:
#   module_timeout_ms: 2000

# Action policy thresholds. Never-auto kinds can never yield AUTO,
# regardless of thresholds.
# policy:
#   default_ignore_below: 0.4
#   default_auto_above: 0.85
#   focus_auto_margin: 0.15
#   never_auto: [send_message, send_payment]
#   interruption_adjacent: [create_calendar_event, schedule_call]
#   thresholds:
#     create_calendar_event:
#       ignore_below: 0.4
#       auto_above: 0.85
`
