package blocklist

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds agent tunables. They live next to the ledger but in a
// separate YAML file so UI-driven ledger rewrites never touch them.
type Settings struct {
	// FlushMethod selects how the resolver cache is flushed
	// (auto, dscacheutil, killall, systemd, nscd).
	FlushMethod string `yaml:"flushMethod"`
	// HostsPath overrides the system hosts file location. Testing aid.
	HostsPath string `yaml:"hostsPath,omitempty"`
	// LoggerPath overrides where the access logger executable is found.
	LoggerPath string `yaml:"loggerPath,omitempty"`
}

// DefaultSettingsPath returns the default settings file path.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultDir(), "settings.yaml")
}

// LoadSettings reads the settings file. If the file is absent the
// defaults are written out and returned, so the operator has a file to
// edit.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{FlushMethod: "auto"}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := SaveSettings(s, path); err != nil {
				return nil, err
			}
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.FlushMethod == "" {
		s.FlushMethod = "auto"
	}

	return s, nil
}

// SaveSettings writes the settings file.
func SaveSettings(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}
