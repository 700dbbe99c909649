package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file.
// An explicit path takes priority over the standard search locations;
// a missing explicit path is an error, a missing standard file is not.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	configPath := explicitPath
	if configPath == "" {
		configPath = findConfigFile()
		if configPath == "" {
			return cfg, nil
		}
	}

	if err := loadFromFile(cfg, configPath); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./gltfu.yaml",
		filepath.Join(ConfigDir(), "gltfu.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "gltfu")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "gltfu")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "gltfu")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "gltfu")
	}
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
