package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "ASKBRIDGE_CONFIG"

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $ASKBRIDGE_CONFIG, ~/.config/askbridge/config.yaml,
// /etc/askbridge/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string

	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "askbridge", "config.yaml"))
	}
	candidates = append(candidates,
		"/etc/askbridge/config.yaml",
		"./config.yaml",
	)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/askbridge/config.yaml, /etc/askbridge/config.yaml, ./config.yaml)", EnvConfigPath)
}

// LoadOrDefault loads configPath, or the discovered config when it is empty.
// With nothing to discover it falls back to defaults rooted at the working
// directory; the returned bool reports that fallback.
func LoadOrDefault(configPath string) (*Config, bool, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigPath()
		if err != nil {
			cfg, derr := FromDefaults(".")
			return cfg, true, derr
		}
		configPath = discovered
	}

	cfg, err := Load(configPath)
	return cfg, false, err
}
