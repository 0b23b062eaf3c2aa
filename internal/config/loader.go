package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// A directory argument is treated as <dir>/config.yaml. Values missing from
// the file keep their defaults. If a .checksums manifest sits next to the
// file, every tracked file is verified before the config is returned.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without the checksum verification. It exists for
// re-locking after an intentional edit.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if verify {
		if err := VerifyChecksums(cfg); err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// FromDefaults returns the default configuration rooted at baseDir.
// Used when no config file could be discovered.
func FromDefaults(baseDir string) (*Config, error) {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir %q: %w", baseDir, err)
	}
	cfg := Defaults()
	resolvePaths(cfg, absDir)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolvePaths anchors relative filesystem settings to dir.
func resolvePaths(cfg *Config, dir string) {
	cfg.ConfigDir = dir

	if cfg.Worker.Dir == "" {
		cfg.Worker.Dir = dir
	} else {
		cfg.Worker.Dir = anchor(dir, cfg.Worker.Dir)
	}
	if cfg.Worker.EnvFile != "" {
		cfg.Worker.EnvFile = anchor(dir, cfg.Worker.EnvFile)
	}
	if cfg.Ledger.Path != "" {
		cfg.Ledger.Path = anchor(dir, cfg.Ledger.Path)
	}
}

func anchor(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text, got %q", cfg.Service.LogFormat)
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		return fmt.Errorf("api.listen %q is not host:port: %w", cfg.API.Listen, err)
	}
	if cfg.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.max_body_bytes must be positive")
	}

	w := cfg.Worker
	if w.Executable == "" && len(w.Fallbacks) == 0 {
		return fmt.Errorf("worker.executable or worker.fallbacks is required")
	}
	if w.Timeout <= 0 {
		return fmt.Errorf("worker.timeout must be positive")
	}
	if w.TerminationGrace < 0 {
		return fmt.Errorf("worker.termination_grace must not be negative")
	}
	if w.MaxOutputBytes <= 0 {
		return fmt.Errorf("worker.max_output_bytes must be positive")
	}
	if w.MaxStderrBytes <= 0 {
		return fmt.Errorf("worker.max_stderr_bytes must be positive")
	}
	for k := range w.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("worker.env has invalid variable name %q", k)
		}
	}

	if cfg.Ledger.Retention < 0 {
		return fmt.Errorf("ledger.retention must not be negative")
	}

	return nil
}
