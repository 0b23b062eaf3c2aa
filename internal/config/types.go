package config

import "time"

// Config represents the complete askbridge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Worker  WorkerConfig  `yaml:"worker"`
	Ledger  LedgerConfig  `yaml:"ledger"`

	// ConfigDir is the base for relative paths. Set by the loader.
	ConfigDir string `yaml:"-" json:"-"`
	// SourcePath is the loaded file, empty when running on defaults.
	SourcePath string `yaml:"-" json:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP server settings.
type APIConfig struct {
	Listen       string     `yaml:"listen"`
	MaxBodyBytes int64      `yaml:"max_body_bytes"`
	CORS         CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin access for the browser client.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WorkerConfig describes the external worker process spawned per request.
type WorkerConfig struct {
	// Executable is a bare name (PATH lookup) or a path.
	Executable string `yaml:"executable"`
	// Args are passed verbatim; relative script paths resolve against Dir at exec time.
	Args             []string          `yaml:"args,omitempty"`
	Dir              string            `yaml:"dir"`
	Timeout          time.Duration     `yaml:"timeout"`
	TerminationGrace time.Duration     `yaml:"termination_grace"`
	MaxOutputBytes   int               `yaml:"max_output_bytes"`
	MaxStderrBytes   int               `yaml:"max_stderr_bytes"`
	Fallbacks        []string          `yaml:"fallbacks,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	EnvFile          string            `yaml:"env_file,omitempty"`
}

// LedgerConfig defines the optional invocation ledger.
type LedgerConfig struct {
	// Path to the SQLite database. Empty disables the ledger.
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// Defaults returns a Config with the values askbridge ships with.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "askbridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen:       "127.0.0.1:3001",
			MaxBodyBytes: 64 * 1024,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Worker: DefaultWorkerConf(),
		Ledger: LedgerConfig{
			Path:      "./data/askbridge.db",
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// DefaultWorkerConf returns the default worker configuration: a python3
// interpreter running ai_backend.py from the config directory.
func DefaultWorkerConf() WorkerConfig {
	return WorkerConfig{
		Executable:       "python3",
		Args:             []string{"ai_backend.py"},
		Timeout:          30 * time.Second,
		TerminationGrace: 5 * time.Second,
		MaxOutputBytes:   1 << 20,
		MaxStderrBytes:   64 * 1024,
		Fallbacks: []string{
			"/usr/bin/python3",
			"/usr/local/bin/python3",
			"/opt/anaconda3/bin/python3",
		},
	}
}
