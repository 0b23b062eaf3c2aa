// Package doctor checks that an askbridge configuration can actually serve
// requests on this host.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/askbridge/internal/config"
	"github.com/mattjoyce/askbridge/internal/storage"
)

// longTimeout is where worker.timeout starts to look like a mistake.
const longTimeout = 10 * time.Minute

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Strict promotes every warning to an error.
func (r *Result) Strict() {
	r.Errors = append(r.Errors, r.Warnings...)
	r.Warnings = nil
	r.Valid = len(r.Errors) == 0
}

// Doctor validates a loaded configuration against the local host.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validateAPI(r)
	d.validateWorkerLimits(r)
	d.validateWorkerExecutable(r)
	d.validateWorkerEnv(r)
	d.validateLedger(r)
	d.validateIntegrity(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	switch strings.ToLower(d.cfg.Service.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unknown log level %q, info will be used", d.cfg.Service.LogLevel))
	}
	switch strings.ToLower(d.cfg.Service.LogFormat) {
	case "json", "text":
	default:
		d.addError(r, "service", "service.log_format",
			fmt.Sprintf("log_format must be json or text, got %q", d.cfg.Service.LogFormat))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API

	host, port, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("%q is not host:port", api.Listen))
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid port %q", port))
	} else if isWildcardHost(host) && containsString(api.CORS.AllowedOrigins, "*") {
		d.addWarning(r, "api", "api.cors.allowed_origins",
			"listening on all interfaces with wildcard CORS; any website can reach the worker")
	}

	if api.MaxBodyBytes <= 0 {
		d.addError(r, "api", "api.max_body_bytes", "max_body_bytes must be positive")
	}
}

func (d *Doctor) validateWorkerLimits(r *Result) {
	w := d.cfg.Worker

	if w.Timeout <= 0 {
		d.addError(r, "worker", "worker.timeout", "timeout must be positive")
	} else if w.Timeout > longTimeout {
		d.addWarning(r, "worker", "worker.timeout",
			fmt.Sprintf("timeout %s is very long; clients will hold connections that long", w.Timeout))
	}
	if w.TerminationGrace < 0 {
		d.addError(r, "worker", "worker.termination_grace", "termination_grace must not be negative")
	}
	if w.MaxOutputBytes <= 0 {
		d.addError(r, "worker", "worker.max_output_bytes", "max_output_bytes must be positive")
	}
	if w.MaxStderrBytes <= 0 {
		d.addError(r, "worker", "worker.max_stderr_bytes", "max_stderr_bytes must be positive")
	}
}

func (d *Doctor) validateWorkerExecutable(r *Result) {
	w := d.cfg.Worker

	info, err := os.Stat(w.Dir)
	switch {
	case err != nil:
		d.addError(r, "worker", "worker.dir", fmt.Sprintf("working directory %s: %v", w.Dir, err))
	case !info.IsDir():
		d.addError(r, "worker", "worker.dir", fmt.Sprintf("%s is not a directory", w.Dir))
	}

	exe, err := config.ResolveWorker(w)
	if err != nil {
		d.addError(r, "worker", "worker.executable", err.Error())
	} else if override := os.Getenv(config.EnvWorkerOverride); override != "" {
		d.addWarning(r, "worker", "worker.executable",
			fmt.Sprintf("$%s overrides the configured executable with %s", config.EnvWorkerOverride, exe))
	}

	for i, arg := range w.Args {
		if !looksLikeScript(arg) {
			continue
		}
		p := arg
		if !filepath.IsAbs(p) {
			p = filepath.Join(w.Dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			d.addWarning(r, "worker", fmt.Sprintf("worker.args[%d]", i),
				fmt.Sprintf("script %s not found", p))
		}
	}
}

func (d *Doctor) validateWorkerEnv(r *Result) {
	w := d.cfg.Worker

	if _, err := w.Environ(); err != nil {
		d.addError(r, "env_vars", "worker.env_file", err.Error())
	}
	for k, v := range w.Env {
		if v == "" {
			d.addWarning(r, "env_vars", "worker.env."+k,
				"value is empty (possibly unresolved environment variable)")
		}
	}
}

func (d *Doctor) validateLedger(r *Result) {
	l := d.cfg.Ledger
	if l.Path == "" {
		return
	}

	if l.Retention < 0 {
		d.addError(r, "ledger", "ledger.retention", "retention must not be negative")
	} else if l.Retention == 0 {
		d.addWarning(r, "ledger", "ledger.retention", "retention is 0; the ledger is never pruned")
	}

	if err := storage.CheckLocalFilesystem(l.Path); err != nil {
		d.addError(r, "ledger", "ledger.path", err.Error())
		return
	}

	dir := filepath.Dir(l.Path)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		d.addWarning(r, "ledger", "ledger.path", fmt.Sprintf("directory %s does not exist and will be created", dir))
		return
	}
	probe, err := os.CreateTemp(dir, ".askbridge-doctor-*")
	if err != nil {
		d.addError(r, "ledger", "ledger.path", fmt.Sprintf("directory %s is not writable: %v", dir, err))
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
}

func (d *Doctor) validateIntegrity(r *Result) {
	if d.cfg.SourcePath == "" {
		d.addWarning(r, "integrity", "", "no config file found; running on built-in defaults")
		return
	}

	if _, err := config.LoadChecksums(d.cfg.ConfigDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.addWarning(r, "integrity", config.ChecksumFile,
				"config is not locked; run 'askbridge config lock' to pin worker files")
			return
		}
		d.addError(r, "integrity", config.ChecksumFile, err.Error())
		return
	}
	if err := config.VerifyChecksums(d.cfg); err != nil {
		d.addError(r, "integrity", config.ChecksumFile, err.Error())
	}
}

func isWildcardHost(host string) bool {
	return host == "" || host == "0.0.0.0" || host == "::"
}

// looksLikeScript reports whether a worker argument names a file rather
// than a flag or a literal value.
func looksLikeScript(arg string) bool {
	if arg == "" || strings.HasPrefix(arg, "-") {
		return false
	}
	return strings.ContainsRune(arg, filepath.Separator) || filepath.Ext(arg) != ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
