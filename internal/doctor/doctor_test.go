package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/askbridge/internal/config"
)

// validConfig returns a locked configuration whose worker exists.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.EnvWorkerOverride, "")

	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("worker:\n  executable: ./worker.sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Worker.Args = nil
	cfg.Ledger.Path = filepath.Join(dir, "askbridge.db")
	if _, err := config.GenerateChecksums(cfg, false); err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	r := New(validConfig(t)).Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}
}

func TestValidate_WorkerNotResolvable(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Executable = "./missing.sh"
	cfg.Worker.Fallbacks = nil

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	assertHasError(t, r, "worker", "no worker executable found")
}

func TestValidate_WorkerDirMissing(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Dir = filepath.Join(cfg.ConfigDir, "nope")
	cfg.Worker.Executable = filepath.Join(cfg.ConfigDir, "worker.sh")

	r := New(cfg).Validate()
	assertHasError(t, r, "worker", "working directory")
}

func TestValidate_MissingScriptArg(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Args = []string{"-u", "ai_backend.py"}

	r := New(cfg).Validate()
	assertHasWarning(t, r, "worker", "ai_backend.py not found")
}

func TestValidate_Limits(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Timeout = 0
	cfg.Worker.TerminationGrace = -time.Second
	cfg.Worker.MaxOutputBytes = 0
	cfg.API.MaxBodyBytes = -1

	r := New(cfg).Validate()
	assertHasError(t, r, "worker", "timeout must be positive")
	assertHasError(t, r, "worker", "termination_grace")
	assertHasError(t, r, "worker", "max_output_bytes")
	assertHasError(t, r, "api", "max_body_bytes")
}

func TestValidate_LongTimeoutWarns(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Timeout = time.Hour

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("unexpected errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "worker", "very long")
}

func TestValidate_ListenAddress(t *testing.T) {
	cfg := validConfig(t)
	cfg.API.Listen = "localhost:http-alt"
	assertHasError(t, New(cfg).Validate(), "api", "invalid port")

	cfg.API.Listen = "3001"
	assertHasError(t, New(cfg).Validate(), "api", "not host:port")

	cfg.API.Listen = "0.0.0.0:3001"
	cfg.API.CORS.AllowedOrigins = []string{"*"}
	assertHasWarning(t, New(cfg).Validate(), "api", "wildcard CORS")
}

func TestValidate_EnvFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.EnvFile = filepath.Join(cfg.ConfigDir, "missing.env")
	cfg.Worker.Env = map[string]string{"OPENAI_API_KEY": ""}

	r := New(cfg).Validate()
	assertHasError(t, r, "env_vars", "missing.env")
	assertHasWarning(t, r, "env_vars", "possibly unresolved")
}

func TestValidate_LedgerNotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	cfg := validConfig(t)
	ro := filepath.Join(cfg.ConfigDir, "ro")
	if err := os.Mkdir(ro, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(ro, 0o755) })
	cfg.Ledger.Path = filepath.Join(ro, "askbridge.db")

	assertHasError(t, New(cfg).Validate(), "ledger", "not writable")
}

func TestValidate_LedgerDirCreatedLater(t *testing.T) {
	cfg := validConfig(t)
	cfg.Ledger.Path = filepath.Join(cfg.ConfigDir, "data", "askbridge.db")
	cfg.Ledger.Retention = 0

	r := New(cfg).Validate()
	assertHasWarning(t, r, "ledger", "will be created")
	assertHasWarning(t, r, "ledger", "never pruned")
}

func TestValidate_Integrity(t *testing.T) {
	cfg := validConfig(t)
	script := filepath.Join(cfg.ConfigDir, "worker.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho tampered\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	assertHasError(t, New(cfg).Validate(), "integrity", "hash mismatch")

	if err := os.Remove(filepath.Join(cfg.ConfigDir, config.ChecksumFile)); err != nil {
		t.Fatal(err)
	}
	assertHasWarning(t, New(cfg).Validate(), "integrity", "not locked")
}

func TestValidate_Defaults(t *testing.T) {
	t.Setenv(config.EnvWorkerOverride, "")
	cfg, err := config.FromDefaults(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	assertHasWarning(t, New(cfg).Validate(), "integrity", "built-in defaults")
}

func TestResult_Strict(t *testing.T) {
	r := &Result{Valid: true, Warnings: []Issue{{Category: "ledger", Message: "never pruned"}}}
	r.Strict()
	if r.Valid || len(r.Errors) != 1 || len(r.Warnings) != 0 {
		t.Fatalf("unexpected strict result: %+v", r)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"message": "bad thing"`) {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	if out := FormatHuman(&Result{Valid: true}); out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	out := FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "worker", Field: "worker.timeout", Message: "broken"}},
		Warnings: []Issue{{Category: "integrity", Message: "not locked"}},
	})
	for _, want := range []string{"1 error(s), 1 warning(s)", "ERROR [worker] worker.timeout: broken", "WARN  [integrity] not locked"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %s", want, out)
		}
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
