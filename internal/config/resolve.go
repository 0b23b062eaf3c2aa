package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// EnvWorkerOverride names the environment variable that overrides worker.executable.
const EnvWorkerOverride = "ASKBRIDGE_WORKER"

// WorkerNotFoundError reports that no worker executable candidate was usable.
type WorkerNotFoundError struct {
	Tried []string
}

func (e *WorkerNotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no worker executable configured (set worker.executable or $%s)", EnvWorkerOverride)
	}
	return fmt.Sprintf("no worker executable found (tried: %s); set $%s or worker.executable",
		strings.Join(e.Tried, ", "), EnvWorkerOverride)
}

// ResolveWorker returns the absolute path of the worker executable.
// Candidates are tried in order: $ASKBRIDGE_WORKER, worker.executable, then
// worker.fallbacks. Bare names go through PATH lookup; paths are resolved
// against the worker directory and must be executable regular files.
func ResolveWorker(w WorkerConfig) (string, error) {
	var candidates []string
	if override := os.Getenv(EnvWorkerOverride); override != "" {
		candidates = append(candidates, override)
	}
	if w.Executable != "" {
		candidates = append(candidates, w.Executable)
	}
	candidates = append(candidates, w.Fallbacks...)

	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tried = append(tried, c)
		if path, ok := lookupExecutable(c, w.Dir); ok {
			return path, nil
		}
	}

	return "", &WorkerNotFoundError{Tried: tried}
}

func lookupExecutable(candidate, dir string) (string, bool) {
	if !strings.ContainsRune(candidate, filepath.Separator) {
		path, err := exec.LookPath(candidate)
		if err != nil {
			return "", false
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", false
		}
		return abs, true
	}

	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if !isExecutableFile(path) {
		return "", false
	}
	return filepath.Clean(path), true
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// Environ returns the extra KEY=VALUE entries for the worker environment:
// entries from env_file first, then worker.env, which wins on conflicts.
// The result is sorted for stable process environments.
func (w WorkerConfig) Environ() ([]string, error) {
	merged := make(map[string]string)

	if w.EnvFile != "" {
		fileEnv, err := godotenv.Read(w.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read worker env file %s: %w", w.EnvFile, err)
		}
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	for k, v := range w.Env {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}
