package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeBlake3Hash_Stable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := ComputeBlake3Hash(path)
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("unexpected hash values %q %q", h1, h2)
	}
	if err := VerifyFileHash(path, h1); err != nil {
		t.Fatalf("VerifyFileHash: %v", err)
	}
	if err := VerifyFileHash(path, strings.Repeat("0", 64)); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func lockedConfig(t *testing.T) (dir, configPath, script string) {
	t.Helper()
	dir = t.TempDir()
	script = filepath.Join(dir, "ai_backend.py")
	if err := os.WriteFile(script, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = writeConfig(t, dir, "worker:\n  executable: python3\n  args: [ai_backend.py]\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load before lock: %v", err)
	}
	report, err := GenerateChecksums(cfg, false)
	if err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}
	if !report.Written || len(report.Files) != 2 {
		t.Fatalf("expected config and script hashed, got %+v", report)
	}
	return dir, configPath, script
}

func TestGenerateChecksums_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: dry\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	report, err := GenerateChecksums(cfg, true)
	if err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}
	if report.Written {
		t.Fatal("dry run should not write")
	}
	if _, err := os.Stat(filepath.Join(dir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatalf("manifest should not exist, stat err = %v", err)
	}
}

func TestLoad_VerifiesLockedFiles(t *testing.T) {
	_, configPath, _ := lockedConfig(t)

	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load after lock should pass: %v", err)
	}
}

func TestLoad_DetectsTamperedScript(t *testing.T) {
	_, configPath, script := lockedConfig(t)

	if err := os.WriteFile(script, []byte("print('pwned')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestLoad_DetectsTamperedConfig(t *testing.T) {
	_, configPath, _ := lockedConfig(t)

	f, err := os.OpenFile(configPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("# edited\n")
	_ = f.Close()

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected verification failure for edited config")
	}
}

func TestLoad_DetectsDeletedTrackedFile(t *testing.T) {
	_, configPath, script := lockedConfig(t)

	if err := os.Remove(script); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "missing from disk") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestLoadUnverified_AllowsRelockAfterEdit(t *testing.T) {
	_, configPath, script := lockedConfig(t)

	if err := os.WriteFile(script, []byte("print('v2')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Fatal("expected Load to reject the edited script")
	}

	cfg, err := LoadUnverified(configPath)
	if err != nil {
		t.Fatalf("LoadUnverified: %v", err)
	}
	if _, err := GenerateChecksums(cfg, false); err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}
	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load after relock: %v", err)
	}
}

func TestTrackedFiles_SkipsFlagsAndMissing(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{
		ConfigDir: dir,
		Worker: WorkerConfig{
			Executable: "./run.sh",
			Args:       []string{"-u", "missing.py", ""},
			Dir:        dir,
		},
	}

	files := TrackedFiles(cfg)
	if len(files) != 1 || files[0] != script {
		t.Fatalf("expected only %s, got %v", script, files)
	}
}
