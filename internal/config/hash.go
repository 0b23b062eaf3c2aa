package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to the config file.
const ChecksumFile = ".checksums"

// ChecksumManifest records BLAKE3 hashes keyed by path relative to the config dir.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// HashUpdateFileResult captures checksum generation outcome for one file.
type HashUpdateFileResult struct {
	Key  string
	Path string
	Hash string
}

// HashUpdateReport captures checksum generation details.
type HashUpdateReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []HashUpdateFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// TrackedFiles lists the files whose integrity `config lock` pins: the
// config file, the worker env file, and any worker executable or argument
// that names an existing file under the worker directory.
func TrackedFiles(cfg *Config) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		seen[p] = true
		files = append(files, p)
	}

	add(cfg.SourcePath)
	add(cfg.Worker.EnvFile)

	if strings.ContainsRune(cfg.Worker.Executable, filepath.Separator) {
		add(anchor(cfg.Worker.Dir, cfg.Worker.Executable))
	}
	for _, arg := range cfg.Worker.Args {
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		add(anchor(cfg.Worker.Dir, arg))
	}

	sort.Strings(files)
	return files
}

// GenerateChecksums hashes TrackedFiles and writes the manifest.
// When dryRun is true, it computes hashes and returns the report without writing.
func GenerateChecksums(cfg *Config, dryRun bool) (*HashUpdateReport, error) {
	if cfg.ConfigDir == "" {
		return nil, fmt.Errorf("config dir is empty")
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}

	report := &HashUpdateReport{
		ConfigDir:    cfg.ConfigDir,
		ChecksumPath: filepath.Join(cfg.ConfigDir, ChecksumFile),
	}

	for _, path := range TrackedFiles(cfg) {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		key := manifestKey(cfg.ConfigDir, path)
		manifest.Hashes[key] = hash
		report.Files = append(report.Files, HashUpdateFileResult{Key: key, Path: path, Hash: hash})
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest holds expected hashes.
	if err := os.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true

	return report, nil
}

// LoadChecksums reads the manifest from configDir.
// Returns os.ErrNotExist (wrapped) when no manifest is present.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyChecksums checks every hashed file against the manifest in the
// config dir. A missing manifest disables verification.
func VerifyChecksums(cfg *Config) error {
	manifest, err := LoadChecksums(cfg.ConfigDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	if cfg.SourcePath != "" {
		if _, ok := manifest.Hashes[manifestKey(cfg.ConfigDir, cfg.SourcePath)]; !ok {
			return fmt.Errorf("config file %s has no hash in %s\n"+
				"Run: askbridge config lock --config %s", cfg.SourcePath, ChecksumFile, cfg.SourcePath)
		}
	}

	keys := make([]string, 0, len(manifest.Hashes))
	for k := range manifest.Hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := anchor(cfg.ConfigDir, key)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("file %s is in %s but missing from disk", path, ChecksumFile)
		}
		if err := VerifyFileHash(path, manifest.Hashes[key]); err != nil {
			return fmt.Errorf("config verification failed for %s: %w\n"+
				"This indicates tampering or unauthorized modification.\n"+
				"If you edited this file intentionally, run: askbridge config lock", path, err)
		}
	}

	return nil
}

func manifestKey(configDir, path string) string {
	rel, err := filepath.Rel(configDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
