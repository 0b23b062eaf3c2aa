package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var remoteFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// CheckLocalFilesystem rejects database paths on network mounts, where
// SQLite file locking is unreliable.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		// Unknown platforms cannot tell; let SQLite try.
		if errors.Is(err, errUnsupportedPlatform) {
			return nil
		}
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("ledger path %q is on network filesystem %q; set ledger.path to a local disk", path, fsType)
	}
	return nil
}

var errUnsupportedPlatform = errors.New("filesystem detection unsupported on this platform")

// existingAncestor walks up from path to the first component that exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}
