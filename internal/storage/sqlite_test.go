package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSQLiteBootstrapsLedger(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "askbridge.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "invocations").Scan(&name); err != nil {
		t.Fatalf("invocations table missing: %v", err)
	}

	// Re-running the schema must be a no-op.
	if err := Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
}

func TestOpenSQLiteMemory(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`INSERT INTO invocations (id, status, started_at, completed_at, duration_ms) VALUES ('a', 'completed', 'x', 'y', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "a", "b", "ledger.db")

	tests := []struct {
		name    string
		fsType  string
		detErr  error
		wantErr string
	}{
		{name: "local", fsType: "ext4"},
		{name: "hex magic", fsType: "0xef53"},
		{name: "nfs", fsType: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "smb upper case", fsType: "SMBFS", wantErr: "set ledger.path to a local disk"},
		{name: "unsupported platform", detErr: errUnsupportedPlatform},
		{name: "detector failure", detErr: errors.New("boom"), wantErr: "detect filesystem"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var inspected string
			err := checkLocalFilesystem(dbPath, func(p string) (string, error) {
				inspected = p
				return tt.fsType, tt.detErr
			})
			if inspected != root {
				t.Fatalf("inspected %q, want nearest existing ancestor %q", inspected, root)
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpenSQLiteReadOnly(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	if _, err := OpenSQLiteReadOnly(context.Background(), dbPath); !IsMissing(err) {
		t.Fatalf("expected missing-file error, got %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatalf("read-only open created %s: %v", dbPath, err)
	}

	rw, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := rw.Exec(`INSERT INTO invocations (id, status, started_at, completed_at, duration_ms) VALUES ('a', 'completed', 'x', 'y', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = rw.Close()

	ro, err := OpenSQLiteReadOnly(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteReadOnly: %v", err)
	}
	t.Cleanup(func() { _ = ro.Close() })

	var n int
	if err := ro.QueryRow(`SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
	if _, err := ro.Exec(`DELETE FROM invocations`); err == nil {
		t.Fatal("expected write through read-only handle to fail")
	}
}

func TestBootstrapAddsSignalColumnToOlderLedger(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`CREATE TABLE invocations (
  id TEXT PRIMARY KEY, request_id TEXT, status TEXT NOT NULL, kind TEXT, exit_code INTEGER,
  pid INTEGER, started_at TEXT NOT NULL, completed_at TEXT NOT NULL, duration_ms INTEGER NOT NULL,
  message_bytes INTEGER NOT NULL DEFAULT 0, stdout_bytes INTEGER NOT NULL DEFAULT 0,
  stderr_bytes INTEGER NOT NULL DEFAULT 0, truncated INTEGER NOT NULL DEFAULT 0, error TEXT)`); err != nil {
		t.Fatalf("create old schema: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := Bootstrap(context.Background(), db); err != nil {
			t.Fatalf("Bootstrap #%d: %v", i+1, err)
		}
	}
	if _, err := db.Exec(`INSERT INTO invocations (id, status, signal, started_at, completed_at, duration_ms) VALUES ('a', 'completed', 'SIGKILL', 'x', 'y', 1)`); err != nil {
		t.Fatalf("insert with signal: %v", err)
	}
}
