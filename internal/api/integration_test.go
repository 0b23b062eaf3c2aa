//go:build unix

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/events"
	"github.com/mattjoyce/askbridge/internal/ledger"
	"github.com/mattjoyce/askbridge/internal/storage"
)

// startGateway serves a gateway backed by a real bridge running script.
func startGateway(t *testing.T, script string, timeout time.Duration) (*httptest.Server, *ledger.Ledger) {
	t.Helper()

	dir := t.TempDir()
	worker := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(worker, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	db, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l := ledger.New(db)

	b := bridge.New(bridge.Options{
		Executable:       worker,
		Dir:              dir,
		Timeout:          timeout,
		TerminationGrace: 200 * time.Millisecond,
	})
	srv := New(Config{}, b, l, events.NewHub(16), discardLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, l
}

func ask(t *testing.T, baseURL, message string) string {
	t.Helper()
	body, err := json.Marshal(AskRequest{Message: message})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/api/ask", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Response
}

func TestIntegration_AskRoundTrip(t *testing.T) {
	ts, l := startGateway(t, `read -r line; echo "  Paris  "`, 5*time.Second)

	assert.Equal(t, "Paris", ask(t, ts.URL, "What is the capital of France?"))

	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].Status)
	assert.Equal(t, "answer", entries[0].Kind)
	require.NotNil(t, entries[0].ExitCode)
	assert.Equal(t, 0, *entries[0].ExitCode)
	assert.Equal(t, len("What is the capital of France?"), entries[0].MessageBytes)
}

func TestIntegration_WorkerFailure(t *testing.T) {
	ts, _ := startGateway(t, `cat >/dev/null; printf 'rate limited' >&2; exit 1`, 5*time.Second)
	assert.Equal(t, "rate limited", ask(t, ts.URL, "hello"))
}

func TestIntegration_EmptyWithDebugInfo(t *testing.T) {
	ts, _ := startGateway(t, `cat >/dev/null; printf 'no key configured' >&2`, 5*time.Second)
	assert.Equal(t, "Error: No response from worker\n\nDebug info:\nno key configured", ask(t, ts.URL, "hello"))
}

func TestIntegration_Timeout(t *testing.T) {
	ts, l := startGateway(t, `exec sleep 30`, 300*time.Millisecond)

	start := time.Now()
	assert.Equal(t, MsgTimeout, ask(t, ts.URL, "hello"))
	assert.Less(t, time.Since(start), 5*time.Second)

	entries, err := l.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "timed_out", entries[0].Status)
	assert.Contains(t, entries[0].Error, "timed out")
}

func TestIntegration_SpawnFailure(t *testing.T) {
	b := bridge.New(bridge.Options{Executable: filepath.Join(t.TempDir(), "missing"), Timeout: time.Second})
	srv := New(Config{}, b, nil, nil, discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	assert.Equal(t, MsgSpawnFailed, ask(t, ts.URL, "hello"))
}
