package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func entryAt(id string, completed time.Time) Entry {
	code := 0
	return Entry{
		ID:          id,
		Status:      "completed",
		Kind:        "answer",
		ExitCode:    &code,
		PID:         100,
		StartedAt:   completed.Add(-time.Second),
		CompletedAt: completed,
		Duration:    time.Second,
	}
}

func TestNewEntry(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		res      *bridge.Result
		err      error
		wantKind string
		wantCode *int
		wantErr  string
	}{
		{
			name: "completed answer",
			res: &bridge.Result{
				InvocationID: "a", State: bridge.StateCompleted, Kind: bridge.KindAnswer,
				ExitCode: 0, StartedAt: started, Duration: 2 * time.Second,
			},
			wantKind: "answer",
			wantCode: intPtr(0),
		},
		{
			name: "timed out",
			res: &bridge.Result{
				InvocationID: "b", State: bridge.StateTimedOut, ExitCode: -1,
				StartedAt: started, Duration: 30 * time.Second, StderrTruncated: true,
			},
			err:     &bridge.TimeoutError{After: 30 * time.Second},
			wantErr: "worker timed out after 30s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntry(tt.res, tt.err, "req-1", 12)
			assert.Equal(t, tt.res.InvocationID, e.ID)
			assert.Equal(t, tt.res.State.String(), e.Status)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantCode, e.ExitCode)
			assert.Equal(t, tt.res.StartedAt.Add(tt.res.Duration), e.CompletedAt)
			assert.Equal(t, 12, e.MessageBytes)
			assert.Equal(t, tt.res.StderrTruncated, e.Truncated)
			if tt.wantErr != "" {
				assert.Contains(t, e.Error, tt.wantErr)
			} else {
				assert.Empty(t, e.Error)
			}
		})
	}
}

func TestLedger_RecordAndGet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	want := entryAt("inv-1", time.Now().UTC().Truncate(time.Millisecond))
	want.RequestID = "req-1"
	want.StderrBytes = 99
	want.Truncated = true
	require.NoError(t, l.Record(ctx, want))

	got, err := l.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "answer", got.Kind)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.True(t, want.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, time.Second, got.Duration)
	assert.Equal(t, int64(99), got.StderrBytes)
	assert.True(t, got.Truncated)

	assert.Error(t, l.Record(ctx, want), "duplicate id must be rejected")
}

func TestLedger_NullableColumns(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	e := Entry{
		ID:          "spawn",
		Status:      "spawn_failed",
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		Error:       "exec: not found",
	}
	require.NoError(t, l.Record(ctx, e))

	got, err := l.Get(ctx, "spawn")
	require.NoError(t, err)
	assert.Nil(t, got.ExitCode)
	assert.Empty(t, got.Kind)
	assert.Empty(t, got.RequestID)
	assert.Equal(t, "exec: not found", got.Error)
}

func TestLedger_SignalDistinguishesKilledWorker(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	res := &bridge.Result{
		InvocationID: "killed",
		State:        bridge.StateCompleted,
		Kind:         bridge.KindEmpty,
		ExitCode:     -1,
		Signal:       "SIGKILL",
		StartedAt:    time.Now(),
	}
	require.NoError(t, l.Record(ctx, NewEntry(res, nil, "", 5)))

	got, err := l.Get(ctx, "killed")
	require.NoError(t, err)
	assert.Nil(t, got.ExitCode)
	assert.Equal(t, "SIGKILL", got.Signal)

	require.NoError(t, l.Record(ctx, entryAt("clean", time.Now())))
	got, err = l.Get(ctx, "clean")
	require.NoError(t, err)
	assert.Empty(t, got.Signal)
}

func TestLedger_GetMissing(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLedger_RecentNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, l.Record(ctx, entryAt(id, base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}

func TestLedger_Prune(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Record(ctx, entryAt("stale", now.Add(-48*time.Hour))))
	require.NoError(t, l.Record(ctx, entryAt("fresh", now.Add(-time.Minute))))

	n, err := l.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero retention keeps everything")

	n, err = l.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func intPtr(v int) *int { return &v }
