// Package ledger keeps a metadata-only history of worker invocations.
// Message and response text are never stored.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/askbridge/internal/bridge"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for unknown invocation ids.
var ErrNotFound = errors.New("invocation not found")

// Entry is one row of the invocations table.
type Entry struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id,omitempty"`
	Status       string        `json:"status"`
	Kind         string        `json:"kind,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	Signal       string        `json:"signal,omitempty"`
	PID          int           `json:"pid,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration"`
	MessageBytes int           `json:"message_bytes"`
	StdoutBytes  int64         `json:"stdout_bytes"`
	StderrBytes  int64         `json:"stderr_bytes"`
	Truncated    bool          `json:"truncated"`
	Error        string        `json:"error,omitempty"`
}

// NewEntry summarizes a finished invocation.
func NewEntry(res *bridge.Result, execErr error, requestID string, messageBytes int) Entry {
	e := Entry{
		ID:           res.InvocationID,
		RequestID:    requestID,
		Status:       res.State.String(),
		Signal:       res.Signal,
		PID:          res.PID,
		StartedAt:    res.StartedAt.UTC(),
		CompletedAt:  res.StartedAt.Add(res.Duration).UTC(),
		Duration:     res.Duration,
		MessageBytes: messageBytes,
		StdoutBytes:  res.StdoutBytes,
		StderrBytes:  res.StderrBytes,
		Truncated:    res.StdoutTruncated || res.StderrTruncated,
	}
	if res.State == bridge.StateCompleted {
		e.Kind = res.Kind.String()
	}
	if res.ExitCode >= 0 {
		code := res.ExitCode
		e.ExitCode = &code
	}
	if execErr != nil {
		e.Error = execErr.Error()
	}
	return e
}

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record inserts e. Recording the same id twice is an error.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}

	var exitCode sql.NullInt64
	if e.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO invocations(
  id, request_id, status, kind, exit_code, signal, pid, started_at, completed_at,
  duration_ms, message_bytes, stdout_bytes, stderr_bytes, truncated, error
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID,
		nullString(e.RequestID),
		e.Status,
		nullString(e.Kind),
		exitCode,
		nullString(e.Signal),
		e.PID,
		e.StartedAt.UTC().Format(timeLayout),
		e.CompletedAt.UTC().Format(timeLayout),
		e.Duration.Milliseconds(),
		e.MessageBytes,
		e.StdoutBytes,
		e.StderrBytes,
		e.Truncated,
		nullString(e.Error),
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// Get returns the entry for id, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read invocation %q: %w", id, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, selectColumns+` ORDER BY completed_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Prune deletes entries that completed before now minus retention and
// returns how many were removed. A zero retention keeps everything.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := l.db.ExecContext(ctx, `DELETE FROM invocations WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune invocations: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
SELECT id, request_id, status, kind, exit_code, signal, pid, started_at, completed_at,
       duration_ms, message_bytes, stdout_bytes, stderr_bytes, truncated, error
FROM invocations`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                      Entry
		requestID, kind, errS  sql.NullString
		signal                 sql.NullString
		exitCode, pid          sql.NullInt64
		startedAt, completedAt string
		durationMS             int64
	)
	if err := s.Scan(
		&e.ID, &requestID, &e.Status, &kind, &exitCode, &signal, &pid, &startedAt, &completedAt,
		&durationMS, &e.MessageBytes, &e.StdoutBytes, &e.StderrBytes, &e.Truncated, &errS,
	); err != nil {
		return nil, err
	}

	var err error
	if e.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if e.CompletedAt, err = time.Parse(timeLayout, completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	e.RequestID = requestID.String
	e.Kind = kind.String
	e.Signal = signal.String
	e.Error = errS.String
	e.PID = int(pid.Int64)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
