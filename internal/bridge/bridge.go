package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/askbridge/internal/config"
	"github.com/mattjoyce/askbridge/internal/log"
	"github.com/mattjoyce/askbridge/internal/protocol"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultTerminationGrace = 5 * time.Second
	defaultMaxOutputBytes   = 1 << 20
	defaultMaxStderrBytes   = 64 * 1024

	// maxLoggedStderr bounds the stderr excerpt written to debug logs.
	maxLoggedStderr = 4 * 1024
)

// Kind classifies a worker that terminated on its own.
type Kind int

const (
	// KindAnswer means stdout holds the answer.
	KindAnswer Kind = iota
	// KindEmpty means the worker produced no stdout.
	KindEmpty
	// KindWorkerFailure means a non-zero exit with stderr explaining why.
	KindWorkerFailure
)

func (k Kind) String() string {
	switch k {
	case KindAnswer:
		return "answer"
	case KindEmpty:
		return "empty"
	case KindWorkerFailure:
		return "worker_failure"
	default:
		return "unknown"
	}
}

// Options configures how workers are launched.
type Options struct {
	Executable string
	Args       []string
	Dir        string
	// Env entries are appended to the askbridge process environment.
	Env              []string
	Timeout          time.Duration
	TerminationGrace time.Duration
	MaxOutputBytes   int
	MaxStderrBytes   int
}

// OptionsFromConfig builds Options for a resolved executable path.
func OptionsFromConfig(executable string, w config.WorkerConfig) (Options, error) {
	env, err := w.Environ()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Executable:       executable,
		Args:             append([]string(nil), w.Args...),
		Dir:              w.Dir,
		Env:              env,
		Timeout:          w.Timeout,
		TerminationGrace: w.TerminationGrace,
		MaxOutputBytes:   w.MaxOutputBytes,
		MaxStderrBytes:   w.MaxStderrBytes,
	}, nil
}

// Result describes one invocation. Execute returns a non-nil Result on
// every path; fields that do not apply to the outcome are left zero.
type Result struct {
	InvocationID string
	State        State
	Kind         Kind
	// Started is false when the process was never launched.
	Started bool
	PID     int
	// ExitCode is -1 when no exit status was observed or the process was
	// killed by a signal.
	ExitCode int
	// Signal names the signal that killed the process, if any.
	Signal string

	Stdout          string
	Stderr          string
	StdoutBytes     int64
	StderrBytes     int64
	StdoutTruncated bool
	StderrTruncated bool

	// WriteErr records a failed stdin write. It never fails the invocation
	// because the worker may still have answered.
	WriteErr error

	StartedAt time.Time
	Duration  time.Duration
}

// Answer returns stdout with surrounding whitespace removed.
func (r *Result) Answer() string {
	return strings.TrimSpace(r.Stdout)
}

// Bridge launches one worker process per Execute call. It holds no
// per-request state and is safe for concurrent use.
type Bridge struct {
	opts Options
}

// New creates a Bridge, filling zero options with defaults.
func New(opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TerminationGrace < 0 {
		opts.TerminationGrace = defaultTerminationGrace
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	if opts.MaxStderrBytes <= 0 {
		opts.MaxStderrBytes = defaultMaxStderrBytes
	}
	return &Bridge{opts: opts}
}

// Timeout returns the per-invocation deadline.
func (b *Bridge) Timeout() time.Duration { return b.opts.Timeout }

// TerminationGrace returns the SIGTERM-to-SIGKILL delay.
func (b *Bridge) TerminationGrace() time.Duration { return b.opts.TerminationGrace }

// completion is what the reaper goroutine reports once all pipes drained
// and the process was reaped.
type completion struct {
	ioErr   error
	waitErr error
}

// Execute runs the worker for message and blocks until the invocation is
// resolved. Cancelling ctx terminates the worker like a timeout does.
func (b *Bridge) Execute(ctx context.Context, message string) (*Result, error) {
	inv := newInvocation(uuid.NewString(), b.opts.MaxOutputBytes, b.opts.MaxStderrBytes)
	logger := log.WithInvocation(inv.id).With("component", "bridge")
	res := &Result{InvocationID: inv.id, ExitCode: -1, StartedAt: time.Now()}

	var payload bytes.Buffer
	if err := protocol.EncodePayload(&payload, &protocol.Payload{Message: message}); err != nil {
		inv.resolve(StateStreamError)
		return b.finish(inv, res), &StreamError{Op: "encode payload", Err: err}
	}

	p, err := openPipes()
	if err != nil {
		inv.resolve(StateSpawnFailed)
		logger.Error("worker spawn failed", "executable", b.opts.Executable, "error", err)
		return b.finish(inv, res), &SpawnError{Executable: b.opts.Executable, Err: err}
	}
	defer p.closeAll()

	cmd := exec.Command(b.opts.Executable, b.opts.Args...)
	cmd.Dir = b.opts.Dir
	cmd.Env = append(os.Environ(), b.opts.Env...)
	cmd.Stdin = p.stdinR
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	configureProcess(cmd)

	logger.Debug("spawning worker", "executable", b.opts.Executable, "dir", b.opts.Dir, "timeout", b.opts.Timeout)

	if err := cmd.Start(); err != nil {
		inv.resolve(StateSpawnFailed)
		logger.Error("worker spawn failed", "executable", b.opts.Executable, "error", err)
		return b.finish(inv, res), &SpawnError{Executable: b.opts.Executable, Err: err}
	}
	inv.markStarted(cmd.Process.Pid)
	p.closeChildEnds()
	logger.Info("worker spawned", "pid", inv.pid, "message_bytes", len(message))

	// Timer starts with the process so that a slow stdin write counts against it.
	timer := time.NewTimer(b.opts.Timeout)
	defer timer.Stop()

	var g errgroup.Group
	g.Go(func() error {
		defer p.stdinW.Close()
		if _, err := p.stdinW.Write(payload.Bytes()); err != nil {
			inv.writeErr = err
		}
		return nil
	})
	g.Go(func() error {
		return drain("read stdout", p.stdoutR, captureSink("stdout", inv.stdout))
	})
	g.Go(func() error {
		return drain("read stderr", p.stderrR, captureSink("stderr", inv.stderr))
	})

	done := make(chan completion, 1)
	go func() {
		ioErr := g.Wait()
		waitErr := cmd.Wait()
		done <- completion{ioErr: ioErr, waitErr: waitErr}
	}()

	select {
	case c := <-done:
		return b.complete(inv, res, c, logger)

	case <-timer.C:
		// A completion that is already waiting wins: the process is reaped and
		// its output is whole.
		select {
		case c := <-done:
			return b.complete(inv, res, c, logger)
		default:
		}
		inv.resolve(StateTimedOut)
		logger.Warn("worker timed out, terminating", "pid", inv.pid, "timeout", b.opts.Timeout)
		b.terminate(cmd.Process, p, done, logger)
		res.ExitCode = exitCode(cmd)
		res.Signal = exitSignal(cmd.ProcessState)
		return b.finish(inv, res), &TimeoutError{After: b.opts.Timeout}

	case <-ctx.Done():
		inv.resolve(StateCanceled)
		logger.Warn("worker canceled, terminating", "pid", inv.pid, "error", ctx.Err())
		b.terminate(cmd.Process, p, done, logger)
		res.ExitCode = exitCode(cmd)
		res.Signal = exitSignal(cmd.ProcessState)
		return b.finish(inv, res), &CanceledError{Err: ctx.Err()}
	}
}

// complete resolves an invocation whose process terminated on its own.
func (b *Bridge) complete(inv *invocation, res *Result, c completion, logger *slog.Logger) (*Result, error) {
	if inv.writeErr != nil {
		logger.Warn("failed to write payload to worker stdin", "error", inv.writeErr)
	}

	if c.ioErr != nil {
		inv.resolve(StateStreamError)
		logger.Error("worker stream failed", "error", c.ioErr)
		return b.finish(inv, res), c.ioErr
	}

	code := 0
	signal := ""
	if c.waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(c.waitErr, &exitErr) {
			inv.resolve(StateStreamError)
			logger.Error("wait for worker failed", "error", c.waitErr)
			return b.finish(inv, res), &StreamError{Op: "wait for worker", Err: c.waitErr}
		}
		code = exitErr.ExitCode()
		signal = exitSignal(exitErr.ProcessState)
	}

	inv.resolve(StateCompleted)
	res.ExitCode = code
	res.Signal = signal
	b.finish(inv, res)

	switch {
	case code != 0 && res.Stderr != "":
		res.Kind = KindWorkerFailure
	case res.Answer() == "":
		res.Kind = KindEmpty
	default:
		// Non-zero exit without stderr lands here too and is treated as an answer.
		res.Kind = KindAnswer
	}

	logger.Info("worker exited",
		"pid", res.PID,
		"exit_code", code,
		"signal", signal,
		"kind", res.Kind.String(),
		"stdout_bytes", res.StdoutBytes,
		"stderr_bytes", res.StderrBytes,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if res.Stderr != "" {
		logger.Debug("worker stderr", "stderr", excerpt(res.Stderr, maxLoggedStderr))
	}
	return res, nil
}

// terminate sends SIGTERM to the worker's group, escalates to SIGKILL after
// the grace period, and returns once the process has been reaped.
func (b *Bridge) terminate(proc *os.Process, p *pipes, done <-chan completion, logger *slog.Logger) {
	if err := signalWorker(proc, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "pid", proc.Pid, "error", err)
	}

	grace := time.NewTimer(b.opts.TerminationGrace)
	defer grace.Stop()

	select {
	case <-done:
		logger.Info("worker exited after SIGTERM", "pid", proc.Pid)
		return
	case <-grace.C:
	}

	logger.Warn("worker did not exit after SIGTERM, sending SIGKILL", "pid", proc.Pid)
	if err := signalWorker(proc, syscall.SIGKILL); err != nil {
		logger.Error("failed to send SIGKILL", "pid", proc.Pid, "error", err)
	}
	// Descendants that escaped the group may still hold the pipes open.
	p.closeParentEnds()
	<-done
}

// finish copies accumulated state into res. Callers must only invoke it
// after the drains have joined or were never started.
func (b *Bridge) finish(inv *invocation, res *Result) *Result {
	res.State = inv.State()
	res.Started = inv.started
	res.PID = inv.pid
	res.Stdout = inv.stdout.String()
	res.Stderr = inv.stderr.String()
	res.StdoutBytes = inv.stdout.Total()
	res.StderrBytes = inv.stderr.Total()
	res.StdoutTruncated = inv.stdout.Truncated()
	res.StderrTruncated = inv.stderr.Truncated()
	res.WriteErr = inv.writeErr
	res.Duration = time.Since(res.StartedAt)
	return res
}

// captureSink returns the writer a drain copies stream into. Tests swap it
// to inject copy failures.
var captureSink = func(stream string, c *captureBuffer) io.Writer { return c }

// drain copies r into w until EOF. After a failure it keeps reading into
// io.Discard so the worker never blocks on a full pipe.
func drain(op string, r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return &StreamError{Op: op, Err: err}
	}
	return nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... (%d bytes truncated)", len(s)-max)
}
