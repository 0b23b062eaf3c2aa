package bridge

import (
	"bytes"
	"sync/atomic"
)

// State is the lifecycle position of one invocation.
type State int32

const (
	StateNotStarted State = iota
	StateStarted
	StateCompleted
	StateTimedOut
	StateSpawnFailed
	StateStreamError
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateSpawnFailed:
		return "spawn_failed"
	case StateStreamError:
		return "stream_error"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// invocation is one worker process run. Accumulators are written only by
// their drain goroutine and read after the drains have joined.
type invocation struct {
	id    string
	state atomic.Int32

	pid     int
	started bool

	stdout   *captureBuffer
	stderr   *captureBuffer
	writeErr error
}

func newInvocation(id string, maxStdout, maxStderr int) *invocation {
	return &invocation{
		id:     id,
		stdout: newCaptureBuffer(maxStdout),
		stderr: newCaptureBuffer(maxStderr),
	}
}

func (inv *invocation) State() State {
	return State(inv.state.Load())
}

// markStarted records a successful launch.
func (inv *invocation) markStarted(pid int) bool {
	if !inv.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarted)) {
		return false
	}
	inv.pid = pid
	inv.started = true
	return true
}

// resolve moves the invocation into terminal state s. Only the first call
// wins; it returns false if the invocation was already resolved.
func (inv *invocation) resolve(s State) bool {
	if !s.Terminal() {
		return false
	}
	for {
		cur := State(inv.state.Load())
		if cur.Terminal() {
			return false
		}
		if inv.state.CompareAndSwap(int32(cur), int32(s)) {
			return true
		}
	}
}

// captureBuffer accumulates up to limit bytes and silently drops the rest,
// so a drain never stops reading and the worker never blocks on a full pipe.
type captureBuffer struct {
	buf       bytes.Buffer
	limit     int
	total     int64
	truncated bool
}

func newCaptureBuffer(limit int) *captureBuffer {
	return &captureBuffer{limit: limit}
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.total += int64(len(p))

	room := c.limit - c.buf.Len()
	switch {
	case room <= 0:
		if len(p) > 0 {
			c.truncated = true
		}
	case len(p) > room:
		c.buf.Write(p[:room])
		c.truncated = true
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *captureBuffer) String() string { return c.buf.String() }

// Total is the number of bytes the worker wrote, including dropped ones.
func (c *captureBuffer) Total() int64 { return c.total }

func (c *captureBuffer) Truncated() bool { return c.truncated }
