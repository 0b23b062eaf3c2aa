package watch

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/askbridge/internal/events"
)

const stateRunning = "running"

// invocation is what the view knows about one request.
type invocation struct {
	key          string
	invocationID string
	state        string
	kind         string
	exitCode     *int
	signal       string
	started      time.Time
	ended        time.Time
	duration     time.Duration
	err          string
}

// tracker folds invocation events into a bounded, newest-first list.
// Events are keyed by request id because invocation.started is published
// before the worker has an invocation id.
type tracker struct {
	limit  int
	byKey  map[string]*invocation
	order  []*invocation
	done   int
	failed int
}

func newTracker(limit int) *tracker {
	return &tracker{limit: limit, byKey: make(map[string]*invocation)}
}

func (t *tracker) apply(e events.Event) {
	var d events.InvocationData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return
	}
	key := d.RequestID
	if key == "" {
		key = d.InvocationID
	}
	if key == "" {
		return
	}

	inv := t.byKey[key]
	if inv == nil {
		inv = &invocation{key: key, started: e.At}
		t.insert(inv)
	}

	switch e.Type {
	case events.TypeInvocationStarted:
		inv.state = stateRunning
		inv.started = e.At
	case events.TypeInvocationCompleted, events.TypeInvocationFailed:
		inv.invocationID = d.InvocationID
		inv.state = d.State
		inv.kind = d.Kind
		inv.exitCode = d.ExitCode
		inv.signal = d.Signal
		inv.err = d.Error
		inv.ended = e.At
		inv.duration = time.Duration(d.DurationMS) * time.Millisecond
		if inv.state == "" {
			inv.state = "failed"
		}
		if e.Type == events.TypeInvocationFailed {
			t.failed++
		} else {
			t.done++
		}
	}
}

func (t *tracker) insert(inv *invocation) {
	t.byKey[inv.key] = inv
	t.order = append([]*invocation{inv}, t.order...)
	if len(t.order) > t.limit {
		for _, old := range t.order[t.limit:] {
			delete(t.byKey, old.key)
		}
		t.order = t.order[:t.limit]
	}
}

func (t *tracker) active() int {
	n := 0
	for _, inv := range t.order {
		if inv.state == stateRunning {
			n++
		}
	}
	return n
}

func (t *tracker) rows(now time.Time, theme Theme) []table.Row {
	rows := make([]table.Row, 0, len(t.order))
	for _, inv := range t.order {
		rows = append(rows, table.Row{
			theme.stateStyle(inv.state).Render(stateSymbol(inv.state)),
			shortID(inv),
			inv.state,
			orDash(inv.kind),
			exitText(inv.exitCode, inv.signal),
			elapsed(inv, now),
		})
	}
	return rows
}

func stateSymbol(state string) string {
	switch state {
	case stateRunning:
		return "◉"
	case "completed":
		return "●"
	case "timed_out":
		return "◑"
	default:
		return "∅"
	}
}

func shortID(inv *invocation) string {
	id := inv.invocationID
	if id == "" {
		id = inv.key
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func elapsed(inv *invocation, now time.Time) string {
	if inv.state == stateRunning {
		return now.Sub(inv.started).Round(100 * time.Millisecond).String()
	}
	return inv.duration.Round(time.Millisecond).String()
}

// exitText shows the signal for workers killed by one, else the exit code.
func exitText(code *int, signal string) string {
	if signal != "" {
		return signal
	}
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
