package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/askbridge/internal/api"
	"github.com/mattjoyce/askbridge/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	status string
	err    error
}

type streamClosedMsg struct{ err error }

type reconnectMsg struct{}

type tickMsg time.Time

// client talks to one gateway. It remembers the last event id so that a
// reconnect resumes instead of replaying the whole buffer.
type client struct {
	baseURL string
	stream  *http.Client
	probe   *http.Client
	lastID  atomic.Int64
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		stream:  &http.Client{},
		probe:   &http.Client{Timeout: 2 * time.Second},
	}
}

// subscribe streams /events into ch until the connection drops.
func (c *client) subscribe(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/events", nil)
		if err != nil {
			return streamClosedMsg{err: err}
		}
		req.Header.Set("Accept", "text/event-stream")
		if id := c.lastID.Load(); id > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(id, 10))
		}

		resp, err := c.stream.Do(req)
		if err != nil {
			return streamClosedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return streamClosedMsg{err: fmt.Errorf("events returned %s", resp.Status)}
		}

		err = readStream(resp.Body, func(e events.Event) {
			c.lastID.Store(e.ID)
			ch <- e
		})
		return streamClosedMsg{err: err}
	}
}

func (c *client) health() tea.Msg {
	resp, err := c.probe.Get(c.baseURL + "/health")
	if err != nil {
		return healthMsg{err: err}
	}
	defer resp.Body.Close()

	var h api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return healthMsg{err: fmt.Errorf("decode health: %w", err)}
	}
	return healthMsg{status: h.Status}
}

func receiveNext(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// readStream parses a Server-Sent Events body and calls emit for every
// complete event. Comment lines (keep-alives) are skipped.
func readStream(r io.Reader, emit func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var cur events.Event
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			if id, err := strconv.ParseInt(strings.TrimSpace(line[len("id:"):]), 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event:"):
			cur.Type = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
	return scanner.Err()
}
