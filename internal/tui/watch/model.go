package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/askbridge/internal/events"
)

const (
	maxTracked   = 50
	maxEventLog  = 8
	healthPeriod = 5 * time.Second
	retryDelay   = 3 * time.Second
)

// Model is the bubbletea model for the watch view.
type Model struct {
	client *client

	width  int
	height int

	healthStatus string
	connected    bool
	lastError    string

	tracker  *tracker
	eventLog []events.Event
	pulse    pulse
	table    table.Model
	theme    Theme

	incoming chan events.Event
}

// New creates a watch model for the gateway at baseURL.
func New(baseURL string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 8},
			{Title: "State", Width: 12},
			{Title: "Kind", Width: 14},
			{Title: "Exit", Width: 4},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		client:   newClient(baseURL),
		tracker:  newTracker(maxTracked),
		table:    t,
		theme:    NewDefaultTheme(),
		incoming: make(chan events.Event, 100),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.incoming),
		receiveNext(m.incoming),
		m.client.health,
		tick(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(m.height-20, 5))

	case tickMsg:
		now := time.Time(msg)
		m.pulse.decay(now)
		m.table.SetRows(m.tracker.rows(now, m.theme))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.tracker.apply(e)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.pulse.hit(e.At)
		m.connected = true
		m.lastError = ""
		m.table.SetRows(m.tracker.rows(time.Now(), m.theme))
		return m, receiveNext(m.incoming)

	case healthMsg:
		if msg.err != nil {
			m.connected = false
			m.lastError = msg.err.Error()
		} else {
			m.healthStatus = msg.status
			m.connected = true
		}
		return m, tea.Tick(healthPeriod, func(time.Time) tea.Msg { return m.client.health() })

	case streamClosedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(retryDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.incoming)
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}
	inner := max(m.width-8, 20)

	parts := []string{
		m.renderHeader(inner),
		m.theme.Border.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("INVOCATIONS"),
			m.table.View(),
		)),
		m.renderEvents(inner),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader(inner int) string {
	status := m.theme.OK.Render("HEALTHY")
	switch {
	case !m.connected:
		status = m.theme.Failed.Render("DISCONNECTED")
	case m.healthStatus != "" && m.healthStatus != "ok":
		status = m.theme.Failed.Render(strings.ToUpper(m.healthStatus))
	}

	title := " ASKBRIDGE WATCH " + m.theme.Dim.Render(m.client.baseURL)
	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(inner-lipgloss.Width(title)-lipgloss.Width(clock)-2, 1)

	lastEvent := "never"
	if !m.pulse.last.IsZero() {
		lastEvent = time.Since(m.pulse.last).Round(time.Second).String() + " ago"
	}

	return m.theme.Border.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left,
		title+strings.Repeat(" ", pad)+clock,
		fmt.Sprintf(" %s  Active: %s  Completed: %d  Failed: %d",
			status,
			m.theme.Highlight.Render(fmt.Sprint(m.tracker.active())),
			m.tracker.done,
			m.tracker.failed,
		),
		fmt.Sprintf(" Last event: %s %s", lastEvent, m.pulse.render(m.theme)),
	))
}

func (m Model) renderEvents(inner int) string {
	lines := []string{m.theme.Title.Render("EVENTS")}
	if len(m.eventLog) == 0 {
		lines = append(lines, m.theme.Dim.Render("  Waiting for events..."))
	}
	for _, e := range m.eventLog {
		lines = append(lines, " "+m.formatEvent(e))
	}
	return m.theme.Border.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) formatEvent(e events.Event) string {
	style := m.theme.Running
	switch e.Type {
	case events.TypeInvocationCompleted:
		style = m.theme.OK
	case events.TypeInvocationFailed:
		style = m.theme.Failed
	}

	var d events.InvocationData
	_ = json.Unmarshal(e.Data, &d)
	desc := d.RequestID
	if d.State != "" {
		desc += " " + d.State
	}
	if d.Error != "" {
		desc += ": " + d.Error
	}

	return fmt.Sprintf("%s %s %s",
		m.theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-22s", e.Type)),
		desc,
	)
}
