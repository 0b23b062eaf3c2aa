// Package watch is the live terminal view behind `askbridge system watch`.
// It follows the gateway's /events stream and polls /health.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color used by the view in one place.
type Theme struct {
	OK      lipgloss.Style
	Running lipgloss.Style
	Failed  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#874BFD")

	return Theme{
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// stateStyle picks the color for an invocation state.
func (t Theme) stateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return t.Running
	case "completed":
		return t.OK
	case "":
		return t.Dim
	default:
		return t.Failed
	}
}
