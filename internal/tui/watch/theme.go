// Package watch implements the rfidgate monitor TUI: a live view of reader
// scans fed by the API's SSE stream.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rfidgate/internal/events"
)

// Theme centralizes all styling for the monitor.
type Theme struct {
	// Scan result colors
	Granted  lipgloss.Style
	NotFound lipgloss.Style
	Failed   lipgloss.Style
	Errored  lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	// Indicators
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Granted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		NotFound: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Errored:  lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// ResultStyle picks the color for a scan result.
func (t Theme) ResultStyle(result string) lipgloss.Style {
	switch result {
	case events.ResultGranted:
		return t.Granted
	case events.ResultNotFound:
		return t.NotFound
	case events.ResultVerificationFailed:
		return t.Failed
	default:
		return t.Errored
	}
}
