package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rfidgate/internal/events"
)

// maxScans bounds the rows kept in the scan table.
const maxScans = 50

// scanRow is one decoded scan event.
type scanRow struct {
	event events.Event
	scan  events.ScanEvent
}

// Tally counts scans per result since the monitor started.
type Tally struct {
	Granted            int
	NotFound           int
	VerificationFailed int
	Errors             int
}

func (t *Tally) Add(result string) {
	switch result {
	case events.ResultGranted:
		t.Granted++
	case events.ResultNotFound:
		t.NotFound++
	case events.ResultVerificationFailed:
		t.VerificationFailed++
	default:
		t.Errors++
	}
}

func (t Tally) Total() int {
	return t.Granted + t.NotFound + t.VerificationFailed + t.Errors
}

// decodeScan extracts the scan payload. Non-scan events report false.
func decodeScan(e events.Event) (events.ScanEvent, bool) {
	if e.Type != events.TypeScan {
		return events.ScanEvent{}, false
	}
	var s events.ScanEvent
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return events.ScanEvent{}, false
	}
	return s, true
}

func newScanTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Result", Width: 20},
			{Title: "RFID", Width: 16},
			{Title: "User", Width: 16},
			{Title: "Verifier", Width: 10},
			{Title: "ms", Width: 6},
			{Title: "Reader", Width: 21},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
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
	return t
}

// scanRows renders newest-first rows for the table. Cells stay unstyled so
// the table can measure their width.
func scanRows(scans []scanRow) []table.Row {
	rows := make([]table.Row, 0, len(scans))
	for _, r := range scans {
		rows = append(rows, table.Row{
			r.event.At.Format("15:04:05"),
			r.scan.Result,
			r.scan.RFID,
			dash(r.scan.Username),
			dash(r.scan.Outcome),
			fmt.Sprintf("%d", r.scan.DurationMS),
			r.scan.Remote,
		})
	}
	return rows
}

func renderTally(t Tally, theme Theme, width int) string {
	line := fmt.Sprintf(" %s %d   %s %d   %s %d   %s %d   %s %d",
		theme.Dim.Render("scans"), t.Total(),
		theme.Granted.Render("granted"), t.Granted,
		theme.NotFound.Render("not found"), t.NotFound,
		theme.Failed.Render("rejected"), t.VerificationFailed,
		theme.Errored.Render("errors"), t.Errors,
	)
	return theme.Border.Width(width - 4).Render(line)
}

func renderScanTable(tbl table.Model, empty bool, theme Theme, width int) string {
	body := tbl.View()
	if empty {
		body = theme.Dim.Render("  Waiting for scans...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("SCANS"), body)
	return theme.Border.Width(width - 4).Render(content)
}

// formatScan renders a one-line summary of a scan, colored by result.
func formatScan(r scanRow, theme Theme) string {
	ts := theme.Dim.Render(r.event.At.Format("15:04:05"))
	result := theme.ResultStyle(r.scan.Result).Render(fmt.Sprintf("%-20s", r.scan.Result))

	parts := []string{r.scan.RFID}
	if r.scan.Username != "" {
		parts = append(parts, r.scan.Username)
	}
	if r.scan.Outcome != "" {
		parts = append(parts, "("+r.scan.Outcome+")")
	}
	return fmt.Sprintf("%s %s %s", ts, result, strings.Join(parts, " "))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
