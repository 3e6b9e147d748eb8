package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks gateway health from /healthz polling.
type HealthState struct {
	Status          string
	UptimeSeconds   int64
	ActiveSessions  int
	Employees       int
	VerifierEnabled bool
	Connected       bool
	LastCheck       time.Time
}

func renderHeader(health HealthState, ticker Ticker, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.Granted.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.Failed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Failed.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	verifier := theme.Granted.Render("on")
	if !health.VerifierEnabled {
		verifier = theme.NotFound.Render("lookup only")
	}

	lastScanStr := "never"
	if !pulse.LastScan().IsZero() {
		lastScanStr = fmt.Sprintf("%s ago", now.Sub(pulse.LastScan()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" RFIDGATE MONITOR %s", tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Readers: %d  Employees: %d  Verifier: %s",
		statusIcon, statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.ActiveSessions,
		health.Employees,
		verifier,
	)

	activityLine := fmt.Sprintf(" Last scan: %s %s", lastScanStr, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
