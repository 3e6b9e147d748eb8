package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rfidgate/internal/events"
)

// Model is the main BubbleTea model for the monitor.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	// State
	health HealthState
	scans  []scanRow
	tally  Tally
	lastID int64

	// Live indicators
	ticker Ticker
	pulse  Pulse

	// UI state
	theme Theme
	table table.Model

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string

	now func() time.Time
}

// New creates a monitor bound to the API at apiURL.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:    apiURL,
		token:     token,
		scans:     make([]scanRow, 0, maxScans),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		table:     newScanTable(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		if h := m.height - 16; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tickMsg:
		m.ticker.Tick()
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.addEvent(events.Event(msg))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ActiveSessions = msg.ActiveSessions
		m.health.Employees = msg.Employees
		m.health.VerifierEnabled = msg.VerifierEnabled
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// a fresh subscription is all that is needed.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// addEvent records a scan. Replayed events already seen after a reconnect
// are ignored.
func (m *Model) addEvent(e events.Event) {
	if e.ID != 0 && e.ID <= m.lastID {
		return
	}
	m.lastID = e.ID

	scan, ok := decodeScan(e)
	if !ok {
		return
	}

	m.scans = append([]scanRow{{event: e, scan: scan}}, m.scans...)
	if len(m.scans) > maxScans {
		m.scans = m.scans[:maxScans]
	}
	m.tally.Add(scan.Result)
	m.pulse.OnScan(scan.Result, e.At)
	m.table.SetRows(scanRows(m.scans))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to rfidgate..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.pulse, m.theme, m.width, m.now()),
		renderTally(m.tally, m.theme, m.width),
		renderScanTable(m.table, len(m.scans) == 0, m.theme, m.width),
	}

	if i := m.table.Cursor(); i >= 0 && i < len(m.scans) {
		parts = append(parts, " "+formatScan(m.scans[i], m.theme))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select scan"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
