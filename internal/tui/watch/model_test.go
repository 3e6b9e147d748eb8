package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rfidgate/internal/events"
)

func scanEvent(t *testing.T, id int64, scan events.ScanEvent) events.Event {
	t.Helper()
	data, err := json.Marshal(scan)
	require.NoError(t, err)
	return events.Event{ID: id, Type: events.TypeScan, At: time.Now(), Data: data}
}

func TestReadStreamParsesFrames(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: scan",
		`data: {"rfid":"A1","result":"granted"}`,
		"",
		"id: 8",
		"event: scan",
		`data: {"rfid":"B2","result":"not_found"}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readStream(strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.TypeScan, got[0].Type)
	assert.JSONEq(t, `{"rfid":"A1","result":"granted"}`, string(got[0].Data))
	assert.Equal(t, int64(8), got[1].ID)
	assert.False(t, got[1].At.IsZero())
}

func TestUpdateRecordsScans(t *testing.T) {
	m := New("http://127.0.0.1:0", "token")

	next, cmd := m.Update(eventMsg(scanEvent(t, 1, events.ScanEvent{RFID: "A1", Result: events.ResultGranted, Username: "jdoe", Outcome: "verified"})))
	assert.NotNil(t, cmd)
	next, _ = next.Update(eventMsg(scanEvent(t, 2, events.ScanEvent{RFID: "B2", Result: events.ResultNotFound})))
	next, _ = next.Update(eventMsg(scanEvent(t, 3, events.ScanEvent{RFID: "A1", Result: events.ResultVerificationFailed, Outcome: "rejected"})))

	got := next.(Model)
	require.Len(t, got.scans, 3)
	assert.Equal(t, "A1", got.scans[0].scan.RFID, "newest first")
	assert.Equal(t, events.ResultVerificationFailed, got.scans[0].scan.Result)
	assert.Equal(t, Tally{Granted: 1, NotFound: 1, VerificationFailed: 1}, got.tally)
	assert.Len(t, got.table.Rows(), 3)
	assert.True(t, got.health.Connected)
}

func TestUpdateIgnoresReplayedAndForeignEvents(t *testing.T) {
	m := New("http://127.0.0.1:0", "token")

	e := scanEvent(t, 5, events.ScanEvent{RFID: "A1", Result: events.ResultGranted})
	next, _ := m.Update(eventMsg(e))
	next, _ = next.Update(eventMsg(e))
	next, _ = next.Update(eventMsg(events.Event{ID: 6, Type: "other", Data: []byte(`{}`)}))
	next, _ = next.Update(eventMsg(events.Event{ID: 7, Type: events.TypeScan, Data: []byte(`not json`)}))

	got := next.(Model)
	assert.Len(t, got.scans, 1)
	assert.Equal(t, 1, got.tally.Total())
	assert.Equal(t, int64(7), got.lastID)
}

func TestUpdateKeepsBoundedHistory(t *testing.T) {
	var next tea.Model = *New("http://127.0.0.1:0", "token")
	for i := 1; i <= maxScans+10; i++ {
		next, _ = next.(Model).Update(eventMsg(scanEvent(t, int64(i), events.ScanEvent{RFID: "X", Result: events.ResultError})))
	}
	got := next.(Model)
	assert.Len(t, got.scans, maxScans)
	assert.Equal(t, maxScans+10, got.tally.Errors)
	assert.Equal(t, int64(maxScans+10), got.scans[0].event.ID)
}

func TestUpdateHealthAndDisconnect(t *testing.T) {
	m := New("http://127.0.0.1:0", "token")

	next, _ := m.Update(healthMsg{Status: "ok", ActiveSessions: 2, Employees: 40, VerifierEnabled: true})
	got := next.(Model)
	assert.Equal(t, 2, got.health.ActiveSessions)
	assert.Equal(t, 40, got.health.Employees)
	assert.True(t, got.health.VerifierEnabled)
	assert.True(t, got.health.Connected)

	next, cmd := got.Update(sseDisconnectedMsg{})
	got = next.(Model)
	assert.False(t, got.health.Connected)
	assert.Contains(t, got.lastError, "reconnecting")
	assert.NotNil(t, cmd)
}

func TestViewRendersScans(t *testing.T) {
	m := New("http://127.0.0.1:0", "token")
	assert.Equal(t, "Connecting to rfidgate...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(eventMsg(scanEvent(t, 1, events.ScanEvent{RFID: "A1", Result: events.ResultGranted, Username: "jdoe"})))

	view := next.(Model).View()
	assert.Contains(t, view, "RFIDGATE MONITOR")
	assert.Contains(t, view, "jdoe")
	assert.Contains(t, view, "granted")
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":12,"active_sessions":3,"employees":9,"verifier_enabled":true}`))
	}))
	defer srv.Close()

	msg := fetchHealth(srv.URL, "secret")
	h, ok := msg.(healthMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 3, h.ActiveSessions)
	assert.Equal(t, 9, h.Employees)
	assert.Equal(t, int64(12), h.UptimeSeconds)
}

func TestFetchHealthRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, ok := fetchHealth(srv.URL, "bad").(errMsg)
	assert.True(t, ok)
}

func TestPulseDecays(t *testing.T) {
	var p Pulse
	start := time.Now()
	p.OnScan(events.ResultGranted, start)
	assert.Equal(t, 5, p.dots)

	p.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, p.dots)

	p.Decay(start.Add(30 * time.Second))
	assert.Equal(t, 0, p.dots)
}
