package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/rfidgate/internal/auth"
	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/events"
	"github.com/mattjoyce/rfidgate/internal/storage"
)

const (
	adminToken  = "admin-token-0123456789"
	readerToken = "reader-token-0123456789"
	eventsToken = "events-token-0123456789"
)

// mockStore implements EmployeeStore for error paths.
type mockStore struct {
	listFunc   func(ctx context.Context) ([]directory.Employee, error)
	findFunc   func(ctx context.Context, rfid string) (*directory.Employee, error)
	saveFunc   func(ctx context.Context, e directory.Employee) (*directory.Employee, error)
	deleteFunc func(ctx context.Context, rfid string) error
	countFunc  func(ctx context.Context) (int, error)
}

func (m *mockStore) List(ctx context.Context) ([]directory.Employee, error) {
	return m.listFunc(ctx)
}

func (m *mockStore) FindByID(ctx context.Context, rfid string) (*directory.Employee, error) {
	return m.findFunc(ctx, rfid)
}

func (m *mockStore) Save(ctx context.Context, e directory.Employee) (*directory.Employee, error) {
	return m.saveFunc(ctx, e)
}

func (m *mockStore) Delete(ctx context.Context, rfid string) error {
	return m.deleteFunc(ctx, rfid)
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	if m.countFunc == nil {
		return 0, nil
	}
	return m.countFunc(ctx)
}

type fixedSessions int

func (f fixedSessions) ActiveSessions() int { return int(f) }

func testConfig() Config {
	return Config{
		Listen: "localhost:0",
		Tokens: []auth.TokenConfig{
			{Token: adminToken, Scopes: []string{"*"}},
			{Token: readerToken, Scopes: []string{auth.ScopeEmployeesRO}},
			{Token: eventsToken, Scopes: []string{auth.ScopeEventsRO}},
		},
		VerifierEnabled: true,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return New(testConfig(), directory.NewStore(db), fixedSessions(3), events.NewHub(10), slog.Default())
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

const jdoeJSON = `{"rfid":"A1","username":"jdoe","email":"jdoe@example.com","phoneNumber":"555-0100","birthDate":"1990-03-14","department":"Engineering","role":"EMPLOYEE","gender":"MALE","imageUrl":"https://img/a1.jpg"}`

func TestHandleHealthz_NoAuth(t *testing.T) {
	s := newTestServer(t)
	if rr := do(t, s, http.MethodPost, "/api/v1/employees", adminToken, jdoeJSON); rr.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr := do(t, s, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.ActiveSessions != 3 {
		t.Fatalf("expected active_sessions 3, got %d", resp.ActiveSessions)
	}
	if resp.Employees != 1 {
		t.Fatalf("expected employees 1, got %d", resp.Employees)
	}
	if !resp.VerifierEnabled {
		t.Fatal("expected verifier_enabled true")
	}
}

func TestHandleHealthz_DirectoryDown(t *testing.T) {
	store := &mockStore{countFunc: func(context.Context) (int, error) { return 0, errors.New("db closed") }}
	s := New(testConfig(), store, nil, nil, slog.Default())

	rr := do(t, s, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition, got: %.200s", rr.Body.String())
	}
}

func TestEmployeeCRUD(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/api/v1/employees", adminToken, jdoeJSON)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/employees/A1" {
		t.Fatalf("unexpected Location %q", loc)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/employees/A1", readerToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != jdoeJSON {
		t.Fatalf("get: unexpected body\n got: %s\nwant: %s", got, jdoeJSON)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/employees", readerToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var list []directory.Employee
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("list: decode: %v", err)
	}
	if len(list) != 1 || list[0].RFID != "A1" {
		t.Fatalf("list: unexpected %+v", list)
	}

	rr = do(t, s, http.MethodDelete, "/api/v1/employees/A1", adminToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/employees/A1", readerToken, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodDelete, "/api/v1/employees/A1", adminToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("second delete: expected 204, got %d", rr.Code)
	}
}

func TestListEmployees_EmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/api/v1/employees", readerToken, "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("expected [], got %q", got)
	}
}

func TestCreateEmployee_Invalid(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		problem string
	}{
		{name: "malformed json", body: `{"rfid":`, problem: ""},
		{name: "bad role", body: `{"rfid":"A1","username":"u","email":"u@example.com","role":"INTERN","gender":"MALE"}`, problem: "role must be one of"},
		{name: "missing email", body: `{"rfid":"A1","username":"u","role":"ADMIN","gender":"MALE"}`, problem: "email is required"},
		{name: "bad date", body: `{"rfid":"A1","username":"u","email":"u@example.com","role":"ADMIN","gender":"MALE","birthDate":"14/03/1990"}`, problem: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/v1/employees", adminToken, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if tt.problem == "" {
				return
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			found := false
			for _, p := range resp.Problems {
				if strings.Contains(p, tt.problem) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected problem %q in %v", tt.problem, resp.Problems)
			}
		})
	}
}

func TestCreateEmployee_EmailConflict(t *testing.T) {
	s := newTestServer(t)
	if rr := do(t, s, http.MethodPost, "/api/v1/employees", adminToken, jdoeJSON); rr.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d", rr.Code)
	}

	other := strings.Replace(jdoeJSON, `"rfid":"A1"`, `"rfid":"B2"`, 1)
	rr := do(t, s, http.MethodPost, "/api/v1/employees", adminToken, other)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetEmployee_StoreError(t *testing.T) {
	store := &mockStore{findFunc: func(context.Context, string) (*directory.Employee, error) {
		return nil, errors.New("connection refused")
	}}
	s := New(testConfig(), store, nil, nil, slog.Default())

	rr := do(t, s, http.MethodGet, "/api/v1/employees/A1", adminToken, "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatal("internal error detail leaked to client")
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/v1/employees", want: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, path: "/api/v1/employees", token: "nope", want: http.StatusUnauthorized},
		{name: "ro can read", method: http.MethodGet, path: "/api/v1/employees", token: readerToken, want: http.StatusOK},
		{name: "ro cannot write", method: http.MethodPost, path: "/api/v1/employees", token: readerToken, body: jdoeJSON, want: http.StatusForbidden},
		{name: "ro cannot delete", method: http.MethodDelete, path: "/api/v1/employees/A1", token: readerToken, want: http.StatusForbidden},
		{name: "events token cannot read employees", method: http.MethodGet, path: "/api/v1/employees", token: eventsToken, want: http.StatusForbidden},
		{name: "ro cannot stream events", method: http.MethodGet, path: "/events", token: readerToken, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, tt.method, tt.path, tt.token, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

// streamWriter is a goroutine-safe ResponseWriter for SSE tests.
type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitForStream(t *testing.T, w *streamWriter, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %q in stream, got: %q", want, w.String())
}

func TestHandleEvents_ReplaysAndStreams(t *testing.T) {
	s := newTestServer(t)
	s.events.PublishScan(events.ScanEvent{SessionID: "s1", RFID: "A1", Result: events.ResultGranted})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+eventsToken)

	w := newStreamWriter()
	router := s.setupRoutes()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	waitForStream(t, w, "id: 1\nevent: scan\n")
	waitForStream(t, w, `"rfid":"A1"`)

	s.events.PublishScan(events.ScanEvent{SessionID: "s1", RFID: "ZZZ", Result: events.ResultNotFound})
	waitForStream(t, w, `"result":"not_found"`)

	if n := strings.Count(w.String(), "id: 1\n"); n != 1 {
		t.Fatalf("event 1 sent %d times", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not exit after context cancel")
	}
}

func TestHandleEvents_LastEventID(t *testing.T) {
	s := newTestServer(t)
	s.events.PublishScan(events.ScanEvent{RFID: "first"})
	s.events.PublishScan(events.ScanEvent{RFID: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Last-Event-ID", "1")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		s.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	waitForStream(t, w, `"rfid":"second"`)
	if strings.Contains(w.String(), `"rfid":"first"`) {
		t.Fatalf("event before Last-Event-ID was replayed: %q", w.String())
	}

	cancel()
	<-done
}

func TestParseLastEventID(t *testing.T) {
	cases := map[string]int64{"": 0, "7": 7, "-3": 0, "abc": 0}
	for in, want := range cases {
		if got := parseLastEventID(in); got != want {
			t.Fatalf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
