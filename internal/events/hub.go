// Package events fans scan notifications out to live listeners.
//
// Events are held only in memory. A fixed-size ring buffer lets a client that
// connects late, or reconnects with Last-Event-ID, catch up on recent scans.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// TypeScan is the event type for a completed RFID command.
const TypeScan = "scan"

// Scan results as seen by the reader.
const (
	ResultGranted            = "granted"
	ResultNotFound           = "not_found"
	ResultVerificationFailed = "verification_failed"
	ResultError              = "error"
)

// ScanEvent is the payload of a TypeScan event.
type ScanEvent struct {
	SessionID  string `json:"session_id"`
	Remote     string `json:"remote"`
	RFID       string `json:"rfid"`
	Result     string `json:"result"`
	Username   string `json:"username,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Event is one published notification. IDs increase in publish order.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
	dropped   int64
}

// NewHub returns a hub buffering the last capacity events (256 if not positive).
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// PublishScan records one completed command. A nil hub is a no-op.
func (h *Hub) PublishScan(ev ScanEvent) {
	if h == nil {
		return
	}
	h.Publish(TypeScan, ev)
}

// Publish assigns the next ID and delivers the event to every listener.
// Ring order and delivery order follow ID order.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	h.nextID++
	ev := Event{
		ID:   h.nextID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Readers are never held up by a slow listener.
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of live listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
