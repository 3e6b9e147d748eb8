package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishScanDeliversToSubscriber(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.PublishScan(ScanEvent{SessionID: "s1", RFID: "A1", Result: ResultGranted, Username: "jdoe"})

	select {
	case ev := <-ch:
		assert.Equal(t, TypeScan, ev.Type)
		assert.Equal(t, int64(1), ev.ID)

		var got ScanEvent
		require.NoError(t, json.Unmarshal(ev.Data, &got))
		assert.Equal(t, "A1", got.RFID)
		assert.Equal(t, ResultGranted, got.Result)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestNilHubPublishScanIsNoop(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.PublishScan(ScanEvent{RFID: "A1"}) })
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TypeScan, map[string]int{"n": i})
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.PublishScan(ScanEvent{RFID: "A1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Positive(t, h.Dropped())
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestConcurrentPublishKeepsIDOrder(t *testing.T) {
	const workers, perWorker = 16, 500
	h := NewHub(workers * perWorker)
	ch, cancel := h.Subscribe()

	received := make(chan []int64, 1)
	go func() {
		var ids []int64
		for ev := range ch {
			ids = append(ids, ev.ID)
		}
		received <- ids
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h.PublishScan(ScanEvent{RFID: "A1", Result: ResultNotFound})
			}
		}()
	}
	wg.Wait()
	cancel()

	snap := h.SnapshotSince(0)
	require.Len(t, snap, workers*perWorker)
	for i := 1; i < len(snap); i++ {
		if snap[i].ID != snap[i-1].ID+1 {
			t.Fatalf("ring out of order at %d: %d after %d", i, snap[i].ID, snap[i-1].ID)
		}
	}

	ids := <-received
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("delivery out of order at %d: %d after %d", i, ids[i], ids[i-1])
		}
	}
}
