package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("job.started", map[string]string{"id": "job_0001"})

	select {
	case ev := <-ch:
		if ev.Type != "job.started" {
			t.Fatalf("type = %q", ev.Type)
		}
		if ev.ID != 1 {
			t.Fatalf("id = %d, want 1", ev.ID)
		}
		var payload map[string]string
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["id"] != "job_0001" {
			t.Fatalf("payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestEventDataEncodesAsJSON(t *testing.T) {
	t.Parallel()
	h := NewHub(4)
	h.Publish("job.swept", map[string]any{"ids": []string{"job_0001"}})

	b, err := json.Marshal(h.SnapshotSince(0)[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		Data struct {
			IDs []string `json:"ids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Data.IDs) != 1 || out.Data.IDs[0] != "job_0001" {
		t.Fatalf("data = %+v", out.Data)
	}
}

func TestSnapshotSinceRingOverwrite(t *testing.T) {
	t.Parallel()
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("job.started", nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != 3 || all[2].ID != 5 {
		t.Fatalf("ids = %d..%d, want 3..5", all[0].ID, all[2].ID)
	}

	since := h.SnapshotSince(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("since(4) = %+v", since)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	h := NewHub(4)
	ch, cancel := h.Subscribe()

	h.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Close")
	}
	cancel()

	h.Publish("job.killed", nil)
	if got := len(h.SnapshotSince(0)); got != 0 {
		t.Fatalf("publish after close buffered %d events", got)
	}

	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscription after Close should be closed")
	}
}
