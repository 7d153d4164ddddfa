package offline

import (
	"testing"

	"about-last-night/server/internal/game/session"
)

func TestEnqueueRoutesByDeviceType(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Entry{TokenID: "a", DeviceID: "gm-1", DeviceType: session.DeviceGM})
	q.Enqueue(Entry{TokenID: "b", DeviceID: "player-1", DeviceType: session.DevicePlayer})
	q.Enqueue(Entry{TokenID: "c", DeviceID: "esp-1", DeviceType: session.DeviceESP32})

	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3 buffered entries, got %d", got)
	}
}

func TestDrainReturnsLogOnlyBeforeScored(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Entry{TokenID: "gm-first", DeviceType: session.DeviceGM})
	q.Enqueue(Entry{TokenID: "player-first", DeviceType: session.DevicePlayer})
	q.Enqueue(Entry{TokenID: "player-second", DeviceType: session.DeviceESP32})
	q.Enqueue(Entry{TokenID: "gm-second", DeviceType: session.DeviceGM})

	entries := q.Drain()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	want := []string{"player-first", "player-second", "gm-first", "gm-second"}
	for i, id := range want {
		if entries[i].TokenID != id {
			t.Fatalf("entry %d: expected %s, got %s", i, id, entries[i].TokenID)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain, got %d", q.Len())
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	q := NewQueue()
	if entries := q.Drain(); entries != nil {
		t.Fatalf("expected nil from empty drain, got %v", entries)
	}
}

func TestClearDiscardsWithoutProcessing(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Entry{TokenID: "a", DeviceType: session.DeviceGM})
	q.Enqueue(Entry{TokenID: "b", DeviceType: session.DevicePlayer})
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after clear, got %d", q.Len())
	}
	if entries := q.Drain(); entries != nil {
		t.Fatalf("expected nothing to drain after clear, got %v", entries)
	}
}
