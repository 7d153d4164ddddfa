package logging

import (
	"context"
	"testing"
	"time"
)

type recordingSink struct {
	events chan Event
}

func (s *recordingSink) Write(event Event) error {
	s.events <- event
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func TestRouterDeliversToSinks(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 8)}
	router, err := NewRouter(SystemClock{}, DefaultConfig(), []NamedSink{{Name: "memory", Sink: sink}})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer router.Close(ctx)

	router.Publish(ctx, Event{
		Type:     EventType("scan.accepted"),
		Session:  "sess-1",
		Severity: SeverityInfo,
	})

	select {
	case got := <-sink.events:
		if got.Type != "scan.accepted" || got.Session != "sess-1" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.Time.IsZero() {
			t.Fatalf("expected router to stamp event time")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 8)}
	cfg := DefaultConfig()
	cfg.MinimumSeverity = SeverityWarn
	router, err := NewRouter(SystemClock{}, cfg, []NamedSink{{Name: "memory", Sink: sink}})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	router.Publish(ctx, Event{Type: "scan.accepted", Severity: SeverityInfo})
	router.Publish(ctx, Event{Type: "scan.rejected", Severity: SeverityWarn})
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	var delivered []Event
	for {
		select {
		case ev := <-sink.events:
			delivered = append(delivered, ev)
			continue
		default:
		}
		break
	}
	if len(delivered) != 1 || delivered[0].Type != "scan.rejected" {
		t.Fatalf("expected only the warn event, got %+v", delivered)
	}
}

func TestRouterStampsConfiguredFields(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 8)}
	cfg := DefaultConfig()
	cfg.Fields = map[string]any{"venue": "downtown"}
	router, err := NewRouter(SystemClock{}, cfg, []NamedSink{{Name: "memory", Sink: sink}})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer router.Close(ctx)

	router.Publish(ctx, Event{Type: "scan.accepted", Severity: SeverityInfo})

	select {
	case got := <-sink.events:
		if got.Extra["venue"] != "downtown" {
			t.Fatalf("expected configured field on event, got %+v", got.Extra)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	sink := &recordingSink{events: make(chan Event, 8)}
	router, err := NewRouter(SystemClock{}, DefaultConfig(), []NamedSink{{Name: "memory", Sink: sink}})
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	router.Publish(ctx, Event{Type: "scan.accepted", Severity: SeverityInfo})
	if got := router.Stats().EventsTotal; got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}
