package server

import (
	"testing"
	"time"

	"about-last-night/server/internal/net/proto"
)

type manualScheduler struct {
	pending []func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) {
	s.pending = append(s.pending, f)
}

func (s *manualScheduler) fire() {
	pending := s.pending
	s.pending = nil
	for _, f := range pending {
		f()
	}
}

type sentEnvelope struct {
	room string
	env  proto.Envelope
}

func newCaptureDispatcher(scheduler Scheduler) (*dispatcher, *[]sentEnvelope) {
	sent := &[]sentEnvelope{}
	d := newDispatcher(100*time.Millisecond, scheduler, func(room string, env proto.Envelope) {
		*sent = append(*sent, sentEnvelope{room: room, env: env})
	})
	return d, sent
}

func envelopeFor(t *testing.T, event string, payload any) proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(event, payload, time.Now())
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return env
}

func TestDebounceCoalescesLatestValue(t *testing.T) {
	scheduler := &manualScheduler{}
	d, sent := newCaptureDispatcher(scheduler)

	d.Debounce("gm", "001", envelopeFor(t, proto.EventScoreUpdated, map[string]int{"currentScore": 30}))
	d.Debounce("gm", "001", envelopeFor(t, proto.EventScoreUpdated, map[string]int{"currentScore": 70}))
	d.Debounce("gm", "001", envelopeFor(t, proto.EventScoreUpdated, map[string]int{"currentScore": 140}))

	if len(*sent) != 0 {
		t.Fatalf("expected nothing sent before the window elapses, got %d", len(*sent))
	}
	if len(scheduler.pending) != 1 {
		t.Fatalf("expected one pending timer, got %d", len(scheduler.pending))
	}

	scheduler.fire()
	if len(*sent) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(*sent))
	}
	if got := string((*sent)[0].env.Data); got != `{"currentScore":140}` {
		t.Fatalf("expected latest value to win, got %s", got)
	}
}

func TestDebounceKeysByEventAndRoom(t *testing.T) {
	scheduler := &manualScheduler{}
	d, sent := newCaptureDispatcher(scheduler)

	d.Debounce("gm", "", envelopeFor(t, proto.EventScoreUpdated, 1))
	d.Debounce("team:001", "", envelopeFor(t, proto.EventScoreUpdated, 2))
	d.Debounce("gm", "", envelopeFor(t, proto.EventSessionUpdate, 3))

	scheduler.fire()
	if len(*sent) != 3 {
		t.Fatalf("expected three independent slots, got %d flushes", len(*sent))
	}
}

func TestDebounceKeepsDistinctTeamSlots(t *testing.T) {
	scheduler := &manualScheduler{}
	d, sent := newCaptureDispatcher(scheduler)

	d.Debounce("gm", "001", envelopeFor(t, proto.EventScoreUpdated, map[string]any{"teamId": "001", "currentScore": 40}))
	d.Debounce("gm", "002", envelopeFor(t, proto.EventScoreUpdated, map[string]any{"teamId": "002", "currentScore": 30}))

	scheduler.fire()
	if len(*sent) != 2 {
		t.Fatalf("expected a flush per team, got %d", len(*sent))
	}
	teams := map[string]bool{}
	for _, flush := range *sent {
		var payload struct {
			TeamID string `json:"teamId"`
		}
		if err := flush.env.Bind(&payload); err != nil {
			t.Fatalf("failed to bind flushed payload: %v", err)
		}
		teams[payload.TeamID] = true
	}
	if !teams["001"] || !teams["002"] {
		t.Fatalf("expected score updates for both teams, got %v", teams)
	}
}

func TestDropDiscardsPendingSlots(t *testing.T) {
	scheduler := &manualScheduler{}
	d, sent := newCaptureDispatcher(scheduler)

	d.Debounce("gm", "", envelopeFor(t, proto.EventScoreUpdated, 30))
	d.Drop()
	scheduler.fire()

	if len(*sent) != 0 {
		t.Fatalf("expected dropped slot not to flush, got %d sends", len(*sent))
	}
}
