package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"about-last-night/server/internal/net/proto"
)

// Scheduler abstracts timer creation so debounce behaviour is testable
// with a fake clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// subscriber wraps a websocket connection with a write mutex so concurrent
// broadcasts never interleave frames.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) writeEnvelope(env proto.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes one envelope to this connection. Safe for concurrent use.
func (s *subscriber) Send(env proto.Envelope) error {
	return s.writeEnvelope(env)
}

func (s *subscriber) close() {
	s.conn.Close()
}

type namedSubscriber struct {
	deviceID string
	sub      *subscriber
}

// dispatcher coalesces high-frequency, non-critical broadcasts into a
// single-slot buffer per event/room pair. The latest pending value wins and
// flushes when the window elapses.
type dispatcher struct {
	mu        sync.Mutex
	window    time.Duration
	scheduler Scheduler
	slots     map[string]proto.Envelope
	send      func(room string, env proto.Envelope)
}

func newDispatcher(window time.Duration, scheduler Scheduler, send func(string, proto.Envelope)) *dispatcher {
	if scheduler == nil {
		scheduler = realScheduler{}
	}
	return &dispatcher{
		window:    window,
		scheduler: scheduler,
		slots:     make(map[string]proto.Envelope),
		send:      send,
	}
}

// Debounce buffers the envelope, replacing any pending value for the same
// event/room/slot triple. The slot discriminator keeps independent value
// streams apart (one team's score update never overwrites another's); only
// repeated values of the same stream coalesce. The slot flushes once per
// window.
func (d *dispatcher) Debounce(room, slot string, env proto.Envelope) {
	key := env.Event + "|" + room
	if slot != "" {
		key += "|" + slot
	}
	d.mu.Lock()
	_, pending := d.slots[key]
	d.slots[key] = env
	d.mu.Unlock()
	if pending {
		return
	}
	d.scheduler.AfterFunc(d.window, func() {
		d.flush(key, room)
	})
}

func (d *dispatcher) flush(key, room string) {
	d.mu.Lock()
	env, ok := d.slots[key]
	delete(d.slots, key)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.send(room, env)
}

// Drop discards all pending slots. Called on system reset so stale values
// never flush into the next session.
func (d *dispatcher) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = make(map[string]proto.Envelope)
}

// sendToRoomLocked writes an envelope to every live connection in a room.
// Caller holds h.mu; failed connections are disconnected off this goroutine
// to avoid re-entering the lock.
func (h *Hub) sendToRoomLocked(room string, env proto.Envelope) {
	for _, target := range h.roomSubscribersLocked(room) {
		if err := target.sub.writeEnvelope(env); err != nil {
			h.logger.Printf("failed to send %s to %s: %v", env.Event, target.deviceID, err)
			go h.Disconnect(target.deviceID)
		}
	}
}

// sendToRoom is the locking wrapper used by debounce timers.
func (h *Hub) sendToRoom(room string, env proto.Envelope) {
	h.mu.Lock()
	targets := h.roomSubscribersLocked(room)
	h.mu.Unlock()
	for _, target := range targets {
		if err := target.sub.writeEnvelope(env); err != nil {
			h.logger.Printf("failed to send %s to %s: %v", env.Event, target.deviceID, err)
			go h.Disconnect(target.deviceID)
		}
	}
}

// envelope stamps a payload with the hub clock. Returns ok=false when the
// payload cannot marshal, which is logged and skipped rather than fatal.
func (h *Hub) envelope(event string, data any) (proto.Envelope, bool) {
	env, err := proto.NewEnvelope(event, data, h.clock.Now())
	if err != nil {
		h.logger.Printf("failed to build %s envelope: %v", event, err)
		return proto.Envelope{}, false
	}
	return env, true
}
