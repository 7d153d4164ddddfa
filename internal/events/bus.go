// Package events is the internal domain-event bus. Dispatch is synchronous
// and in subscription order so a scan's duplicate-check, claim registration,
// score update, and broadcast stay one uninterrupted logical step.
package events

import "sync"

// Type names a domain event.
type Type string

const (
	SessionUpdated      Type = "session.updated"
	ScoreUpdated        Type = "score.updated"
	TransactionRecorded Type = "transaction.recorded"
	GroupCompleted      Type = "group.completed"
	QueueProcessed      Type = "queue.processed"
	DeviceConnected     Type = "device.connected"
	DeviceDisconnected  Type = "device.disconnected"
	VideoStatusChanged  Type = "video.status_changed"
	SystemStatusChanged Type = "system.status_changed"
)

// Event carries a typed payload between components. Components communicate
// only through emitted events, never by mutating each other's state.
type Event struct {
	Type    Type
	Payload any
}

// Handler receives events synchronously on the emitter's goroutine.
type Handler func(Event)

// Bus is an ordered synchronous dispatcher with whole-bus teardown. Every
// system reset must call RemoveAll so handlers never accumulate across
// resets.
type Bus struct {
	mu       sync.Mutex
	handlers map[Type][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type. Registration must
// complete before any connection is accepted.
func (b *Bus) Subscribe(typ Type, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], handler)
}

// Emit dispatches to handlers in subscription order, synchronously.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

// RemoveAll drops every subscription. The lifecycle hook exercised on reset.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Type][]Handler)
}

// HandlerCount reports registered handlers for a type. Used by reset tests
// to prove listeners do not leak.
func (b *Bus) HandlerCount(typ Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[typ])
}
