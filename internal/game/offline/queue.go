// Package offline buffers scans captured while a device or the server was
// disconnected and replays them through the scoring engine in arrival order.
package offline

import (
	"sync"
	"time"

	"about-last-night/server/internal/game/session"
)

// Entry is one buffered scan. TeamID and Mode are only present for gm
// entries; player/esp32 entries are log-only.
type Entry struct {
	TokenID    string             `json:"tokenId"`
	DeviceID   string             `json:"deviceId"`
	DeviceType session.DeviceType `json:"deviceType"`
	TeamID     string             `json:"teamId,omitempty"`
	Mode       session.Mode       `json:"mode,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// EntryResult is the per-entry outcome of a replay batch.
type EntryResult struct {
	TokenID           string           `json:"tokenId"`
	DeviceID          string           `json:"deviceId"`
	Status            string           `json:"status"`
	TransactionStatus session.TxStatus `json:"transactionStatus,omitempty"`
	Points            int              `json:"points,omitempty"`
}

const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Queue holds the two FIFO buffers: a log-only queue for player/esp32
// submissions and a scored queue for gm submissions. Replay semantics
// differ, so they are kept apart.
type Queue struct {
	mu      sync.Mutex
	logOnly []Entry
	scored  []Entry
}

func NewQueue() *Queue {
	return &Queue{
		logOnly: make([]Entry, 0),
		scored:  make([]Entry, 0),
	}
}

// Enqueue routes an entry to the queue matching its device type.
func (q *Queue) Enqueue(entry Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry.DeviceType == session.DeviceGM {
		q.scored = append(q.scored, entry)
		return
	}
	q.logOnly = append(q.logOnly, entry)
}

// Len reports the total number of buffered entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.logOnly) + len(q.scored)
}

// Drain removes and returns all buffered entries: the log-only queue first,
// then the scored queue, each in arrival order.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.logOnly) == 0 && len(q.scored) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(q.logOnly)+len(q.scored))
	entries = append(entries, q.logOnly...)
	entries = append(entries, q.scored...)
	q.logOnly = q.logOnly[:0]
	q.scored = q.scored[:0]
	return entries
}

// Clear discards all buffered entries without processing them.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logOnly = q.logOnly[:0]
	q.scored = q.scored[:0]
}
