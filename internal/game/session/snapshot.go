package session

import (
	"sort"
	"time"
)

// Snapshot is the serializable unit of save/restore for the current session.
type Snapshot struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Teams        []string            `json:"teams"`
	Status       Status              `json:"status"`
	StartTime    time.Time           `json:"startTime"`
	EndTime      time.Time           `json:"endTime"`
	Transactions []Transaction       `json:"transactions"`
	Scores       []TeamScore         `json:"scores"`
	DeviceScans  map[string][]string `json:"deviceScans"`
	PausedAt     time.Time           `json:"pausedAt"`
	PausedTotal  time.Duration       `json:"pausedTotal"`
}

// Snapshot captures the current session for persistence. The second return
// is false when no session exists.
func (st *Store) Snapshot() (Snapshot, bool) {
	sess := st.current
	if sess == nil {
		return Snapshot{}, false
	}
	scans := make(map[string][]string, len(sess.deviceScans))
	for device, set := range sess.deviceScans {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		scans[device] = ids
	}
	return Snapshot{
		ID:           sess.ID,
		Name:         sess.Name,
		Teams:        append([]string(nil), sess.Teams...),
		Status:       sess.Status,
		StartTime:    sess.StartTime,
		EndTime:      sess.EndTime,
		Transactions: append([]Transaction(nil), sess.Transactions...),
		Scores:       st.Scores(),
		DeviceScans:  scans,
		PausedAt:     sess.pausedAt,
		PausedTotal:  sess.pausedTotal,
	}, true
}

// Restore replaces the current session with a persisted snapshot. Claim
// state is derived data and must be rebuilt from the transaction log by the
// scoring engine afterwards.
func (st *Store) Restore(snap Snapshot) *Session {
	sess := &Session{
		ID:           snap.ID,
		Name:         snap.Name,
		Teams:        append([]string(nil), snap.Teams...),
		Status:       snap.Status,
		StartTime:    snap.StartTime,
		EndTime:      snap.EndTime,
		Transactions: append([]Transaction(nil), snap.Transactions...),
		scores:       make(map[string]*TeamScore, len(snap.Scores)),
		deviceScans:  make(map[string]map[string]struct{}, len(snap.DeviceScans)),
		pausedAt:     snap.PausedAt,
		pausedTotal:  snap.PausedTotal,
	}
	if sess.Transactions == nil {
		sess.Transactions = make([]Transaction, 0)
	}
	for i := range snap.Scores {
		score := snap.Scores[i].clone()
		if score.CompletedGroups == nil {
			score.CompletedGroups = make([]string, 0)
		}
		if score.AdminAdjustments == nil {
			score.AdminAdjustments = make([]Adjustment, 0)
		}
		sess.scores[score.TeamID] = &score
	}
	for device, ids := range snap.DeviceScans {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		sess.deviceScans[device] = set
	}
	st.current = sess
	return sess
}
