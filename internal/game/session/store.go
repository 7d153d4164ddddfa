package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TransitionError reports a lifecycle command that does not apply to the
// current status.
type TransitionError struct {
	From    Status
	Command string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a session in status %q", e.Command, e.From)
}

// Store owns the current session. At most one non-ended session exists at a
// time; creating a new session implicitly ends the previous one.
type Store struct {
	current *Session
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the live session, or nil when none exists.
func (st *Store) Current() *Session {
	return st.current
}

// Create replaces the current session with a fresh one in setup. The
// previous session, if any, is ended first and returned so callers can emit
// its terminal update before the new session's.
func (st *Store) Create(name string, teams []string, now time.Time) (created *Session, ended *Session) {
	if st.current != nil && st.current.Status != StatusEnded {
		ended, _ = st.End(now)
	}
	sess := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		Teams:        append([]string(nil), teams...),
		Status:       StatusSetup,
		Transactions: make([]Transaction, 0),
		scores:       make(map[string]*TeamScore, len(teams)),
		deviceScans:  make(map[string]map[string]struct{}),
	}
	for _, team := range sess.Teams {
		sess.scores[team] = newTeamScore(team)
	}
	st.current = sess
	return sess, ended
}

// Start moves setup → active and starts the game clock.
func (st *Store) Start(now time.Time) error {
	sess := st.current
	if sess == nil || sess.Status != StatusSetup {
		return &TransitionError{From: statusOf(sess), Command: "start"}
	}
	sess.Status = StatusActive
	sess.StartTime = now
	return nil
}

// Pause moves active → paused and freezes the game clock.
func (st *Store) Pause(now time.Time) error {
	sess := st.current
	if sess == nil || sess.Status != StatusActive {
		return &TransitionError{From: statusOf(sess), Command: "pause"}
	}
	sess.Status = StatusPaused
	sess.pausedAt = now
	return nil
}

// Resume moves paused → active and accumulates the paused span.
func (st *Store) Resume(now time.Time) error {
	sess := st.current
	if sess == nil || sess.Status != StatusPaused {
		return &TransitionError{From: statusOf(sess), Command: "resume"}
	}
	sess.Status = StatusActive
	if !sess.pausedAt.IsZero() {
		sess.pausedTotal += now.Sub(sess.pausedAt)
		sess.pausedAt = time.Time{}
	}
	return nil
}

// End moves any non-ended state to ended. Team scores are cleared to an
// empty set, not zeroed, and the end time is stamped.
func (st *Store) End(now time.Time) (*Session, error) {
	sess := st.current
	if sess == nil || sess.Status == StatusEnded {
		return nil, &TransitionError{From: statusOf(sess), Command: "end"}
	}
	if sess.Status == StatusPaused && !sess.pausedAt.IsZero() {
		sess.pausedTotal += now.Sub(sess.pausedAt)
		sess.pausedAt = time.Time{}
	}
	sess.Status = StatusEnded
	sess.EndTime = now
	sess.scores = make(map[string]*TeamScore)
	return sess, nil
}

// Clear drops the current session entirely. Used by system reset.
func (st *Store) Clear() {
	st.current = nil
}

// CheckScannable enforces the single execution path for transaction
// submission: scans are rejected unless the session is active.
func (st *Store) CheckScannable() *Error {
	sess := st.current
	if sess == nil || sess.Status == StatusSetup || sess.Status == StatusEnded {
		return &Error{Code: CodeSessionNotActive, Message: "no active session"}
	}
	if sess.Status == StatusPaused {
		return &Error{Code: CodeSessionPaused, Message: "session is paused"}
	}
	return nil
}

// Append adds a transaction to the ordered session log.
func (st *Store) Append(tx Transaction) {
	if st.current == nil {
		return
	}
	st.current.Transactions = append(st.current.Transactions, tx)
}

// RemoveTransaction deletes a log entry by id. The caller is responsible
// for recomputing scores and claims afterwards.
func (st *Store) RemoveTransaction(txID string) (Transaction, bool) {
	sess := st.current
	if sess == nil {
		return Transaction{}, false
	}
	for i, tx := range sess.Transactions {
		if tx.ID == txID {
			sess.Transactions = append(sess.Transactions[:i], sess.Transactions[i+1:]...)
			return tx, true
		}
	}
	return Transaction{}, false
}

// RecentTransactions returns up to n of the newest log entries, oldest first.
func (st *Store) RecentTransactions(n int) []Transaction {
	sess := st.current
	if sess == nil || n <= 0 {
		return []Transaction{}
	}
	start := len(sess.Transactions) - n
	if start < 0 {
		start = 0
	}
	return append([]Transaction(nil), sess.Transactions[start:]...)
}

// RecordDeviceScan tracks a token against the device that scanned it. The
// set survives disconnects so a reconnecting device can restore exactly its
// own duplicate-prevention state.
func (st *Store) RecordDeviceScan(deviceID, tokenID string) {
	sess := st.current
	if sess == nil {
		return
	}
	set, ok := sess.deviceScans[deviceID]
	if !ok {
		set = make(map[string]struct{})
		sess.deviceScans[deviceID] = set
	}
	set[tokenID] = struct{}{}
}

// DeviceScans returns the sorted token ids this device has scanned in the
// current session. Never includes another device's scans.
func (st *Store) DeviceScans(deviceID string) []string {
	sess := st.current
	if sess == nil {
		return []string{}
	}
	set := sess.deviceScans[deviceID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Score returns the live score record for a team.
func (st *Store) Score(teamID string) (*TeamScore, bool) {
	sess := st.current
	if sess == nil {
		return nil, false
	}
	score, ok := sess.scores[teamID]
	return score, ok
}

// Scores returns score copies in team declaration order. Teams whose score
// record was cleared by session end are omitted.
func (st *Store) Scores() []TeamScore {
	sess := st.current
	if sess == nil {
		return []TeamScore{}
	}
	scores := make([]TeamScore, 0, len(sess.scores))
	for _, team := range sess.Teams {
		if score, ok := sess.scores[team]; ok {
			scores = append(scores, score.clone())
		}
	}
	return scores
}

// AddPoints applies accepted-scan points to a team's base score.
func (st *Store) AddPoints(teamID string, points int) bool {
	score, ok := st.Score(teamID)
	if !ok {
		return false
	}
	score.BaseScore += points
	score.TokensScanned++
	score.recalc()
	return true
}

// AddBonus applies a group-completion bonus exactly once per group.
func (st *Store) AddBonus(teamID, groupID string, bonus int) bool {
	score, ok := st.Score(teamID)
	if !ok || score.HasCompletedGroup(groupID) {
		return false
	}
	score.BonusPoints += bonus
	score.CompletedGroups = append(score.CompletedGroups, groupID)
	score.recalc()
	return true
}

// Adjust applies a manual admin delta with an audit entry.
func (st *Store) Adjust(teamID string, delta int, reason, source string, now time.Time) (*TeamScore, bool) {
	score, ok := st.Score(teamID)
	if !ok {
		return nil, false
	}
	score.AdminAdjustments = append(score.AdminAdjustments, Adjustment{
		Delta:     delta,
		Reason:    reason,
		Source:    source,
		Timestamp: now,
	})
	score.recalc()
	return score, true
}

// ResetScores zeroes scan-derived score state while preserving admin
// adjustments. Used when the transaction log is recomputed after an admin
// deletion.
func (st *Store) ResetScores() {
	sess := st.current
	if sess == nil {
		return
	}
	for _, team := range sess.Teams {
		if prev, ok := sess.scores[team]; ok {
			fresh := newTeamScore(team)
			fresh.AdminAdjustments = prev.AdminAdjustments
			fresh.recalc()
			sess.scores[team] = fresh
		}
	}
}

func statusOf(sess *Session) Status {
	if sess == nil {
		return ""
	}
	return sess.Status
}
