// Package scoring decides accept/duplicate/reject for every scan and
// computes points and group bonuses. The engine exclusively owns the
// ClaimIndex; all mutations happen on the hub's single submission path.
package scoring

import (
	"time"

	"github.com/google/uuid"

	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/game/token"
)

// CodeTeamUnknown rejects gm scans naming a team outside the session.
const CodeTeamUnknown = "TEAM_UNKNOWN"

// Claim records the first gm scan of a token in a session. Detective-mode
// claims block later gm scans but carry no score.
type Claim struct {
	TeamID        string
	TransactionID string
	Mode          session.Mode
}

// Request is one scan submission, live or replayed from an offline queue.
type Request struct {
	TokenID    string
	TeamID     string
	DeviceID   string
	DeviceType session.DeviceType
	Mode       session.Mode
}

// GroupBonus describes a completed-group payout.
type GroupBonus struct {
	TeamID     string `json:"teamId"`
	GroupID    string `json:"groupId"`
	Bonus      int    `json:"bonus"`
	Multiplier int    `json:"multiplier"`
}

// Result is the outcome of one processed scan.
type Result struct {
	Transaction  session.Transaction
	Bonus        *GroupBonus
	ScoreChanged bool
}

// Engine applies the duplicate and scoring rules against the session store
// and the token catalog.
type Engine struct {
	catalog *token.Catalog
	claims  map[string]Claim
}

func New(catalog *token.Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		claims:  make(map[string]Claim),
	}
}

// Claim looks up the claim on a token, if any.
func (e *Engine) Claim(tokenID string) (Claim, bool) {
	claim, ok := e.claims[tokenID]
	return claim, ok
}

// Reset invalidates the ClaimIndex wholesale. Called on session end,
// session create, and system reset.
func (e *Engine) Reset() {
	e.claims = make(map[string]Claim)
}

// Process runs one scan through the full rule set. The caller must already
// have verified the session is active; duplicate-check, claim registration,
// score update, and log append happen as one uninterrupted step under the
// hub lock.
func (e *Engine) Process(store *session.Store, req Request, now time.Time) Result {
	tx := session.Transaction{
		ID:         uuid.NewString(),
		TokenID:    req.TokenID,
		TeamID:     req.TeamID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Timestamp:  now,
	}

	tok, known := e.catalog.Lookup(req.TokenID)
	if !known {
		tx.Status = session.TxError
		tx.ErrorCode = session.CodeTokenUnknown
		store.Append(tx)
		return Result{Transaction: tx}
	}
	tx.MemoryType = tok.MemoryType
	tx.ValueRating = tok.ValueRating

	// Player and esp32 scans are logged for analytics only: duplicates are
	// always permitted, no claim is consulted or registered, no points.
	if req.DeviceType != session.DeviceGM {
		tx.Status = session.TxAccepted
		store.Append(tx)
		store.RecordDeviceScan(req.DeviceID, req.TokenID)
		return Result{Transaction: tx}
	}

	mode := req.Mode
	if mode == "" {
		mode = session.ModeBlackmarket
	}
	tx.Mode = mode

	// Duplicate check precedes everything else, including mode: detective
	// scans consult and populate the ClaimIndex like any other gm scan.
	if claim, claimed := e.claims[req.TokenID]; claimed {
		tx.Status = session.TxDuplicate
		tx.ClaimedBy = claim.TeamID
		tx.OriginalTxID = claim.TransactionID
		store.Append(tx)
		store.RecordDeviceScan(req.DeviceID, req.TokenID)
		return Result{Transaction: tx}
	}

	if _, ok := store.Score(req.TeamID); !ok {
		tx.Status = session.TxError
		tx.ErrorCode = CodeTeamUnknown
		store.Append(tx)
		return Result{Transaction: tx}
	}

	points := 0
	if mode == session.ModeBlackmarket {
		points = e.catalog.Value(tok)
	}
	tx.Status = session.TxAccepted
	tx.Points = points

	e.claims[req.TokenID] = Claim{TeamID: req.TeamID, TransactionID: tx.ID, Mode: mode}
	store.AddPoints(req.TeamID, points)
	store.Append(tx)
	store.RecordDeviceScan(req.DeviceID, req.TokenID)

	result := Result{Transaction: tx, ScoreChanged: points != 0}
	if bonus := e.completeGroup(store, req.TeamID, tok); bonus != nil {
		result.Bonus = bonus
		result.ScoreChanged = true
	}
	return result
}

// completeGroup awards the group bonus when the scanning team now holds a
// blackmarket claim on every token in the group. Completion is idempotent:
// a group pays out at most once per team per session, and the bonus value
// is order-independent.
func (e *Engine) completeGroup(store *session.Store, teamID string, tok token.Token) *GroupBonus {
	if tok.Group == "" || tok.GroupMultiplier <= 1 {
		return nil
	}
	score, ok := store.Score(teamID)
	if !ok || score.HasCompletedGroup(tok.Group) {
		return nil
	}

	sum := 0
	for _, memberID := range e.catalog.GroupMembers(tok.Group) {
		claim, claimed := e.claims[memberID]
		if !claimed || claim.TeamID != teamID || claim.Mode != session.ModeBlackmarket {
			return nil
		}
		member, known := e.catalog.Lookup(memberID)
		if !known {
			return nil
		}
		sum += e.catalog.Value(member)
	}

	bonus := (tok.GroupMultiplier - 1) * sum
	if !store.AddBonus(teamID, tok.Group, bonus) {
		return nil
	}
	return &GroupBonus{
		TeamID:     teamID,
		GroupID:    tok.Group,
		Bonus:      bonus,
		Multiplier: tok.GroupMultiplier,
	}
}

// Rebuild reconstructs the ClaimIndex and all scan-derived scores from the
// transaction log. Used after snapshot restore and after an admin deletes a
// transaction.
func (e *Engine) Rebuild(store *session.Store) {
	e.Reset()
	store.ResetScores()
	sess := store.Current()
	if sess == nil {
		return
	}
	for _, tx := range sess.Transactions {
		if tx.DeviceType != session.DeviceGM || tx.Status != session.TxAccepted {
			continue
		}
		if _, claimed := e.claims[tx.TokenID]; claimed {
			continue
		}
		tok, known := e.catalog.Lookup(tx.TokenID)
		if !known {
			continue
		}
		mode := tx.Mode
		if mode == "" {
			mode = session.ModeBlackmarket
		}
		points := 0
		if mode == session.ModeBlackmarket {
			points = e.catalog.Value(tok)
		}
		e.claims[tx.TokenID] = Claim{TeamID: tx.TeamID, TransactionID: tx.ID, Mode: mode}
		store.AddPoints(tx.TeamID, points)
		e.completeGroup(store, tx.TeamID, tok)
	}
}
