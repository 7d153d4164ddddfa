// Package session owns the single current Session aggregate: lifecycle,
// teams, the ordered transaction log, per-device scan history, and the game
// clock. The store is not goroutine-safe; the hub serializes access.
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusSetup  Status = "setup"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// DeviceType identifies the kind of client that produced a scan.
type DeviceType string

const (
	DeviceGM     DeviceType = "gm"
	DevicePlayer DeviceType = "player"
	DeviceESP32  DeviceType = "esp32"
)

// ParseDeviceType validates a wire-level device type string.
func ParseDeviceType(value string) (DeviceType, bool) {
	switch DeviceType(value) {
	case DeviceGM, DevicePlayer, DeviceESP32:
		return DeviceType(value), true
	default:
		return "", false
	}
}

// Mode is the gm scan mode. It is meaningless for player/esp32 scans.
type Mode string

const (
	ModeBlackmarket Mode = "blackmarket"
	ModeDetective   Mode = "detective"
)

// TxStatus is the outcome recorded on a transaction. Duplicate is a
// first-class business outcome, never folded into error.
type TxStatus string

const (
	TxAccepted  TxStatus = "accepted"
	TxDuplicate TxStatus = "duplicate"
	TxError     TxStatus = "error"
)

// Error codes surfaced on the scan path.
const (
	CodeSessionNotActive = "SESSION_NOT_ACTIVE"
	CodeSessionPaused    = "SESSION_PAUSED"
	CodeTokenUnknown     = "TOKEN_UNKNOWN"
)

// Error is a coded, recoverable scan-path error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Transaction is an immutable entry in the session log.
type Transaction struct {
	ID            string     `json:"id"`
	TokenID       string     `json:"tokenId"`
	TeamID        string     `json:"teamId,omitempty"`
	DeviceID      string     `json:"deviceId"`
	DeviceType    DeviceType `json:"deviceType"`
	Mode          Mode       `json:"mode,omitempty"`
	Status        TxStatus   `json:"status"`
	Points        int        `json:"points"`
	ClaimedBy     string     `json:"claimedBy,omitempty"`
	OriginalTxID  string     `json:"originalTransactionId,omitempty"`
	ErrorCode     string     `json:"error,omitempty"`
	MemoryType    string     `json:"memoryType,omitempty"`
	ValueRating   int        `json:"valueRating,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Adjustment records a manual admin score change.
type Adjustment struct {
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// TeamScore is the per-team score record for the current session.
type TeamScore struct {
	TeamID           string       `json:"teamId"`
	CurrentScore     int          `json:"currentScore"`
	BaseScore        int          `json:"baseScore"`
	BonusPoints      int          `json:"bonusPoints"`
	TokensScanned    int          `json:"tokensScanned"`
	CompletedGroups  []string     `json:"completedGroups"`
	AdminAdjustments []Adjustment `json:"adminAdjustments"`
}

func newTeamScore(teamID string) *TeamScore {
	return &TeamScore{
		TeamID:           teamID,
		CompletedGroups:  make([]string, 0),
		AdminAdjustments: make([]Adjustment, 0),
	}
}

// HasCompletedGroup reports whether the team already holds a group bonus.
func (s *TeamScore) HasCompletedGroup(groupID string) bool {
	for _, g := range s.CompletedGroups {
		if g == groupID {
			return true
		}
	}
	return false
}

func (s *TeamScore) recalc() {
	adjusted := 0
	for _, adj := range s.AdminAdjustments {
		adjusted += adj.Delta
	}
	s.CurrentScore = s.BaseScore + s.BonusPoints + adjusted
}

func (s *TeamScore) clone() TeamScore {
	cloned := *s
	cloned.CompletedGroups = append([]string(nil), s.CompletedGroups...)
	cloned.AdminAdjustments = append([]Adjustment(nil), s.AdminAdjustments...)
	return cloned
}

// Session is the aggregate for one game run.
type Session struct {
	ID           string
	Name         string
	Teams        []string
	Status       Status
	StartTime    time.Time
	EndTime      time.Time
	Transactions []Transaction

	scores      map[string]*TeamScore
	deviceScans map[string]map[string]struct{}

	// Game clock bookkeeping: elapsed excludes paused spans.
	pausedAt    time.Time
	pausedTotal time.Duration
}

// Elapsed reports game-clock time excluding paused spans. Zero before start.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	end := now
	if s.Status == StatusEnded && !s.EndTime.IsZero() {
		end = s.EndTime
	}
	elapsed := end.Sub(s.StartTime) - s.pausedTotal
	if s.Status == StatusPaused && !s.pausedAt.IsZero() {
		elapsed -= end.Sub(s.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
