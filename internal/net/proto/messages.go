// Package proto defines the persistent-connection wire protocol: JSON
// envelopes of the form {event, data, timestamp}.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"about-last-night/server/internal/game/offline"
	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
)

// Client→server event names.
const (
	EventTransactionSubmit = "transaction:submit"
	EventSyncRequest       = "sync:request"
	EventGMCommand         = "gm:command"
	EventHeartbeat         = "device:heartbeat"
)

// Server→client event names.
const (
	EventTransactionResult = "transaction:result"
	EventTransactionNew    = "transaction:new"
	EventScoreUpdated      = "score:updated"
	EventGroupCompleted    = "group:completed"
	EventSessionUpdate     = "session:update"
	EventSyncFull          = "sync:full"
	EventQueueProcessed    = "offline:queue:processed"
	EventGMCommandAck      = "gm:command:ack"
	EventError             = "error"
	EventHeartbeatAck      = "device:heartbeat:ack"
	EventVideoStatus       = "video:status"
	EventSystemStatus      = "system:status"
	EventDeviceConnected   = "device:connected"
	EventDeviceOffline     = "device:disconnected"
)

// gm:command actions.
const (
	ActionSessionCreate     = "session:create"
	ActionSessionStart      = "session:start"
	ActionSessionPause      = "session:pause"
	ActionSessionResume     = "session:resume"
	ActionSessionEnd        = "session:end"
	ActionScoreAdjust       = "score:adjust"
	ActionTransactionDelete = "transaction:delete"
	ActionTransactionCreate = "transaction:create"
	ActionSystemReset       = "system:reset"
	ActionVideoPlay         = "video:play"
	ActionVideoPause        = "video:pause"
	ActionVideoStop         = "video:stop"
)

// Envelope is the wire frame shared by every message in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload in a wire frame stamped with the given time.
func NewEnvelope(event string, data any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw, Timestamp: now}, nil
}

// Encode renders an envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a raw wire frame.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("envelope missing event")
	}
	return env, nil
}

// Bind unmarshals the envelope payload into target.
func (e Envelope) Bind(target any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("bind %s payload: %w", e.Event, err)
	}
	return nil
}

// TransactionSubmit is the client scan submission payload.
type TransactionSubmit struct {
	TokenID    string `json:"tokenId"`
	TeamID     string `json:"teamId,omitempty"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	Mode       string `json:"mode,omitempty"`
}

// GMCommand is a privileged operation request.
type GMCommand struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Bind unmarshals the command payload into target.
func (c GMCommand) Bind(target any) error {
	if len(c.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Payload, target); err != nil {
		return fmt.Errorf("bind %s payload: %w", c.Action, err)
	}
	return nil
}

// GMCommandAck reports the outcome of a gm:command.
type GMCommandAck struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is the wire error event body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SessionCreate names a new session and its teams.
type SessionCreate struct {
	Name  string   `json:"name"`
	Teams []string `json:"teams"`
}

// ScoreAdjust is the manual score-change payload.
type ScoreAdjust struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// TransactionDelete removes a transaction by id and recomputes scores.
type TransactionDelete struct {
	TransactionID string `json:"transactionId"`
}

// TransactionCreate is a manual transaction entered by an admin.
type TransactionCreate struct {
	TokenID  string `json:"tokenId"`
	TeamID   string `json:"teamId"`
	DeviceID string `json:"deviceId,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// VideoCommand optionally names the token whose memory should play.
type VideoCommand struct {
	TokenID string `json:"tokenId,omitempty"`
}

// SessionPayload is the wire shape of the current session.
type SessionPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Teams          []string `json:"teams"`
	Status         string   `json:"status"`
	StartTime      string   `json:"startTime,omitempty"`
	EndTime        string   `json:"endTime,omitempty"`
	ElapsedSeconds int64    `json:"elapsedSeconds"`
}

// SessionFromAggregate converts a session for the wire.
func SessionFromAggregate(sess *session.Session, now time.Time) *SessionPayload {
	if sess == nil {
		return nil
	}
	payload := &SessionPayload{
		ID:             sess.ID,
		Name:           sess.Name,
		Teams:          append([]string(nil), sess.Teams...),
		Status:         string(sess.Status),
		ElapsedSeconds: int64(sess.Elapsed(now).Seconds()),
	}
	if !sess.StartTime.IsZero() {
		payload.StartTime = sess.StartTime.UTC().Format(time.RFC3339)
	}
	if !sess.EndTime.IsZero() {
		payload.EndTime = sess.EndTime.UTC().Format(time.RFC3339)
	}
	return payload
}

// DeviceInfo describes one live connection in a sync snapshot.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	LastSeen   string `json:"lastSeen"`
}

// VideoStatus is the derived playback state carried in snapshots. Playback
// itself is owned by an external collaborator.
type VideoStatus struct {
	Status  string `json:"status"`
	TokenID string `json:"tokenId,omitempty"`
}

// SystemStatus carries orchestrator health flips.
type SystemStatus struct {
	Online      bool `json:"online"`
	QueueLength int  `json:"queueLength"`
	DeviceCount int  `json:"deviceCount"`
}

// SyncFull is the full-state snapshot sent on connect, reconnect, and
// sync:request. ScannedTokens is scoped to the receiving device only.
type SyncFull struct {
	Session            *SessionPayload       `json:"session"`
	Scores             []session.TeamScore   `json:"scores"`
	RecentTransactions []session.Transaction `json:"recentTransactions"`
	Video              VideoStatus           `json:"videoStatus"`
	System             SystemStatus          `json:"systemStatus"`
	ConnectedDevices   []DeviceInfo          `json:"connectedDevices"`
	ScannedTokens      []string              `json:"scannedTokens"`
	Reconnection       bool                  `json:"reconnection"`
}

// QueueProcessed is the batched replay receipt.
type QueueProcessed struct {
	Total   int                   `json:"total"`
	Results []offline.EntryResult `json:"results"`
}

// GroupCompletedPayload mirrors the scoring engine's bonus record.
type GroupCompletedPayload = scoring.GroupBonus

// Heartbeat is the client keepalive body.
type Heartbeat struct {
	SentAt int64 `json:"sentAt"`
}

// HeartbeatAck echoes timing metadata back to the client.
type HeartbeatAck struct {
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	RTTMillis  int64 `json:"rtt"`
}
