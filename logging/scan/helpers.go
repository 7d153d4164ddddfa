package scan

import (
	"context"

	"about-last-night/server/logging"
)

const (
	// EventAccepted is emitted when a scan claims a token or a player scan is logged.
	EventAccepted logging.EventType = "scan.accepted"
	// EventDuplicate is emitted when a gm scan hits an already-claimed token.
	EventDuplicate logging.EventType = "scan.duplicate"
	// EventRejected is emitted when a scan fails validation or session-state checks.
	EventRejected logging.EventType = "scan.rejected"
	// EventGroupCompleted is emitted when a team claims the last token of a group.
	EventGroupCompleted logging.EventType = "scan.group_completed"
	// EventQueueReplayed is emitted after an offline queue drain.
	EventQueueReplayed logging.EventType = "scan.queue_replayed"
)

// ResultPayload captures the scored outcome of a scan.
type ResultPayload struct {
	TokenID   string `json:"tokenId"`
	TeamID    string `json:"teamId,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Points    int    `json:"points"`
	ClaimedBy string `json:"claimedBy,omitempty"`
}

// GroupPayload captures a completed group bonus.
type GroupPayload struct {
	GroupID string `json:"groupId"`
	TeamID  string `json:"teamId"`
	Bonus   int    `json:"bonus"`
}

// QueuePayload captures the shape of a queue replay.
type QueuePayload struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Accepted publishes an info event for an accepted scan.
func Accepted(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload ResultPayload) {
	publish(ctx, pub, EventAccepted, sessionID, actor, logging.SeverityInfo, payload)
}

// Duplicate publishes an info event for a duplicate gm scan.
func Duplicate(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload ResultPayload) {
	publish(ctx, pub, EventDuplicate, sessionID, actor, logging.SeverityInfo, payload)
}

// Rejected publishes a warning event for a rejected scan.
func Rejected(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload ResultPayload) {
	publish(ctx, pub, EventRejected, sessionID, actor, logging.SeverityWarn, payload)
}

// GroupCompleted publishes an info event when a group bonus lands.
func GroupCompleted(ctx context.Context, pub logging.Publisher, sessionID string, actor logging.EntityRef, payload GroupPayload) {
	publish(ctx, pub, EventGroupCompleted, sessionID, actor, logging.SeverityInfo, payload)
}

// QueueReplayed publishes an info event after an offline replay batch.
func QueueReplayed(ctx context.Context, pub logging.Publisher, sessionID string, payload QueuePayload) {
	publish(ctx, pub, EventQueueReplayed, sessionID, logging.EntityRef{Kind: logging.EntityKindSystem}, logging.SeverityInfo, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, sessionID string, actor logging.EntityRef, sev logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Session:  sessionID,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryScan,
		Payload:  payload,
	})
}
