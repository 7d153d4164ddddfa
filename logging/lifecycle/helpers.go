package lifecycle

import (
	"context"

	"about-last-night/server/logging"
)

const (
	EventSessionCreated logging.EventType = "lifecycle.session_created"
	EventSessionStarted logging.EventType = "lifecycle.session_started"
	EventSessionPaused  logging.EventType = "lifecycle.session_paused"
	EventSessionResumed logging.EventType = "lifecycle.session_resumed"
	EventSessionEnded   logging.EventType = "lifecycle.session_ended"
	EventSystemReset    logging.EventType = "lifecycle.system_reset"
)

// TransitionPayload carries the before/after status of a lifecycle change.
type TransitionPayload struct {
	Name     string `json:"name,omitempty"`
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status"`
}

// Transition publishes a lifecycle event for the given session.
func Transition(ctx context.Context, pub logging.Publisher, typ logging.EventType, sessionID string, payload TransitionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// SystemReset publishes the full-state reset event.
func SystemReset(ctx context.Context, pub logging.Publisher, source string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSystemReset,
		Actor:    logging.EntityRef{ID: source, Kind: logging.EntityKindDevice},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryLifecycle,
	})
}
