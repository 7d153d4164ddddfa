package server

import (
	"context"
	"fmt"
	"time"

	"about-last-night/server/internal/events"
	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/net/proto"
	"about-last-night/server/logging"
	loglifecycle "about-last-night/server/logging/lifecycle"
)

// Command error codes reported on the wire error event.
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeInvalidCommand  = "INVALID_COMMAND"
	CodeServerError     = "SERVER_ERROR"
	CodeResetInProgress = "RESET_IN_PROGRESS"
)

// CommandError is a structured failure for a gm:command.
type CommandError struct {
	Code    string
	Message string
	Details string
}

func (e *CommandError) Error() string {
	return e.Code + ": " + e.Message
}

func invalidCommand(format string, args ...any) *CommandError {
	return &CommandError{Code: CodeInvalidCommand, Message: fmt.Sprintf(format, args...)}
}

func serverError(err error) *CommandError {
	return &CommandError{Code: CodeServerError, Message: "command failed", Details: err.Error()}
}

// HandleGMCommand validates and executes a privileged operation. Only
// gm-type devices may issue commands; the websocket layer enforces that
// callers are identified.
func (h *Hub) HandleGMCommand(deviceID string, deviceType session.DeviceType, cmd proto.GMCommand) (proto.GMCommandAck, *CommandError) {
	if deviceType != session.DeviceGM {
		return proto.GMCommandAck{}, &CommandError{Code: CodeAuthRequired, Message: "gm commands require a gm device"}
	}
	ack := proto.GMCommandAck{Action: cmd.Action, Success: true}

	switch cmd.Action {
	case proto.ActionSessionCreate:
		var payload proto.SessionCreate
		if err := cmd.Bind(&payload); err != nil {
			return ack, invalidCommand("malformed session:create payload")
		}
		if payload.Name == "" || len(payload.Teams) == 0 {
			return ack, invalidCommand("session:create requires name and teams")
		}
		sess := h.CreateSession(payload.Name, payload.Teams)
		ack.Message = sess.ID

	case proto.ActionSessionStart:
		if err := h.StartSession(); err != nil {
			return ack, invalidCommand("%v", err)
		}
		h.ProcessQueue()

	case proto.ActionSessionPause:
		if err := h.PauseSession(); err != nil {
			return ack, invalidCommand("%v", err)
		}

	case proto.ActionSessionResume:
		if err := h.ResumeSession(); err != nil {
			return ack, invalidCommand("%v", err)
		}
		h.ProcessQueue()

	case proto.ActionSessionEnd:
		if err := h.EndSession(); err != nil {
			return ack, invalidCommand("%v", err)
		}

	case proto.ActionScoreAdjust:
		var payload proto.ScoreAdjust
		if err := cmd.Bind(&payload); err != nil {
			return ack, invalidCommand("malformed score:adjust payload")
		}
		if payload.TeamID == "" {
			return ack, invalidCommand("score:adjust requires teamId")
		}
		if _, cerr := h.AdjustScore(payload.TeamID, payload.Delta, payload.Reason, deviceID); cerr != nil {
			return ack, cerr
		}

	case proto.ActionTransactionDelete:
		var payload proto.TransactionDelete
		if err := cmd.Bind(&payload); err != nil {
			return ack, invalidCommand("malformed transaction:delete payload")
		}
		if payload.TransactionID == "" {
			return ack, invalidCommand("transaction:delete requires transactionId")
		}
		if cerr := h.DeleteTransaction(payload.TransactionID); cerr != nil {
			return ack, cerr
		}

	case proto.ActionTransactionCreate:
		var payload proto.TransactionCreate
		if err := cmd.Bind(&payload); err != nil {
			return ack, invalidCommand("malformed transaction:create payload")
		}
		if payload.TokenID == "" || payload.TeamID == "" {
			return ack, invalidCommand("transaction:create requires tokenId and teamId")
		}
		sourceDevice := payload.DeviceID
		if sourceDevice == "" {
			sourceDevice = deviceID
		}
		_, serr := h.SubmitTransaction(scoring.Request{
			TokenID:    payload.TokenID,
			TeamID:     payload.TeamID,
			DeviceID:   sourceDevice,
			DeviceType: session.DeviceGM,
			Mode:       session.Mode(payload.Mode),
		})
		if serr != nil {
			return ack, &CommandError{Code: serr.Code, Message: serr.Message}
		}

	case proto.ActionSystemReset:
		if cerr := h.Reset(deviceID); cerr != nil {
			return ack, cerr
		}

	case proto.ActionVideoPlay, proto.ActionVideoPause, proto.ActionVideoStop:
		// Playback itself belongs to the external video collaborator; the
		// hub only tracks and fans out the derived status.
		status := map[string]string{
			proto.ActionVideoPlay:  "playing",
			proto.ActionVideoPause: "paused",
			proto.ActionVideoStop:  "idle",
		}[cmd.Action]
		var payload proto.VideoCommand
		if err := cmd.Bind(&payload); err != nil {
			return ack, invalidCommand("malformed %s payload", cmd.Action)
		}
		h.SetVideoStatus(status, payload.TokenID)

	default:
		return ack, invalidCommand("unknown action %q", cmd.Action)
	}

	return ack, nil
}

// CreateSession replaces the current session. The previous session's
// terminal update is emitted before the new session's update.
func (h *Hub) CreateSession(name string, teams []string) *session.Session {
	now := h.clock.Now()

	h.mu.Lock()
	created, ended := h.sessions.Create(name, teams, now)
	h.engine.Reset()
	if ended != nil {
		h.bus.Emit(events.Event{Type: events.SessionUpdated, Payload: ended})
	}
	h.rejoinSessionRoomsLocked()
	h.bus.Emit(events.Event{Type: events.SessionUpdated, Payload: created})
	h.persistLocked()
	h.mu.Unlock()

	loglifecycle.Transition(context.Background(), h.publisher, loglifecycle.EventSessionCreated, created.ID, loglifecycle.TransitionPayload{
		Name:   name,
		Status: string(session.StatusSetup),
	})
	return created
}

// StartSession moves setup → active and starts the game clock.
func (h *Hub) StartSession() error {
	return h.transition(loglifecycle.EventSessionStarted, h.sessions.Start)
}

// PauseSession moves active → paused. The pause cascades to dependent
// collaborators through the session:update broadcast.
func (h *Hub) PauseSession() error {
	return h.transition(loglifecycle.EventSessionPaused, h.sessions.Pause)
}

// ResumeSession moves paused → active.
func (h *Hub) ResumeSession() error {
	return h.transition(loglifecycle.EventSessionResumed, h.sessions.Resume)
}

func (h *Hub) transition(logType logging.EventType, op func(time.Time) error) error {
	now := h.clock.Now()

	h.mu.Lock()
	prev := session.Status("")
	if sess := h.sessions.Current(); sess != nil {
		prev = sess.Status
	}
	if err := op(now); err != nil {
		h.mu.Unlock()
		return err
	}
	sess := h.sessions.Current()
	h.bus.Emit(events.Event{Type: events.SessionUpdated, Payload: sess})
	h.persistLocked()
	sessionID := sess.ID
	status := sess.Status
	h.mu.Unlock()

	loglifecycle.Transition(context.Background(), h.publisher, logType, sessionID, loglifecycle.TransitionPayload{
		Previous: string(prev),
		Status:   string(status),
	})
	return nil
}

// EndSession terminates the current session and invalidates the ClaimIndex.
func (h *Hub) EndSession() error {
	now := h.clock.Now()

	h.mu.Lock()
	ended, err := h.sessions.End(now)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.engine.Reset()
	h.bus.Emit(events.Event{Type: events.SessionUpdated, Payload: ended})
	h.persistLocked()
	h.mu.Unlock()

	loglifecycle.Transition(context.Background(), h.publisher, loglifecycle.EventSessionEnded, ended.ID, loglifecycle.TransitionPayload{
		Status: string(session.StatusEnded),
	})
	return nil
}

// AdjustScore applies a manual delta with an audit entry and broadcasts
// the new score.
func (h *Hub) AdjustScore(teamID string, delta int, reason, source string) (session.TeamScore, *CommandError) {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	score, ok := h.sessions.Adjust(teamID, delta, reason, source, now)
	if !ok {
		return session.TeamScore{}, serverError(fmt.Errorf("no score record for team %q", teamID))
	}
	h.bus.Emit(events.Event{Type: events.ScoreUpdated, Payload: *score})
	h.persistLocked()
	return *score, nil
}

// DeleteTransaction removes a log entry and recomputes every score and the
// ClaimIndex from the surviving log.
func (h *Hub) DeleteTransaction(txID string) *CommandError {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions.RemoveTransaction(txID); !ok {
		return serverError(fmt.Errorf("no transaction %q", txID))
	}
	h.engine.Rebuild(h.sessions)
	for _, score := range h.sessions.Scores() {
		h.bus.Emit(events.Event{Type: events.ScoreUpdated, Payload: score})
	}
	h.broadcastSyncFullLocked()
	h.persistLocked()
	return nil
}

// SetVideoStatus records the derived playback state and fans it out
// immediately, bypassing the debounce window.
func (h *Hub) SetVideoStatus(status, tokenID string) {
	h.mu.Lock()
	h.video = proto.VideoStatus{Status: status, TokenID: tokenID}
	h.bus.Emit(events.Event{Type: events.VideoStatusChanged, Payload: h.video})
	h.mu.Unlock()
}

// Reset is the full-state recovery action. Overlapping requests are
// rejected rather than double-run: exactly one reset executes at a time.
func (h *Hub) Reset(source string) *CommandError {
	if !h.resetting.CompareAndSwap(false, true) {
		return &CommandError{Code: CodeResetInProgress, Message: "a reset is already in progress"}
	}
	defer h.resetting.Store(false)

	now := h.clock.Now()

	h.mu.Lock()
	if ended, err := h.sessions.End(now); err == nil {
		h.bus.Emit(events.Event{Type: events.SessionUpdated, Payload: ended})
	}
	h.sessions.Clear()
	h.engine.Reset()
	h.queue.Clear()
	h.dispatcher.Drop()
	h.video = proto.VideoStatus{Status: "idle"}

	// Tear down and re-register every listener so handlers never
	// accumulate across resets.
	h.bus.RemoveAll()
	h.wireListeners()

	h.rejoinSessionRoomsLocked()
	h.bus.Emit(events.Event{Type: events.SystemStatusChanged, Payload: h.systemStatusLocked()})
	h.mu.Unlock()

	if h.snapshots != nil {
		if err := h.snapshots.Clear(); err != nil {
			h.logger.Printf("failed to clear persisted snapshot: %v", err)
		}
	}
	loglifecycle.SystemReset(context.Background(), h.publisher, source)
	return nil
}
