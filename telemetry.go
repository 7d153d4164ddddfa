package server

import (
	"context"

	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/logging"
	lognetwork "about-last-night/server/logging/network"
	logscan "about-last-night/server/logging/scan"
)

// sessionIDLocked reads the current session id. Caller holds h.mu.
func (h *Hub) sessionIDLocked() string {
	if sess := h.sessions.Current(); sess != nil {
		return sess.ID
	}
	return ""
}

func (h *Hub) sessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionIDLocked()
}

func (h *Hub) logDeviceJoin(id Identity, rooms []string, reconnection bool) {
	payload := lognetwork.DevicePayload{
		DeviceType: string(id.DeviceType),
		Rooms:      rooms,
	}
	if reconnection {
		lognetwork.DeviceReconnected(context.Background(), h.publisher, h.sessionID(), id.DeviceID, payload)
		return
	}
	lognetwork.DeviceConnected(context.Background(), h.publisher, h.sessionID(), id.DeviceID, payload)
}

func (h *Hub) logDeviceLeave(deviceID string) {
	lognetwork.DeviceDisconnected(context.Background(), h.publisher, h.sessionID(), deviceID)
}

// logScanOutcome publishes the scored outcome of one scan. Caller holds h.mu.
func (h *Hub) logScanOutcome(tx session.Transaction) {
	payload := logscan.ResultPayload{
		TokenID:   tx.TokenID,
		TeamID:    tx.TeamID,
		Mode:      string(tx.Mode),
		Points:    tx.Points,
		ClaimedBy: tx.ClaimedBy,
	}
	actor := logging.EntityRef{ID: tx.DeviceID, Kind: logging.EntityKindDevice}
	sessionID := h.sessionIDLocked()

	switch tx.Status {
	case session.TxAccepted:
		logscan.Accepted(context.Background(), h.publisher, sessionID, actor, payload)
	case session.TxDuplicate:
		logscan.Duplicate(context.Background(), h.publisher, sessionID, actor, payload)
	default:
		logscan.Rejected(context.Background(), h.publisher, sessionID, actor, payload)
	}
}

// logGroupBonus publishes a completed group bonus. Caller holds h.mu.
func (h *Hub) logGroupBonus(bonus scoring.GroupBonus) {
	logscan.GroupCompleted(context.Background(), h.publisher, h.sessionIDLocked(),
		logging.EntityRef{ID: bonus.TeamID, Kind: logging.EntityKindTeam},
		logscan.GroupPayload{
			GroupID: bonus.GroupID,
			TeamID:  bonus.TeamID,
			Bonus:   bonus.Bonus,
		})
}
