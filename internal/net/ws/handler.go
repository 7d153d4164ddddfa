package ws

import (
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"about-last-night/server"
	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/net/proto"
)

type HandlerConfig struct {
	// AuthToken guards the handshake. Empty disables auth, for tests.
	AuthToken string
	Logger    *log.Logger
}

type Handler struct {
	hub      *server.Hub
	token    string
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		token:    cfg.AuthToken,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle performs the handshake, sends the initial sync:full, and runs the
// read loop until the connection drops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	query := r.URL.Query()
	if h.token != "" && query.Get("token") != h.token {
		nethttp.Error(w, "invalid token", nethttp.StatusUnauthorized)
		return
	}

	deviceID := query.Get("deviceId")
	if deviceID == "" {
		nethttp.Error(w, "missing deviceId", nethttp.StatusBadRequest)
		return
	}
	deviceType, ok := session.ParseDeviceType(query.Get("deviceType"))
	if !ok {
		nethttp.Error(w, "invalid deviceType", nethttp.StatusBadRequest)
		return
	}
	identity := server.Identity{DeviceID: deviceID, DeviceType: deviceType}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", deviceID, err)
		return
	}

	sub, sync, err := h.hub.Subscribe(identity, conn)
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	send := func(event string, data any) bool {
		env, err := proto.NewEnvelope(event, data, time.Now())
		if err != nil {
			h.logger.Printf("failed to marshal %s for %s: %v", event, deviceID, err)
			return true
		}
		if err := sub.Send(env); err != nil {
			h.hub.Disconnect(deviceID)
			return false
		}
		return true
	}

	sendError := func(code, message, details string) bool {
		return send(proto.EventError, proto.ErrorPayload{Code: code, Message: message, Details: details})
	}

	if !send(proto.EventSyncFull, sync) {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(deviceID)
			return
		}

		env, err := proto.Decode(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", deviceID, err)
			if !sendError(server.CodeInvalidCommand, "malformed envelope", err.Error()) {
				return
			}
			continue
		}

		switch env.Event {
		case proto.EventTransactionSubmit:
			var submit proto.TransactionSubmit
			if err := env.Bind(&submit); err != nil || submit.TokenID == "" {
				if !sendError(server.CodeInvalidCommand, "transaction:submit requires tokenId", "") {
					return
				}
				continue
			}
			// The handshake identity is authoritative for device fields.
			result, serr := h.hub.SubmitTransaction(scoring.Request{
				TokenID:    submit.TokenID,
				TeamID:     submit.TeamID,
				DeviceID:   deviceID,
				DeviceType: deviceType,
				Mode:       session.Mode(submit.Mode),
			})
			if serr != nil {
				if !sendError(serr.Code, serr.Message, "") {
					return
				}
			}
			if !send(proto.EventTransactionResult, result.Transaction) {
				return
			}

		case proto.EventSyncRequest:
			if !send(proto.EventSyncFull, h.hub.SyncFull(deviceID)) {
				return
			}

		case proto.EventGMCommand:
			var cmd proto.GMCommand
			if err := env.Bind(&cmd); err != nil || cmd.Action == "" {
				if !sendError(server.CodeInvalidCommand, "gm:command requires action", "") {
					return
				}
				continue
			}
			ack, cerr := h.hub.HandleGMCommand(deviceID, deviceType, cmd)
			if cerr != nil {
				ack.Success = false
				ack.Message = cerr.Message
				if !sendError(cerr.Code, cerr.Message, cerr.Details) {
					return
				}
			}
			if !send(proto.EventGMCommandAck, ack) {
				return
			}

		case proto.EventHeartbeat:
			var beat proto.Heartbeat
			if err := env.Bind(&beat); err != nil {
				continue
			}
			now := time.Now()
			rtt, ok := h.hub.UpdateHeartbeat(deviceID, now, beat.SentAt)
			if !ok {
				continue
			}
			if !send(proto.EventHeartbeatAck, proto.HeartbeatAck{
				ServerTime: now.UnixMilli(),
				ClientTime: beat.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			}) {
				return
			}

		default:
			h.logger.Printf("unknown event %q from %s", env.Event, deviceID)
			if !sendError(server.CodeInvalidCommand, "unknown event "+env.Event, "") {
				return
			}
		}
	}
}
