package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"about-last-night/server"
	"about-last-night/server/internal/game/offline"
	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/net/ws"
)

type HTTPHandlerConfig struct {
	AuthToken string
	Logger    *log.Logger
}

type scanRequest struct {
	TokenID    string `json:"tokenId"`
	TeamID     string `json:"teamId,omitempty"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	Mode       string `json:"mode,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type batchRequest struct {
	BatchID      string        `json:"batchId"`
	Transactions []scanRequest `json:"transactions"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewHTTPHandler assembles the full HTTP surface: scan submission, batch
// upload, health, diagnostics, and the websocket upgrade.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status      string `json:"status"`
			ServerTime  int64  `json:"serverTime"`
			Devices     any    `json:"devices"`
			QueueLength int    `json:"queueLength"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			Devices:     hub.DiagnosticsSnapshot(),
			QueueLength: hub.QueueLength(),
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("/api/scan", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, nethttp.StatusBadRequest, errorResponse{Error: "INVALID_PAYLOAD", Message: err.Error()})
			return
		}
		if req.TokenID == "" || req.DeviceID == "" {
			writeJSON(w, nethttp.StatusBadRequest, errorResponse{Error: "INVALID_PAYLOAD", Message: "tokenId and deviceId are required"})
			return
		}
		deviceType, ok := session.ParseDeviceType(req.DeviceType)
		if !ok {
			writeJSON(w, nethttp.StatusBadRequest, errorResponse{Error: "INVALID_PAYLOAD", Message: "unknown deviceType " + req.DeviceType})
			return
		}

		timestamp := time.Now()
		if req.Timestamp > 0 {
			timestamp = time.UnixMilli(req.Timestamp)
		}
		outcome := hub.SubmitScan(scoring.Request{
			TokenID:    req.TokenID,
			TeamID:     req.TeamID,
			DeviceID:   req.DeviceID,
			DeviceType: deviceType,
			Mode:       session.Mode(req.Mode),
		}, timestamp)

		if outcome.Queued {
			writeJSON(w, nethttp.StatusAccepted, struct {
				Status      string `json:"status"`
				QueueLength int    `json:"queueLength"`
			}{Status: "queued", QueueLength: hub.QueueLength()})
			return
		}

		tx := outcome.Transaction
		switch {
		case tx.Status == session.TxDuplicate:
			writeJSON(w, nethttp.StatusConflict, struct {
				Duplicate   bool                `json:"duplicate"`
				Transaction session.Transaction `json:"transaction"`
			}{Duplicate: true, Transaction: tx})
		case tx.Status == session.TxError && tx.ErrorCode == session.CodeTokenUnknown:
			writeJSON(w, nethttp.StatusNotFound, errorResponse{Error: tx.ErrorCode, Message: "token " + req.TokenID + " is not in the catalog"})
		case tx.Status == session.TxError:
			writeJSON(w, nethttp.StatusUnprocessableEntity, errorResponse{Error: tx.ErrorCode})
		default:
			writeJSON(w, nethttp.StatusOK, tx)
		}
	})

	mux.HandleFunc("/api/scan/batch", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, nethttp.StatusBadRequest, errorResponse{Error: "INVALID_PAYLOAD", Message: err.Error()})
			return
		}

		for _, scan := range req.Transactions {
			deviceType, ok := session.ParseDeviceType(scan.DeviceType)
			if !ok {
				continue
			}
			timestamp := time.Now()
			if scan.Timestamp > 0 {
				timestamp = time.UnixMilli(scan.Timestamp)
			}
			hub.EnqueueOffline(offline.Entry{
				TokenID:    scan.TokenID,
				DeviceID:   scan.DeviceID,
				DeviceType: deviceType,
				TeamID:     scan.TeamID,
				Mode:       session.Mode(scan.Mode),
				Timestamp:  timestamp,
			})
		}

		batch, drained := hub.ProcessQueue()
		response := struct {
			BatchID        string `json:"batchId"`
			ProcessedCount int    `json:"processedCount"`
			FailedCount    int    `json:"failedCount"`
			Queued         bool   `json:"queued"`
		}{BatchID: req.BatchID}
		if drained {
			for _, result := range batch.Results {
				if result.Status == offline.StatusFailed {
					response.FailedCount++
				} else {
					response.ProcessedCount++
				}
			}
		} else {
			response.Queued = true
		}
		writeJSON(w, nethttp.StatusOK, response)
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{AuthToken: cfg.AuthToken, Logger: logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, status int) {
	nethttp.Error(w, message, status)
}
