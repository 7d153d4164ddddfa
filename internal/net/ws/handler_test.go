package ws

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"about-last-night/server"
	"about-last-night/server/internal/game/token"
	"about-last-night/server/internal/net/proto"
)

func newTestHub(t *testing.T) *server.Hub {
	t.Helper()
	catalog := token.NewCatalog([]token.Token{
		{ID: "rat001", MemoryType: "Business", ValueRating: 4},
	}, token.ScoringConfig{BaseValues: map[int]int{4: 40}})
	hub := server.NewHub(server.DefaultHubConfig(), catalog, nil)
	hub.CreateSession("test night", []string{"001"})
	if err := hub.StartSession(); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return hub
}

func dial(t *testing.T, srv *httptest.Server, deviceID, deviceType string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL, deviceID, deviceType), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) proto.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	env, err := proto.Decode(payload)
	if err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := proto.NewEnvelope(event, payload, time.Now())
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func TestHandshakeSendsSyncFull(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "gm-1", "gm")
	env := readEnvelope(t, conn)
	if env.Event != proto.EventSyncFull {
		t.Fatalf("expected %s first, got %s", proto.EventSyncFull, env.Event)
	}

	var sync proto.SyncFull
	if err := env.Bind(&sync); err != nil {
		t.Fatalf("failed to bind sync payload: %v", err)
	}
	if sync.Session == nil || sync.Session.Status != "active" {
		t.Fatalf("expected active session in snapshot, got %+v", sync.Session)
	}
	if sync.Reconnection {
		t.Fatalf("expected first connect not to be flagged as reconnection")
	}
}

func TestReconnectionFlagOnSecondConnect(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	first := dial(t, srv, "gm-1", "gm")
	readEnvelope(t, first)
	first.Close()

	second := dial(t, srv, "gm-1", "gm")
	env := readEnvelope(t, second)
	var sync proto.SyncFull
	if err := env.Bind(&sync); err != nil {
		t.Fatalf("failed to bind sync payload: %v", err)
	}
	if !sync.Reconnection {
		t.Fatalf("expected reconnection flag on second connect")
	}
}

func TestHandshakeRejectsBadRequests(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{AuthToken: "secret"})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "?deviceId=gm-1&deviceType=gm")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "?token=secret&deviceType=gm")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without deviceId, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "?token=secret&deviceId=gm-1&deviceType=toaster")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid deviceType, got %d", resp.StatusCode)
	}
}

func TestTransactionSubmitReturnsResult(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "gm-1", "gm")
	readEnvelope(t, conn)

	writeEnvelope(t, conn, proto.EventTransactionSubmit, proto.TransactionSubmit{
		TokenID: "rat001",
		TeamID:  "001",
		Mode:    "blackmarket",
	})

	// The gm room receives transaction:new and score:updated broadcasts too;
	// scan until the direct result arrives.
	for i := 0; i < 5; i++ {
		env := readEnvelope(t, conn)
		if env.Event != proto.EventTransactionResult {
			continue
		}
		var tx struct {
			Status string `json:"status"`
			Points int    `json:"points"`
		}
		if err := env.Bind(&tx); err != nil {
			t.Fatalf("failed to bind result: %v", err)
		}
		if tx.Status != "accepted" || tx.Points != 40 {
			t.Fatalf("expected accepted/40, got %+v", tx)
		}
		return
	}
	t.Fatalf("never received %s", proto.EventTransactionResult)
}

func TestHeartbeatAck(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "player-1", "player")
	readEnvelope(t, conn)

	writeEnvelope(t, conn, proto.EventHeartbeat, proto.Heartbeat{SentAt: time.Now().UnixMilli()})
	env := readEnvelope(t, conn)
	if env.Event != proto.EventHeartbeatAck {
		t.Fatalf("expected %s, got %s", proto.EventHeartbeatAck, env.Event)
	}
}

func TestUnknownEventReturnsError(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "player-1", "player")
	readEnvelope(t, conn)

	writeEnvelope(t, conn, "bogus:event", nil)
	env := readEnvelope(t, conn)
	if env.Event != proto.EventError {
		t.Fatalf("expected error event, got %s", env.Event)
	}
	var payload proto.ErrorPayload
	if err := env.Bind(&payload); err != nil {
		t.Fatalf("failed to bind error payload: %v", err)
	}
	if payload.Code != server.CodeInvalidCommand {
		t.Fatalf("expected %s, got %q", server.CodeInvalidCommand, payload.Code)
	}
}

func websocketURL(t *testing.T, baseURL, deviceID, deviceType string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	query := parsed.Query()
	query.Set("deviceId", deviceID)
	query.Set("deviceType", deviceType)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
