package server

import (
	"encoding/json"
	"testing"

	"about-last-night/server/internal/events"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/net/proto"
)

func gmCommand(t *testing.T, action string, payload any) proto.GMCommand {
	t.Helper()
	cmd := proto.GMCommand{Action: action}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		cmd.Payload = raw
	}
	return cmd
}

func TestHandleGMCommandRequiresGMDevice(t *testing.T) {
	hub, _ := newTestHub(t)

	_, cerr := hub.HandleGMCommand("player-1", session.DevicePlayer, gmCommand(t, proto.ActionSystemReset, nil))
	if cerr == nil || cerr.Code != CodeAuthRequired {
		t.Fatalf("expected %s, got %+v", CodeAuthRequired, cerr)
	}
}

func TestHandleGMCommandUnknownAction(t *testing.T) {
	hub, _ := newTestHub(t)

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, "session:explode", nil))
	if cerr == nil || cerr.Code != CodeInvalidCommand {
		t.Fatalf("expected %s, got %+v", CodeInvalidCommand, cerr)
	}
}

func TestHandleGMCommandLifecycle(t *testing.T) {
	hub, _ := newTestHub(t)

	ack, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionSessionCreate, proto.SessionCreate{
		Name:  "friday night",
		Teams: []string{"001", "002"},
	}))
	if cerr != nil {
		t.Fatalf("create failed: %+v", cerr)
	}
	if !ack.Success || ack.Message == "" {
		t.Fatalf("expected ack with session id, got %+v", ack)
	}

	for _, action := range []string{
		proto.ActionSessionStart,
		proto.ActionSessionPause,
		proto.ActionSessionResume,
		proto.ActionSessionEnd,
	} {
		if _, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, action, nil)); cerr != nil {
			t.Fatalf("%s failed: %+v", action, cerr)
		}
	}

	// Out-of-order transitions surface as command errors.
	if _, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionSessionPause, nil)); cerr == nil {
		t.Fatalf("expected pause after end to fail")
	}
}

func TestCreateSessionEmitsTerminalUpdateFirst(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	var statuses []session.Status
	hub.Bus().Subscribe(events.SessionUpdated, func(ev events.Event) {
		if sess, ok := ev.Payload.(*session.Session); ok && sess != nil {
			statuses = append(statuses, sess.Status)
		}
	})

	hub.CreateSession("second night", []string{"003"})

	if len(statuses) != 2 {
		t.Fatalf("expected two session updates, got %d", len(statuses))
	}
	if statuses[0] != session.StatusEnded {
		t.Fatalf("expected terminal update first, got %q", statuses[0])
	}
	if statuses[1] != session.StatusSetup {
		t.Fatalf("expected new session update second, got %q", statuses[1])
	}
}

func TestScoreAdjustCanGoNegative(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")
	hub.SubmitTransaction(gmRequest("rat001", "001"))

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionScoreAdjust, proto.ScoreAdjust{
		TeamID: "001",
		Delta:  -500,
		Reason: "cheating",
	}))
	if cerr != nil {
		t.Fatalf("adjust failed: %+v", cerr)
	}

	score := hub.SyncFull("gm-1").Scores[0]
	if score.CurrentScore != -460 {
		t.Fatalf("expected 40-500=-460, got %d", score.CurrentScore)
	}
	if len(score.AdminAdjustments) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(score.AdminAdjustments))
	}
}

func TestScoreAdjustUnknownTeam(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionScoreAdjust, proto.ScoreAdjust{
		TeamID: "999",
		Delta:  10,
	}))
	if cerr == nil || cerr.Code != CodeServerError {
		t.Fatalf("expected %s for unknown team, got %+v", CodeServerError, cerr)
	}
}

func TestTransactionDeleteRecomputesScores(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	first, _ := hub.SubmitTransaction(gmRequest("rat001", "001"))
	hub.SubmitTransaction(gmRequest("534e2b03", "001"))

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionTransactionDelete, proto.TransactionDelete{
		TransactionID: first.Transaction.ID,
	}))
	if cerr != nil {
		t.Fatalf("delete failed: %+v", cerr)
	}

	score := hub.SyncFull("gm-1").Scores[0]
	if score.CurrentScore != 30 {
		t.Fatalf("expected only the surviving scan to count, got %d", score.CurrentScore)
	}

	// The deleted claim is released: the token can be scanned again.
	result, serr := hub.SubmitTransaction(gmRequest("rat001", "001"))
	if serr != nil {
		t.Fatalf("unexpected error: %+v", serr)
	}
	if result.Transaction.Status != session.TxAccepted {
		t.Fatalf("expected re-scan accepted after deletion, got %q", result.Transaction.Status)
	}
}

func TestTransactionCreateManualEntry(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionTransactionCreate, proto.TransactionCreate{
		TokenID: "534e2b03",
		TeamID:  "001",
		Mode:    "blackmarket",
	}))
	if cerr != nil {
		t.Fatalf("manual create failed: %+v", cerr)
	}
	score := hub.SyncFull("gm-1").Scores[0]
	if score.CurrentScore != 30 {
		t.Fatalf("expected 30, got %d", score.CurrentScore)
	}
}

func TestVideoCommandsUpdateStatus(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionVideoPlay, proto.VideoCommand{TokenID: "rat001"}))
	if cerr != nil {
		t.Fatalf("video:play failed: %+v", cerr)
	}
	status := hub.SyncFull("gm-1").Video
	if status.Status != "playing" || status.TokenID != "rat001" {
		t.Fatalf("expected playing/rat001, got %+v", status)
	}

	hub.HandleGMCommand("gm-1", session.DeviceGM, gmCommand(t, proto.ActionVideoStop, nil))
	if got := hub.SyncFull("gm-1").Video.Status; got != "idle" {
		t.Fatalf("expected idle after stop, got %q", got)
	}
}

func TestVideoCommandRejectsMalformedPayload(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")

	cmd := proto.GMCommand{Action: proto.ActionVideoPlay, Payload: json.RawMessage(`"not an object"`)}
	_, cerr := hub.HandleGMCommand("gm-1", session.DeviceGM, cmd)
	if cerr == nil || cerr.Code != CodeInvalidCommand {
		t.Fatalf("expected %s, got %+v", CodeInvalidCommand, cerr)
	}
	if got := hub.SyncFull("gm-1").Video.Status; got != "idle" {
		t.Fatalf("expected status untouched by rejected command, got %q", got)
	}
}

func TestResetClearsStateAndRewiresListeners(t *testing.T) {
	hub, _ := newTestHub(t)
	startSession(t, hub, "001")
	hub.SubmitTransaction(gmRequest("rat001", "001"))
	hub.EnqueueOffline(toEntry(gmRequest("asm001", "001")))

	before := hub.Bus().HandlerCount(events.SessionUpdated)

	for i := 0; i < 3; i++ {
		if cerr := hub.Reset("gm-1"); cerr != nil {
			t.Fatalf("reset %d failed: %+v", i, cerr)
		}
	}

	if got := hub.Bus().HandlerCount(events.SessionUpdated); got != before {
		t.Fatalf("expected %d handlers after repeated resets, got %d", before, got)
	}
	sync := hub.SyncFull("gm-1")
	if sync.Session != nil {
		t.Fatalf("expected no session after reset, got %+v", sync.Session)
	}
	if hub.QueueLength() != 0 {
		t.Fatalf("expected queue cleared, got %d", hub.QueueLength())
	}
	if sync.Video.Status != "idle" {
		t.Fatalf("expected idle video status, got %q", sync.Video.Status)
	}
}

func TestResetRejectedWhileInProgress(t *testing.T) {
	hub, _ := newTestHub(t)

	hub.resetting.Store(true)
	cerr := hub.Reset("gm-2")
	if cerr == nil || cerr.Code != CodeResetInProgress {
		t.Fatalf("expected %s, got %+v", CodeResetInProgress, cerr)
	}
	hub.resetting.Store(false)

	if cerr := hub.Reset("gm-1"); cerr != nil {
		t.Fatalf("expected reset to succeed once released, got %+v", cerr)
	}
}
