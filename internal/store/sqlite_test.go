package store

import (
	"path/filepath"
	"testing"
	"time"

	"about-last-night/server/internal/game/session"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(id string, status session.Status) session.Snapshot {
	return session.Snapshot{
		ID:        id,
		Name:      "friday night",
		Teams:     []string{"001", "002"},
		Status:    status,
		StartTime: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		Transactions: []session.Transaction{
			{ID: "tx-1", TokenID: "rat001", TeamID: "001", Status: session.TxAccepted, Points: 40},
		},
		Scores: []session.TeamScore{
			{TeamID: "001", CurrentScore: 40, BaseScore: 40},
		},
		DeviceScans: map[string][]string{"gm-1": {"rat001"}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := sampleSnapshot("sess-1", session.StatusActive)
	if err := s.Save(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if got.ID != want.ID || got.Status != want.Status {
		t.Fatalf("expected %s/%s, got %s/%s", want.ID, want.Status, got.ID, got.Status)
	}
	if len(got.Transactions) != 1 || got.Transactions[0].Points != 40 {
		t.Fatalf("expected transactions to survive, got %+v", got.Transactions)
	}
	if got.DeviceScans["gm-1"][0] != "rat001" {
		t.Fatalf("expected device scans to survive, got %+v", got.DeviceScans)
	}
}

func TestLoadEmptyStore(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot in an empty store")
	}
}

func TestLoadSkipsEndedSessions(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(sampleSnapshot("sess-1", session.StatusEnded)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if ok {
		t.Fatalf("expected ended snapshots to be skipped on load")
	}
}

func TestSaveUpsertsSameSession(t *testing.T) {
	s := openTestStore(t)

	snap := sampleSnapshot("sess-1", session.StatusActive)
	if err := s.Save(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	snap.Status = session.StatusPaused
	snap.Scores[0].CurrentScore = 70
	if err := s.Save(snap); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if got.Status != session.StatusPaused {
		t.Fatalf("expected updated status, got %s", got.Status)
	}
	if got.Scores[0].CurrentScore != 70 {
		t.Fatalf("expected updated score, got %d", got.Scores[0].CurrentScore)
	}
}

func TestClearRemovesSnapshots(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(sampleSnapshot("sess-1", session.StatusActive)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if ok {
		t.Fatalf("expected store to be empty after clear")
	}
}
