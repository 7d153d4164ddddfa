package server

import (
	"time"

	"about-last-night/server/internal/net/proto"
)

// syncFullLocked assembles the full-state snapshot for one device: session,
// scores, recent transactions, derived video/system status, connected
// devices, and — scoped to this device only — the tokens it has already
// scanned this session. Caller holds h.mu.
func (h *Hub) syncFullLocked(deviceID string, reconnection bool) proto.SyncFull {
	now := h.clock.Now()
	return proto.SyncFull{
		Session:            proto.SessionFromAggregate(h.sessions.Current(), now),
		Scores:             h.sessions.Scores(),
		RecentTransactions: h.sessions.RecentTransactions(h.cfg.RecentTransactions),
		Video:              h.video,
		System:             h.systemStatusLocked(),
		ConnectedDevices:   h.connectedDevicesLocked(),
		ScannedTokens:      h.sessions.DeviceScans(deviceID),
		Reconnection:       reconnection,
	}
}

// broadcastSyncFullLocked pushes a fresh scoped snapshot to every live
// connection. Each device receives only its own scanned-token set. Caller
// holds h.mu.
func (h *Hub) broadcastSyncFullLocked() {
	for deviceID, sub := range h.subscribers {
		sync := h.syncFullLocked(deviceID, true)
		env, ok := h.envelope(proto.EventSyncFull, sync)
		if !ok {
			continue
		}
		if err := sub.writeEnvelope(env); err != nil {
			h.logger.Printf("failed to send sync:full to %s: %v", deviceID, err)
			go h.Disconnect(deviceID)
		}
	}
}

func (h *Hub) systemStatusLocked() proto.SystemStatus {
	return proto.SystemStatus{
		Online:      true,
		QueueLength: h.queue.Len(),
		DeviceCount: len(h.subscribers),
	}
}

func (h *Hub) connectedDevicesLocked() []proto.DeviceInfo {
	infos := make([]proto.DeviceInfo, 0, len(h.subscribers))
	for deviceID := range h.subscribers {
		if device, ok := h.devices[deviceID]; ok {
			infos = append(infos, h.deviceInfoLocked(device))
		}
	}
	return infos
}

func (h *Hub) deviceInfoLocked(device *deviceState) proto.DeviceInfo {
	return proto.DeviceInfo{
		DeviceID:   device.ID,
		DeviceType: string(device.Type),
		LastSeen:   device.lastSeen.UTC().Format(time.RFC3339),
	}
}

// DiagnosticsDevice is one row of the diagnostics endpoint payload.
type DiagnosticsDevice struct {
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	Connected  bool   `json:"connected"`
	LastSeen   int64  `json:"lastSeen"`
	RTTMillis  int64  `json:"rttMillis"`
}

// DiagnosticsSnapshot exposes device liveness for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() []DiagnosticsDevice {
	h.mu.Lock()
	defer h.mu.Unlock()

	devices := make([]DiagnosticsDevice, 0, len(h.devices))
	for _, device := range h.devices {
		devices = append(devices, DiagnosticsDevice{
			DeviceID:   device.ID,
			DeviceType: string(device.Type),
			Connected:  device.connected,
			LastSeen:   device.lastSeen.UnixMilli(),
			RTTMillis:  device.lastRTT.Milliseconds(),
		})
	}
	return devices
}

// persistLocked saves the current-session snapshot. Persistence failures
// are logged, never fatal: the in-memory session stays authoritative.
// Caller holds h.mu.
func (h *Hub) persistLocked() {
	if h.snapshots == nil {
		return
	}
	snap, ok := h.sessions.Snapshot()
	if !ok {
		return
	}
	if err := h.snapshots.Save(snap); err != nil {
		h.logger.Printf("failed to persist session snapshot: %v", err)
	}
}

// RestoreSnapshot loads a persisted non-ended session on boot and rebuilds
// the ClaimIndex from its transaction log.
func (h *Hub) RestoreSnapshot() (bool, error) {
	if h.snapshots == nil {
		return false, nil
	}
	snap, found, err := h.snapshots.Load()
	if err != nil {
		return false, err
	}
	if !found || snap.Status == "" {
		return false, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions.Restore(snap)
	h.engine.Rebuild(h.sessions)
	h.logger.Printf("restored session %s (%s) with %d transactions", snap.ID, snap.Status, len(snap.Transactions))
	return true, nil
}
