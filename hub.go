// Package server hosts the hub: the connection and room registry plus the
// single serialized execution path for scans, queue replays, and admin
// commands. All cross-component communication flows through the internal
// event bus wired at construction time, before any connection is accepted.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"about-last-night/server/internal/events"
	"about-last-night/server/internal/game/offline"
	"about-last-night/server/internal/game/scoring"
	"about-last-night/server/internal/game/session"
	"about-last-night/server/internal/game/token"
	"about-last-night/server/internal/net/proto"
	"about-last-night/server/internal/telemetry"
	"about-last-night/server/logging"
	logscan "about-last-night/server/logging/scan"
)

// SnapshotStore persists the current-session snapshot. The sqlite store in
// internal/store implements it; a nil store disables persistence.
type SnapshotStore interface {
	Save(session.Snapshot) error
	Load() (session.Snapshot, bool, error)
	Clear() error
}

// Identity is the validated result of a connection handshake.
type Identity struct {
	DeviceID   string
	DeviceType session.DeviceType
}

type deviceState struct {
	ID        string
	Type      session.DeviceType
	rooms     []string
	connected bool
	lastSeen  time.Time
	lastRTT   time.Duration
}

// Hub owns all live device connections, room memberships, and the game
// state components. One mutex serializes every state mutation so the
// duplicate-check → claim-registration → score-update → broadcast sequence
// of a scan is a single uninterrupted step.
type Hub struct {
	mu  sync.Mutex
	cfg HubConfig

	sessions *session.Store
	engine   *scoring.Engine
	queue    *offline.Queue
	catalog  *token.Catalog

	devices     map[string]*deviceState
	subscribers map[string]*subscriber
	rooms       map[string]map[string]struct{}

	bus        *events.Bus
	dispatcher *dispatcher
	snapshots  SnapshotStore

	video proto.VideoStatus

	logger    telemetry.Logger
	publisher logging.Publisher
	clock     logging.Clock

	resetting atomic.Bool
}

// NewHub constructs a hub with all domain listeners registered. Listener
// registration completes here, before any connection can be accepted, so an
// early client never misses its initial broadcasts.
func NewHub(cfg HubConfig, catalog *token.Catalog, snapshots SnapshotStore) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultHubConfig().DebounceWindow
	}
	if cfg.RecentTransactions <= 0 {
		cfg.RecentTransactions = DefaultHubConfig().RecentTransactions
	}

	h := &Hub{
		cfg:         cfg,
		sessions:    session.NewStore(),
		engine:      scoring.New(catalog),
		queue:       offline.NewQueue(),
		catalog:     catalog,
		devices:     make(map[string]*deviceState),
		subscribers: make(map[string]*subscriber),
		rooms:       make(map[string]map[string]struct{}),
		bus:         events.NewBus(),
		snapshots:   snapshots,
		video:       proto.VideoStatus{Status: "idle"},
		logger:      cfg.Logger,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
	}
	h.dispatcher = newDispatcher(cfg.DebounceWindow, cfg.Scheduler, h.sendToRoom)
	h.wireListeners()
	return h
}

// wireListeners maps domain events onto rooms. Handlers run synchronously
// under h.mu, preserving emission order on the wire.
func (h *Hub) wireListeners() {
	h.bus.Subscribe(events.SessionUpdated, func(ev events.Event) {
		sess, _ := ev.Payload.(*session.Session)
		if env, ok := h.envelope(proto.EventSessionUpdate, proto.SessionFromAggregate(sess, h.clock.Now())); ok {
			h.sendToRoomLocked(RoomGM, env)
		}
	})
	h.bus.Subscribe(events.TransactionRecorded, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventTransactionNew, ev.Payload); ok {
			h.sendToRoomLocked(RoomGM, env)
		}
	})
	h.bus.Subscribe(events.ScoreUpdated, func(ev events.Event) {
		score, _ := ev.Payload.(session.TeamScore)
		if env, ok := h.envelope(proto.EventScoreUpdated, ev.Payload); ok {
			h.dispatcher.Debounce(RoomGM, score.TeamID, env)
		}
	})
	h.bus.Subscribe(events.GroupCompleted, func(ev events.Event) {
		bonus, _ := ev.Payload.(*scoring.GroupBonus)
		if env, ok := h.envelope(proto.EventGroupCompleted, bonus); ok {
			h.sendToRoomLocked(RoomGM, env)
			if bonus != nil {
				h.sendToRoomLocked(teamRoom(bonus.TeamID), env)
			}
		}
	})
	h.bus.Subscribe(events.QueueProcessed, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventQueueProcessed, ev.Payload); ok {
			h.sendToRoomLocked(RoomGM, env)
		}
	})
	h.bus.Subscribe(events.DeviceConnected, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventDeviceConnected, ev.Payload); ok {
			h.sendToRoomLocked(RoomAdminMonitors, env)
		}
	})
	h.bus.Subscribe(events.DeviceDisconnected, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventDeviceOffline, ev.Payload); ok {
			h.sendToRoomLocked(RoomAdminMonitors, env)
		}
	})
	// Video and system flips bypass the debounce window entirely.
	h.bus.Subscribe(events.VideoStatusChanged, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventVideoStatus, ev.Payload); ok {
			h.sendToRoomLocked(h.currentSessionRoomLocked(), env)
		}
	})
	h.bus.Subscribe(events.SystemStatusChanged, func(ev events.Event) {
		if env, ok := h.envelope(proto.EventSystemStatus, ev.Payload); ok {
			h.sendToRoomLocked(h.currentSessionRoomLocked(), env)
		}
	})
}

func (h *Hub) currentSessionRoomLocked() string {
	if sess := h.sessions.Current(); sess != nil {
		return sessionRoom(sess.ID)
	}
	return RoomGM
}

// Subscribe registers a device connection, joins its rooms, and returns the
// scoped full-state snapshot. The Reconnection flag is true when the
// deviceId was seen earlier in this process lifetime.
func (h *Hub) Subscribe(id Identity, conn *websocket.Conn) (*subscriber, proto.SyncFull, error) {
	now := h.clock.Now()

	h.mu.Lock()
	if existing, ok := h.subscribers[id.DeviceID]; ok {
		existing.close()
		delete(h.subscribers, id.DeviceID)
	}

	device, seen := h.devices[id.DeviceID]
	if !seen {
		device = &deviceState{ID: id.DeviceID, Type: id.DeviceType}
		h.devices[id.DeviceID] = device
	}
	device.Type = id.DeviceType
	device.connected = true
	device.lastSeen = now

	// Announce before registering the new connection so the joining device
	// never receives its own device:connected ahead of its sync:full.
	h.bus.Emit(events.Event{Type: events.DeviceConnected, Payload: h.deviceInfoLocked(device)})

	sub := &subscriber{conn: conn}
	h.subscribers[id.DeviceID] = sub
	h.leaveAllRoomsLocked(id.DeviceID)
	rooms := h.joinStandardRoomsLocked(device)

	sync := h.syncFullLocked(id.DeviceID, seen)
	h.mu.Unlock()

	h.logDeviceJoin(id, rooms, seen)
	return sub, sync, nil
}

// Disconnect drops a device's connection. The device registration and its
// per-device scan history survive so a reconnection can restore them.
func (h *Hub) Disconnect(deviceID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[deviceID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, deviceID)
	if device, seen := h.devices[deviceID]; seen {
		device.connected = false
		device.lastSeen = h.clock.Now()
	}
	h.bus.Emit(events.Event{Type: events.DeviceDisconnected, Payload: proto.DeviceInfo{DeviceID: deviceID}})
	h.mu.Unlock()

	sub.close()
	h.logDeviceLeave(deviceID)
}

// UpdateHeartbeat records device liveness and returns the last measured RTT.
func (h *Hub) UpdateHeartbeat(deviceID string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	device, ok := h.devices[deviceID]
	if !ok {
		return 0, false
	}
	device.lastSeen = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			device.lastRTT = rtt
		}
	}
	return device.lastRTT, true
}

// RunHeartbeatMonitor disconnects devices whose last heartbeat is older
// than disconnectAfter. Blocks until ctx is done.
func (h *Hub) RunHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStale()
		}
	}
}

func (h *Hub) sweepStale() {
	now := h.clock.Now()
	h.mu.Lock()
	var stale []string
	for id, device := range h.devices {
		if device.connected && now.Sub(device.lastSeen) > disconnectAfter {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.logger.Printf("disconnecting %s: heartbeat timed out", id)
		h.Disconnect(id)
	}
}

// SubmitTransaction runs a live scan through the session-state checks and
// the scoring engine, then emits the resulting events in order. The whole
// sequence holds h.mu: no other scan for the same token can interleave
// between the duplicate check and the claim registration.
func (h *Hub) SubmitTransaction(req scoring.Request) (scoring.Result, *session.Error) {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if serr := h.sessions.CheckScannable(); serr != nil {
		tx := session.Transaction{
			TokenID:    req.TokenID,
			TeamID:     req.TeamID,
			DeviceID:   req.DeviceID,
			DeviceType: req.DeviceType,
			Mode:       req.Mode,
			Status:     session.TxError,
			ErrorCode:  serr.Code,
			Timestamp:  now,
		}
		h.logScanOutcome(tx)
		return scoring.Result{Transaction: tx}, serr
	}

	result := h.processLocked(req, now)
	h.emitScanEventsLocked(result)
	h.persistLocked()
	return result, nil
}

// processLocked delegates to the engine. Caller holds h.mu.
func (h *Hub) processLocked(req scoring.Request, now time.Time) scoring.Result {
	result := h.engine.Process(h.sessions, req, now)
	h.logScanOutcome(result.Transaction)
	if result.Bonus != nil {
		h.logGroupBonus(*result.Bonus)
	}
	return result
}

// emitScanEventsLocked broadcasts one scan's outcome: the transaction
// record always, the group bonus when one landed, and a score update only
// when a score actually changed. Caller holds h.mu.
func (h *Hub) emitScanEventsLocked(result scoring.Result) {
	h.bus.Emit(events.Event{Type: events.TransactionRecorded, Payload: result.Transaction})
	if result.Bonus != nil {
		h.bus.Emit(events.Event{Type: events.GroupCompleted, Payload: result.Bonus})
	}
	if result.ScoreChanged {
		if score, ok := h.sessions.Score(result.Transaction.TeamID); ok {
			h.bus.Emit(events.Event{Type: events.ScoreUpdated, Payload: *score})
		}
	}
}

// ScanOutcome is the HTTP-surface view of a scan submission.
type ScanOutcome struct {
	Queued      bool
	Transaction session.Transaction
	Err         *session.Error
}

// SubmitScan is the HTTP scan path. Scans that arrive while no session is
// active are buffered in the offline queues instead of being rejected.
func (h *Hub) SubmitScan(req scoring.Request, timestamp time.Time) ScanOutcome {
	h.mu.Lock()
	if serr := h.sessions.CheckScannable(); serr != nil {
		h.queue.Enqueue(offline.Entry{
			TokenID:    req.TokenID,
			DeviceID:   req.DeviceID,
			DeviceType: req.DeviceType,
			TeamID:     req.TeamID,
			Mode:       req.Mode,
			Timestamp:  timestamp,
		})
		h.mu.Unlock()
		return ScanOutcome{Queued: true, Err: serr}
	}
	now := h.clock.Now()
	result := h.processLocked(req, now)
	h.emitScanEventsLocked(result)
	h.persistLocked()
	h.mu.Unlock()
	return ScanOutcome{Transaction: result.Transaction}
}

// EnqueueOffline buffers a scan without processing. Used by batch uploads.
func (h *Hub) EnqueueOffline(entry offline.Entry) {
	h.queue.Enqueue(entry)
}

// ProcessQueue drains both offline queues through the identical scoring
// path used for live scans. The batch is announced as one queue-processed
// event followed by a fresh full-state snapshot per device. An empty queue
// is a no-op with no events.
func (h *Hub) ProcessQueue() (proto.QueueProcessed, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if serr := h.sessions.CheckScannable(); serr != nil {
		return proto.QueueProcessed{}, false
	}
	entries := h.queue.Drain()
	if len(entries) == 0 {
		return proto.QueueProcessed{}, false
	}

	now := h.clock.Now()
	batch := proto.QueueProcessed{
		Total:   len(entries),
		Results: make([]offline.EntryResult, 0, len(entries)),
	}
	processed, failed := 0, 0
	for _, entry := range entries {
		result := h.processLocked(scoring.Request{
			TokenID:    entry.TokenID,
			TeamID:     entry.TeamID,
			DeviceID:   entry.DeviceID,
			DeviceType: entry.DeviceType,
			Mode:       entry.Mode,
		}, now)

		status := offline.StatusProcessed
		if result.Transaction.Status == session.TxError {
			status = offline.StatusFailed
			failed++
		} else {
			processed++
		}
		entryResult := offline.EntryResult{
			TokenID:  entry.TokenID,
			DeviceID: entry.DeviceID,
			Status:   status,
		}
		if entry.DeviceType == session.DeviceGM {
			entryResult.TransactionStatus = result.Transaction.Status
			entryResult.Points = result.Transaction.Points
		}
		batch.Results = append(batch.Results, entryResult)
	}

	sessionID := ""
	if sess := h.sessions.Current(); sess != nil {
		sessionID = sess.ID
	}
	logscan.QueueReplayed(context.Background(), h.publisher, sessionID, logscan.QueuePayload{
		Total:     batch.Total,
		Processed: processed,
		Failed:    failed,
	})

	h.bus.Emit(events.Event{Type: events.QueueProcessed, Payload: batch})
	h.broadcastSyncFullLocked()
	h.persistLocked()
	return batch, true
}

// QueueLength reports the buffered offline entry count.
func (h *Hub) QueueLength() int {
	return h.queue.Len()
}

// SyncFull rebuilds the scoped snapshot for one device, for sync:request.
func (h *Hub) SyncFull(deviceID string) proto.SyncFull {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncFullLocked(deviceID, true)
}

// Bus exposes the event bus for test instrumentation.
func (h *Hub) Bus() *events.Bus {
	return h.bus
}
