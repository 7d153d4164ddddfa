package server

import (
	"about-last-night/server/internal/game/session"
)

// Room names. A room is a broadcast-targeting group: role-wide,
// session-wide, team-wide, or device-private.
const (
	RoomGM            = "gm"
	RoomAdminMonitors = "admin-monitors"
)

func sessionRoom(sessionID string) string {
	return "session:" + sessionID
}

func teamRoom(teamID string) string {
	return "team:" + teamID
}

func deviceRoom(deviceID string) string {
	return "device:" + deviceID
}

// joinRoomLocked adds a device to a room. Caller holds h.mu.
func (h *Hub) joinRoomLocked(room, deviceID string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[deviceID] = struct{}{}
}

// leaveAllRoomsLocked removes a device from every room. Caller holds h.mu.
func (h *Hub) leaveAllRoomsLocked(deviceID string) {
	for room, members := range h.rooms {
		delete(members, deviceID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// joinStandardRoomsLocked subscribes a device to its role room, the current
// session room, every current team room, and its private room.
func (h *Hub) joinStandardRoomsLocked(device *deviceState) []string {
	rooms := []string{deviceRoom(device.ID)}
	switch device.Type {
	case session.DeviceGM:
		rooms = append(rooms, RoomGM, RoomAdminMonitors)
	}
	if sess := h.sessions.Current(); sess != nil {
		rooms = append(rooms, sessionRoom(sess.ID))
		for _, team := range sess.Teams {
			rooms = append(rooms, teamRoom(team))
		}
	}
	for _, room := range rooms {
		h.joinRoomLocked(room, device.ID)
	}
	device.rooms = rooms
	return rooms
}

// rejoinSessionRoomsLocked re-subscribes every known device to the rooms of
// a freshly created session. Caller holds h.mu.
func (h *Hub) rejoinSessionRoomsLocked() {
	for _, device := range h.devices {
		h.leaveAllRoomsLocked(device.ID)
		h.joinStandardRoomsLocked(device)
	}
}

// roomSubscribersLocked resolves the live connections in a room. Devices
// that are registered but currently disconnected are skipped. Caller holds
// h.mu.
func (h *Hub) roomSubscribersLocked(room string) []*namedSubscriber {
	members := h.rooms[room]
	if len(members) == 0 {
		return nil
	}
	subs := make([]*namedSubscriber, 0, len(members))
	for deviceID := range members {
		if sub, ok := h.subscribers[deviceID]; ok {
			subs = append(subs, &namedSubscriber{deviceID: deviceID, sub: sub})
		}
	}
	return subs
}
