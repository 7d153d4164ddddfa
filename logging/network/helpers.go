package network

import (
	"context"

	"about-last-night/server/logging"
)

const (
	// EventDeviceConnected is emitted on a first-time device handshake.
	EventDeviceConnected logging.EventType = "network.device_connected"
	// EventDeviceReconnected is emitted when a previously-seen deviceId rejoins.
	EventDeviceReconnected logging.EventType = "network.device_reconnected"
	// EventDeviceDisconnected is emitted when a connection drops.
	EventDeviceDisconnected logging.EventType = "network.device_disconnected"
)

// DevicePayload captures handshake details.
type DevicePayload struct {
	DeviceType string   `json:"deviceType"`
	Rooms      []string `json:"rooms,omitempty"`
}

// DeviceConnected publishes a debug event for a fresh handshake.
func DeviceConnected(ctx context.Context, pub logging.Publisher, sessionID, deviceID string, payload DevicePayload) {
	publish(ctx, pub, EventDeviceConnected, sessionID, deviceID, payload)
}

// DeviceReconnected publishes a debug event for a rejoin.
func DeviceReconnected(ctx context.Context, pub logging.Publisher, sessionID, deviceID string, payload DevicePayload) {
	publish(ctx, pub, EventDeviceReconnected, sessionID, deviceID, payload)
}

// DeviceDisconnected publishes a debug event when a connection drops.
func DeviceDisconnected(ctx context.Context, pub logging.Publisher, sessionID, deviceID string) {
	publish(ctx, pub, EventDeviceDisconnected, sessionID, deviceID, nil)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, sessionID, deviceID string, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Session:  sessionID,
		Actor:    logging.EntityRef{ID: deviceID, Kind: logging.EntityKindDevice},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
