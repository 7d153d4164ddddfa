package server

import (
	"time"

	"about-last-night/server/internal/telemetry"
	"about-last-night/server/logging"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
)

// HubConfig carries the tunable knobs for the hub.
type HubConfig struct {
	// DebounceWindow is how long non-critical broadcasts coalesce before
	// the latest pending value flushes.
	DebounceWindow time.Duration

	// RecentTransactions is how many log entries a sync snapshot carries.
	RecentTransactions int

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Clock     logging.Clock

	// Scheduler drives debounce timers. Tests install a manual scheduler.
	Scheduler Scheduler
}

// DefaultHubConfig returns the production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		DebounceWindow:     100 * time.Millisecond,
		RecentTransactions: 10,
	}
}
