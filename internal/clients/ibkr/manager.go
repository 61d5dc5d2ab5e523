package ibkr

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionManager keeps the bridge connected. It polls connectivity on a
// short fixed interval and asks the bridge to reconnect when the session is
// down; the bridge's own cooldown bounds the attempt rate.
type ConnectionManager struct {
	bridge   *Bridge
	interval time.Duration
	log      zerolog.Logger
}

// NewConnectionManager creates a connection manager for the bridge
func NewConnectionManager(bridge *Bridge, log zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		bridge:   bridge,
		interval: time.Second,
		log:      log.With().Str("component", "ibkr-manager").Logger(),
	}
}

// Run blocks until ctx is cancelled
func (m *ConnectionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.bridge.IsConnected() {
				continue
			}

			if err := m.bridge.Connect(); err != nil {
				switch {
				case errors.Is(err, ErrCooldown):
					// Expected between attempts
				case errors.Is(err, ErrClosed):
					return
				default:
					m.log.Warn().Err(err).Msg("Reconnect attempt failed")
				}
			}
		}
	}
}
