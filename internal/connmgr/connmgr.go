// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package connmgr keeps long-lived outbound connections alive.
//
// A Manager owns one connection. It dials, waits for the session to end,
// and redials after a fixed delay, forever, until its context is
// cancelled. Every transport in the relay (platform source, compositor,
// automation host) runs under its own Manager.
package connmgr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/metrics"
)

// State of a managed connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateStopped      State = "stopped"
)

// Status is a point-in-time snapshot of a managed connection.
type Status struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Attempts    int       `json:"attempts"`
}

// ConnectFunc establishes a connection and blocks while the session is
// healthy, returning when it ends. Call ready once the session is usable
// so the manager reports connected rather than connecting.
type ConnectFunc func(ctx context.Context, ready func()) error

// Manager supervises one connection with fixed-delay reconnects.
type Manager struct {
	name    string
	delay   time.Duration
	connect ConnectFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New creates a Manager. delay is the fixed wait between reconnect
// attempts.
func New(name string, delay time.Duration, connect ConnectFunc, logger zerolog.Logger) *Manager {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	return &Manager{
		name:    name,
		delay:   delay,
		connect: connect,
		logger:  logger.With().Str("connection", name).Logger(),
		status:  Status{Name: name, State: StateDisconnected},
	}
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the session is currently up.
func (m *Manager) Connected() bool {
	return m.Status().State == StateConnected
}

// Run drives the connect/reconnect loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(StateConnecting, nil)
		m.logger.Info().Msg("connecting")

		err := m.connect(ctx, func() {
			m.setState(StateConnected, nil)
			m.logger.Info().Msg("connected")
		})

		if ctx.Err() != nil {
			m.setState(StateStopped, nil)
			return ctx.Err()
		}

		m.setState(StateDisconnected, err)
		metrics.SourceReconnects.WithLabelValues(m.name).Inc()
		if err != nil {
			m.logger.Warn().Err(err).Dur("retry_in", m.delay).Msg("connection ended")
		} else {
			m.logger.Info().Dur("retry_in", m.delay).Msg("connection closed")
		}

		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.setState(StateStopped, nil)
			return ctx.Err()
		}
	}
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.State = s
	switch s {
	case StateConnecting:
		m.status.Attempts++
	case StateConnected:
		m.status.ConnectedAt = time.Now().UTC()
		m.status.LastError = ""
	case StateDisconnected, StateStopped:
		if err != nil {
			m.status.LastError = err.Error()
		}
	}

	connected := 0.0
	if s == StateConnected {
		connected = 1.0
	}
	metrics.AdapterConnected.WithLabelValues(m.name).Set(connected)
}
