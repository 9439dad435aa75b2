// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package relay wires the ingestion pipeline: raw frames in, canonical
// events out on the bus.
package relay

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/bus"
	"github.com/tomtom215/streamrelay/internal/eventlog"
	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/metrics"
)

// Pipeline canonicalizes raw frames, records them, and publishes them.
// Multiple ingestion sources may feed one pipeline; the shared
// canonicalizer keeps the event sequence monotonic across all of them.
type Pipeline struct {
	canon  *events.Canonicalizer
	log    *eventlog.Writer
	bus    *bus.Bus
	logger zerolog.Logger
}

// New creates a Pipeline.
func New(canon *events.Canonicalizer, log *eventlog.Writer, b *bus.Bus, logger zerolog.Logger) *Pipeline {
	return &Pipeline{canon: canon, log: log, bus: b, logger: logger}
}

// HandleFrame processes one raw frame from a source. Malformed payloads
// are counted and dropped; everything else becomes one or more canonical
// events.
func (p *Pipeline) HandleFrame(event string, data json.RawMessage) {
	if isStreamEnd(event) {
		p.HandleStreamEnd()
		return
	}

	evs, err := p.canon.Canonicalize(event, data)
	if err != nil {
		metrics.EventsDropped.Inc()
		p.logger.Warn().Err(err).Str("source_event", event).Msg("dropping malformed frame")
		return
	}

	for _, ev := range evs {
		p.emit(ev)
	}
}

// HandleStreamEnd emits the stream-end control event and resets the
// per-stream counters.
func (p *Pipeline) HandleStreamEnd() {
	p.logger.Info().Msg("broadcast ended")
	p.emit(p.canon.StreamEnd())
}

// LogSystem records a system event (connects, disconnects) in the event
// log.
func (p *Pipeline) LogSystem(kind string, fields map[string]any) {
	p.log.LogSystem(kind, fields)
}

// Sequence returns the last assigned event sequence number.
func (p *Pipeline) Sequence() uint64 {
	return p.canon.Sequence()
}

func (p *Pipeline) emit(ev *events.Event) {
	metrics.EventsIngested.WithLabelValues(ev.EventType).Inc()
	p.log.Log(ev)
	if err := p.bus.Publish(ev); err != nil {
		p.logger.Error().Err(err).Str("event_id", ev.ID).Msg("publish failed")
	}
}

func isStreamEnd(event string) bool {
	switch strings.ToLower(event) {
	case "streamend", "stream_end":
		return true
	}
	return false
}
