// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package eventlog writes canonical events to daily JSONL files for
// offline review. One line per record; files rotate at midnight UTC.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/events"
)

// Config configures the event log.
type Config struct {
	Enabled bool
	Dir     string

	// EventTypes filters which canonical types are written; "*" keeps all.
	EventTypes []string

	// IncludeRaw keeps the raw source payload in entries.
	IncludeRaw bool

	// ControlEvents writes system records (connects, disconnects).
	ControlEvents bool
}

// entry is one logged line: the event plus the time it was written.
type entry struct {
	*events.Event
	LoggedAt time.Time `json:"logged_at"`
}

type systemEntry struct {
	Record   string         `json:"record"`
	Kind     string         `json:"kind"`
	LoggedAt time.Time      `json:"logged_at"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Writer appends records to the current day's file. Safe for concurrent
// use. A disabled writer discards everything, so callers never need to
// branch on configuration.
type Writer struct {
	cfg    Config
	logger zerolog.Logger

	all   bool
	types map[string]struct{}

	mu   sync.Mutex
	file *os.File
	day  string

	now func() time.Time
}

// NewWriter creates an event log writer. The directory is created on the
// first write.
func NewWriter(cfg Config, logger zerolog.Logger) *Writer {
	w := &Writer{
		cfg:    cfg,
		logger: logger,
		types:  make(map[string]struct{}, len(cfg.EventTypes)),
		now:    time.Now,
	}
	if len(cfg.EventTypes) == 0 {
		w.all = true
	}
	for _, t := range cfg.EventTypes {
		if t == "*" {
			w.all = true
		}
		w.types[strings.ToLower(t)] = struct{}{}
	}
	return w
}

// Log writes one event if it passes the type filter.
func (w *Writer) Log(ev *events.Event) {
	if !w.cfg.Enabled || !w.wants(ev.EventType) {
		return
	}

	out := ev
	if !w.cfg.IncludeRaw && ev.Raw != nil {
		stripped := *ev
		stripped.Raw = nil
		out = &stripped
	}

	w.write(entry{Event: out, LoggedAt: w.now().UTC()})
}

// LogSystem writes a system record (connect, disconnect, shutdown).
func (w *Writer) LogSystem(kind string, fields map[string]any) {
	if !w.cfg.Enabled || !w.cfg.ControlEvents {
		return
	}
	w.write(systemEntry{Record: "system", Kind: kind, LoggedAt: w.now().UTC(), Fields: fields})
}

// Close closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *Writer) wants(eventType string) bool {
	if w.all {
		return true
	}
	_, ok := w.types[strings.ToLower(eventType)]
	return ok
}

func (w *Writer) write(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		w.logger.Error().Err(err).Msg("marshal event log record")
		return
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(); err != nil {
		w.logger.Error().Err(err).Msg("open event log file")
		return
	}
	if _, err := w.file.Write(data); err != nil {
		w.logger.Error().Err(err).Msg("write event log record")
	}
}

// rotate opens the current day's file, switching files at midnight UTC.
// Must be called with mu held.
func (w *Writer) rotate() error {
	day := w.now().UTC().Format("2006-01-02")
	if w.file != nil && w.day == day {
		return nil
	}

	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(w.cfg.Dir, "events-"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w.file = f
	w.day = day
	return nil
}
