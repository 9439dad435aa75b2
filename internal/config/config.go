// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package config provides layered configuration loading for Streamrelay.
//
// Configuration is resolved in priority order: built-in defaults, then an
// optional YAML config file, then environment variables. See koanf.go for
// the loader and the environment variable mapping.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the relay process.
type Config struct {
	TikTok      TikTokConfig      `koanf:"tiktok"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Backend     BackendConfig     `koanf:"backend"`
	Buffer      BufferConfig      `koanf:"buffer"`
	Commands    CommandsConfig    `koanf:"commands"`
	Hub         HubConfig         `koanf:"hub"`
	EventLog    EventLogConfig    `koanf:"event_log"`
	OBS         OBSConfig         `koanf:"obs"`
	Streamerbot StreamerbotConfig `koanf:"streamerbot"`
	Rules       RulesConfig       `koanf:"rules"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// TikTokConfig configures the platform source connection.
type TikTokConfig struct {
	// Username is the broadcaster unique id to attach to. Required.
	Username string `koanf:"username" validate:"required"`

	// SourceURL is the webcast bridge websocket URL that delivers decoded
	// live events as JSON frames. Required.
	SourceURL string `koanf:"source_url" validate:"required,url|startswith=ws"`

	// SessionID is an optional authenticated session cookie value.
	SessionID string `koanf:"session_id"`

	// TargetIDC optionally pins the session to a data center region.
	TargetIDC string `koanf:"target_idc"`

	// SignAPIKey is an optional key for the signing service.
	SignAPIKey string `koanf:"sign_api_key"`

	// ConnectWithUniqueID selects the identity-resolution mode used when
	// attaching to the broadcast.
	ConnectWithUniqueID bool `koanf:"connect_with_unique_id"`

	// Fallback enables the one-time retry with the alternate identity mode
	// when the initial connect fails with an offline/not-found error.
	Fallback bool `koanf:"fallback"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`

	// StreamerID tags every canonical event with the local streamer identity.
	StreamerID string `koanf:"streamer_id"`
}

// IngestConfig configures the alternate ingestion socket, a secondary
// websocket feed that speaks the same frame contract as the platform source.
type IngestConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
}

// BackendConfig configures forwarding to the backend API.
type BackendConfig struct {
	// BaseURL is the backend API origin. Required.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Endpoint is the event ingestion path on the backend.
	Endpoint string `koanf:"endpoint"`

	// Secret is the shared relay credential sent with every delivery. Required.
	Secret string `koanf:"secret" validate:"required"`

	// Timeout bounds each delivery POST.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries caps re-delivery attempts per event after the first try.
	MaxRetries int `koanf:"max_retries"`

	// ForwardTypes is the event-type allow list for forwarding.
	// "*" forwards everything.
	ForwardTypes []string `koanf:"forward_types"`

	// IncludeRaw includes the raw source payload in forwarded events.
	IncludeRaw bool `koanf:"include_raw"`
}

// BufferConfig configures the delivery queue.
type BufferConfig struct {
	// FlushInterval is the debounce delay from the first unflushed enqueue.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxEvents triggers an immediate flush when the queue reaches this size.
	MaxEvents int `koanf:"max_events"`
}

// CommandsConfig configures chat command extraction.
type CommandsConfig struct {
	// Prefixes are the recognized command markers, e.g. "!".
	Prefixes []string `koanf:"prefixes"`

	// MaxPerMessage caps derived command events per chat message.
	MaxPerMessage int `koanf:"max_per_message"`

	// EmitEvents disables command event synthesis entirely when false.
	EmitEvents bool `koanf:"emit_events"`
}

// HubConfig configures the broadcast hub.
type HubConfig struct {
	// ReplayCapacity bounds the replay buffer served to new subscribers.
	ReplayCapacity int `koanf:"replay_capacity"`
}

// EventLogConfig configures the daily JSONL event log.
type EventLogConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// EventTypes filters which canonical event types are written.
	// "*" logs everything.
	EventTypes []string `koanf:"event_types"`

	// IncludeRaw keeps the raw source payload in log entries.
	IncludeRaw bool `koanf:"include_raw"`

	// ControlEvents writes system records (connect, disconnect, stream end).
	ControlEvents bool `koanf:"control_events"`
}

// OBSConfig configures the compositor control socket.
type OBSConfig struct {
	URL            string        `koanf:"url"`
	Password       string        `koanf:"password"`
	AutoConnect    bool          `koanf:"auto_connect"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// StreamerbotConfig configures the automation host control socket.
type StreamerbotConfig struct {
	URL            string        `koanf:"url"`
	Password       string        `koanf:"password"`
	AutoConnect    bool          `koanf:"auto_connect"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// RulesConfig configures the rule store.
type RulesConfig struct {
	// Path is the Badger directory holding persisted rules.
	Path string `koanf:"path"`

	// InMemory runs the store without disk persistence. Used in tests.
	InMemory bool `koanf:"in_memory"`
}

// ServerConfig configures the HTTP server (dashboard stream + admin API).
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Floor values applied after loading. Matches the relay's historical
// behavior of clamping rather than rejecting too-small tuning values.
const (
	minFlushInterval  = 250 * time.Millisecond
	minBufferEvents   = 10
	minPostTimeout    = time.Second
	minReconnectDelay = time.Second
)

// Validate checks the configuration and applies floors to tuning values.
// Only the platform source and backend settings are startup-fatal; every
// other problem surfaces at the point of use.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Buffer.FlushInterval < minFlushInterval {
		c.Buffer.FlushInterval = minFlushInterval
	}
	if c.Buffer.MaxEvents < minBufferEvents {
		c.Buffer.MaxEvents = minBufferEvents
	}
	if c.Backend.Timeout < minPostTimeout {
		c.Backend.Timeout = minPostTimeout
	}
	if c.Backend.MaxRetries < 0 {
		c.Backend.MaxRetries = 0
	}
	if c.TikTok.ReconnectDelay < minReconnectDelay {
		c.TikTok.ReconnectDelay = minReconnectDelay
	}
	if c.Ingest.ReconnectDelay < minReconnectDelay {
		c.Ingest.ReconnectDelay = minReconnectDelay
	}
	if c.Commands.MaxPerMessage < 1 {
		c.Commands.MaxPerMessage = 1
	}
	if c.Hub.ReplayCapacity < 1 {
		c.Hub.ReplayCapacity = 1
	}
	if c.Ingest.Enabled && c.Ingest.URL == "" {
		return fmt.Errorf("ingest enabled but ingest.url is empty")
	}

	return nil
}

// ForwardAll reports whether the forward filter passes every event type.
func (c *BackendConfig) ForwardAll() bool {
	if len(c.ForwardTypes) == 0 {
		return true
	}
	for _, t := range c.ForwardTypes {
		if t == "*" {
			return true
		}
	}
	return false
}

// EventEndpoint joins the base URL and ingestion path.
func (c *BackendConfig) EventEndpoint() string {
	base := c.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	path := c.Endpoint
	if path == "" {
		path = "/api/external/event"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return base + path
}
