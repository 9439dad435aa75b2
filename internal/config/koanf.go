// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamrelay/config.yaml",
	"/etc/streamrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		TikTok: TikTokConfig{
			ConnectWithUniqueID: false,
			Fallback:            true,
			ReconnectDelay:      30 * time.Second,
		},
		Ingest: IngestConfig{
			Enabled:        false,
			ReconnectDelay: 30 * time.Second,
		},
		Backend: BackendConfig{
			Endpoint:     "/api/external/event",
			Timeout:      5 * time.Second,
			MaxRetries:   3,
			ForwardTypes: []string{"gift"},
			IncludeRaw:   false,
		},
		Buffer: BufferConfig{
			FlushInterval: 3 * time.Second,
			MaxEvents:     200,
		},
		Commands: CommandsConfig{
			Prefixes:      []string{"!"},
			MaxPerMessage: 5,
			EmitEvents:    true,
		},
		Hub: HubConfig{
			ReplayCapacity: 200,
		},
		EventLog: EventLogConfig{
			Enabled:       true,
			Dir:           "logs",
			EventTypes:    []string{"*"},
			IncludeRaw:    true,
			ControlEvents: true,
		},
		OBS: OBSConfig{
			URL:            "ws://localhost:4455",
			AutoConnect:    true,
			ReconnectDelay: 30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Streamerbot: StreamerbotConfig{
			URL:            "ws://127.0.0.1:8080/",
			AutoConnect:    true,
			ReconnectDelay: 30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Rules: RulesConfig{
			Path: "data/rules",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML (if found)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive as strings from the environment.
var sliceConfigPaths = []string{
	"backend.forward_types",
	"commands.prefixes",
	"event_log.event_types",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// The names preserve the relay's historical environment contract
// (TIKTOK_USERNAME, API_BASE_URL, RELAY_SECRET, ...).
//
// Unmapped variables return empty string and are skipped, which keeps
// random environment noise out of the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Platform source
		"tiktok_username":               "tiktok.username",
		"tiktok_source_url":             "tiktok.source_url",
		"tiktok_session_id":             "tiktok.session_id",
		"tiktok_tt_target_idc":          "tiktok.target_idc",
		"tiktok_sign_api_key":           "tiktok.sign_api_key",
		"tiktok_connect_with_unique_id": "tiktok.connect_with_unique_id",
		"tiktok_connect_fallback":       "tiktok.fallback",
		"reconnect_delay":               "tiktok.reconnect_delay",
		"streamer_id":                   "tiktok.streamer_id",

		// Alternate ingestion socket
		"ingest_enabled":         "ingest.enabled",
		"ingest_url":             "ingest.url",
		"ingest_reconnect_delay": "ingest.reconnect_delay",

		// Backend delivery
		"api_base_url":        "backend.base_url",
		"event_endpoint":      "backend.endpoint",
		"relay_secret":        "backend.secret",
		"post_timeout":        "backend.timeout",
		"max_retry_attempts":  "backend.max_retries",
		"forward_event_types": "backend.forward_types",
		"post_include_raw":    "backend.include_raw",

		// Delivery queue
		"buffer_flush_interval": "buffer.flush_interval",
		"buffer_max_events":     "buffer.max_events",

		// Chat commands
		"command_prefixes":        "commands.prefixes",
		"command_max_per_message": "commands.max_per_message",
		"emit_command_events":     "commands.emit_events",

		// Broadcast hub
		"stream_replay_capacity": "hub.replay_capacity",

		// Event log
		"log_to_file":        "event_log.enabled",
		"log_dir":            "event_log.dir",
		"log_event_types":    "event_log.event_types",
		"log_include_raw":    "event_log.include_raw",
		"log_control_events": "event_log.control_events",

		// Compositor socket
		"obs_ws_url":          "obs.url",
		"obs_ws_password":     "obs.password",
		"obs_auto_connect":    "obs.auto_connect",
		"obs_reconnect_delay": "obs.reconnect_delay",
		"obs_request_timeout": "obs.request_timeout",

		// Automation host socket
		"streamerbot_ws_url":          "streamerbot.url",
		"streamerbot_ws_password":     "streamerbot.password",
		"streamerbot_auto_connect":    "streamerbot.auto_connect",
		"streamerbot_reconnect_delay": "streamerbot.reconnect_delay",
		"streamerbot_request_timeout": "streamerbot.request_timeout",

		// Rule store
		"rules_path": "rules.path",

		// HTTP server
		"http_port":           "server.port",
		"http_host":           "server.host",
		"http_timeout":        "server.timeout",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",

		// Process logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
