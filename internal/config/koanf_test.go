// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package config

import (
	"testing"
)

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"TIKTOK_USERNAME", "tiktok.username"},
		{"TIKTOK_SOURCE_URL", "tiktok.source_url"},
		{"TIKTOK_SESSION_ID", "tiktok.session_id"},
		{"TIKTOK_CONNECT_WITH_UNIQUE_ID", "tiktok.connect_with_unique_id"},
		{"TIKTOK_CONNECT_FALLBACK", "tiktok.fallback"},
		{"API_BASE_URL", "backend.base_url"},
		{"RELAY_SECRET", "backend.secret"},
		{"EVENT_ENDPOINT", "backend.endpoint"},
		{"MAX_RETRY_ATTEMPTS", "backend.max_retries"},
		{"FORWARD_EVENT_TYPES", "backend.forward_types"},
		{"BUFFER_FLUSH_INTERVAL", "buffer.flush_interval"},
		{"BUFFER_MAX_EVENTS", "buffer.max_events"},
		{"COMMAND_PREFIXES", "commands.prefixes"},
		{"COMMAND_MAX_PER_MESSAGE", "commands.max_per_message"},
		{"STREAM_REPLAY_CAPACITY", "hub.replay_capacity"},
		{"LOG_DIR", "event_log.dir"},
		{"LOG_TO_FILE", "event_log.enabled"},
		{"OBS_WS_URL", "obs.url"},
		{"OBS_WS_PASSWORD", "obs.password"},
		{"STREAMERBOT_WS_URL", "streamerbot.url"},
		{"RULES_PATH", "rules.path"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"RECONNECT_DELAY", "tiktok.reconnect_delay"},
		{"PATH", ""},
		{"HOME", ""},
		{"RANDOM_UNRELATED_VAR", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TIKTOK_USERNAME", "teststreamer")
	t.Setenv("TIKTOK_SOURCE_URL", "ws://localhost:8090/webcast")
	t.Setenv("API_BASE_URL", "http://backend.local:9000")
	t.Setenv("RELAY_SECRET", "topsecret")
	t.Setenv("BUFFER_MAX_EVENTS", "500")
	t.Setenv("FORWARD_EVENT_TYPES", "gift, follow ,chat")
	t.Setenv("COMMAND_PREFIXES", "!,~")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.TikTok.Username != "teststreamer" {
		t.Errorf("Username = %q, want teststreamer", cfg.TikTok.Username)
	}
	if cfg.Backend.BaseURL != "http://backend.local:9000" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Secret != "topsecret" {
		t.Errorf("Secret = %q", cfg.Backend.Secret)
	}
	if cfg.Buffer.MaxEvents != 500 {
		t.Errorf("MaxEvents = %d, want 500", cfg.Buffer.MaxEvents)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}

	wantTypes := []string{"gift", "follow", "chat"}
	if len(cfg.Backend.ForwardTypes) != len(wantTypes) {
		t.Fatalf("ForwardTypes = %v, want %v", cfg.Backend.ForwardTypes, wantTypes)
	}
	for i, want := range wantTypes {
		if cfg.Backend.ForwardTypes[i] != want {
			t.Errorf("ForwardTypes[%d] = %q, want %q", i, cfg.Backend.ForwardTypes[i], want)
		}
	}

	wantPrefixes := []string{"!", "~"}
	if len(cfg.Commands.Prefixes) != len(wantPrefixes) {
		t.Fatalf("Prefixes = %v, want %v", cfg.Commands.Prefixes, wantPrefixes)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIKTOK_USERNAME", "teststreamer")
	t.Setenv("TIKTOK_SOURCE_URL", "ws://localhost:8090/webcast")
	t.Setenv("API_BASE_URL", "http://backend.local")
	t.Setenv("RELAY_SECRET", "x")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Backend.Endpoint != "/api/external/event" {
		t.Errorf("Endpoint = %q", cfg.Backend.Endpoint)
	}
	if cfg.Backend.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Backend.MaxRetries)
	}
	if cfg.Buffer.MaxEvents != 200 {
		t.Errorf("MaxEvents = %d, want 200", cfg.Buffer.MaxEvents)
	}
	if cfg.Hub.ReplayCapacity != 200 {
		t.Errorf("ReplayCapacity = %d, want 200", cfg.Hub.ReplayCapacity)
	}
	if len(cfg.Backend.ForwardTypes) != 1 || cfg.Backend.ForwardTypes[0] != "gift" {
		t.Errorf("ForwardTypes = %v, want [gift]", cfg.Backend.ForwardTypes)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.OBS.URL != "ws://localhost:4455" {
		t.Errorf("OBS URL = %q", cfg.OBS.URL)
	}
}
