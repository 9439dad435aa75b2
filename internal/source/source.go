// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package source connects to the webcast bridge that decodes platform
// live events and delivers them as JSON frames.
//
// Each frame is {"event": <source event name>, "data": <payload>}. Frames
// pass to the pipeline untouched; canonicalization happens downstream.
package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// offlinePattern recognizes connect failures meaning the broadcaster is
// not live or the room cannot be resolved in the current identity mode.
var offlinePattern = regexp.MustCompile(`(?i)offline|not online|room.*not.*found`)

// Frame is one decoded message from the bridge.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FrameHandler receives every frame from an active session.
type FrameHandler func(event string, data json.RawMessage)

// Config configures the bridge connection.
type Config struct {
	// URL is the bridge websocket endpoint.
	URL string

	// Username is the broadcaster to attach to.
	Username string

	SessionID  string
	TargetIDC  string
	SignAPIKey string

	// ConnectWithUniqueID selects the identity-resolution mode.
	ConnectWithUniqueID bool

	// Fallback permits one identity-mode flip after an offline/not-found
	// failure.
	Fallback bool
}

// Client attaches to the bridge and streams frames to its handler.
type Client struct {
	cfg     Config
	handler FrameHandler
	logger  zerolog.Logger

	uniqueIDMode  atomic.Bool
	fallbackTried atomic.Bool
}

// NewClient creates a bridge client. handler is called from the session
// goroutine for every frame.
func NewClient(cfg Config, handler FrameHandler, logger zerolog.Logger) *Client {
	c := &Client{cfg: cfg, handler: handler, logger: logger}
	c.uniqueIDMode.Store(cfg.ConnectWithUniqueID)
	return c
}

// Session attaches once and streams frames until the connection drops or
// ctx is cancelled. On an offline/not-found failure with fallback enabled,
// it flips the identity mode and retries immediately, once per process.
// Shaped to run under a connection manager.
func (c *Client) Session(ctx context.Context, ready func()) error {
	err := c.attach(ctx, ready)
	if err == nil || ctx.Err() != nil {
		return err
	}

	if c.cfg.Fallback && !c.fallbackTried.Load() && offlinePattern.MatchString(err.Error()) {
		c.fallbackTried.Store(true)
		c.uniqueIDMode.Store(!c.uniqueIDMode.Load())
		c.logger.Warn().Err(err).
			Bool("connect_with_unique_id", c.uniqueIDMode.Load()).
			Msg("connect failed, retrying once with alternate identity mode")
		return c.attach(ctx, ready)
	}
	return err
}

func (c *Client) attach(ctx context.Context, ready func()) error {
	target, err := c.buildURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	ready()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable bridge frame")
			continue
		}
		if f.Event == "" {
			continue
		}
		if f.Event == "error" {
			// The bridge reports fatal attach errors in-band before closing.
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(f.Data, &body)
			return fmt.Errorf("bridge error: %s", body.Message)
		}

		c.handler(f.Event, f.Data)
	}
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse bridge url: %w", err)
	}

	q := u.Query()
	q.Set("username", c.cfg.Username)
	q.Set("connect_with_unique_id", strconv.FormatBool(c.uniqueIDMode.Load()))
	if c.cfg.SessionID != "" {
		q.Set("session_id", c.cfg.SessionID)
	}
	if c.cfg.TargetIDC != "" {
		q.Set("target_idc", c.cfg.TargetIDC)
	}
	if c.cfg.SignAPIKey != "" {
		q.Set("sign_api_key", c.cfg.SignAPIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
