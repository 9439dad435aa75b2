// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package streamerbot implements the automation-host adapter. Requests go
// out over a websocket and responses are correlated back by request id.
package streamerbot

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by requests while no session exists.
var ErrNotConnected = errors.New("streamerbot: not connected")

// Config configures the automation host client.
type Config struct {
	URL            string
	Password       string
	RequestTimeout time.Duration
}

// Action is one automation action known to the host.
type Action struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Group   string `json:"group,omitempty"`
	Enabled bool   `json:"enabled"`
}

type response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	raw json.RawMessage
}

// helloMessage is the first frame the host sends; it carries the auth
// challenge when authentication is enabled.
type helloMessage struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

// Client is the automation host websocket client. Session runs one
// connection under a connection manager; DoAction and GetActions fail
// fast while disconnected.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan response
	hello   chan helloMessage
}

// NewClient creates an automation host client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan response),
	}
}

// Session dials and serves one connection until it drops or ctx is
// cancelled. When the host requires authentication, the session
// authenticates before reporting ready.
func (c *Client) Session(ctx context.Context, ready func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	hello := make(chan helloMessage, 1)
	c.mu.Lock()
	c.conn = conn
	c.hello = hello
	c.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	err = c.authenticate(ctx, hello)
	if err == nil {
		ready()
		err = <-readErr
	} else {
		_ = conn.Close()
		<-readErr
	}

	close(stop)
	c.mu.Lock()
	c.conn = nil
	c.hello = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = conn.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// authenticate waits for the host's hello and answers its challenge.
// Hosts without authentication send no challenge; a short wait that sees
// none proceeds unauthenticated.
func (c *Client) authenticate(ctx context.Context, hello <-chan helloMessage) error {
	var hm helloMessage
	select {
	case hm = <-hello:
	case <-time.After(2 * time.Second):
		return nil // host did not announce itself; assume open access
	case <-ctx.Done():
		return ctx.Err()
	}

	if hm.Authentication == nil {
		return nil
	}
	if c.cfg.Password == "" {
		return errors.New("host requires authentication but no password configured")
	}

	auth := computeAuth(c.cfg.Password, hm.Authentication.Salt, hm.Authentication.Challenge)
	resp, err := c.request(ctx, map[string]any{
		"request":        "Authenticate",
		"authentication": auth,
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("authentication rejected: %s", resp.Error)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable host message")
			continue
		}

		if resp.ID == "" {
			// Unsolicited frame; the first one may be the hello.
			var hm helloMessage
			if err := json.Unmarshal(data, &hm); err == nil {
				c.mu.Lock()
				if c.hello != nil {
					select {
					case c.hello <- hm:
					default:
					}
				}
				c.mu.Unlock()
			}
			continue
		}

		resp.raw = data

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// request sends one correlated request and waits for its response.
func (c *Client) request(ctx context.Context, payload map[string]any) (response, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return response{}, ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload["id"] = id
	data, err := json.Marshal(payload)
	if err != nil {
		c.dropPending(id)
		return response{}, fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return response{}, fmt.Errorf("write request: %w", err)
	}

	timeout, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, ErrNotConnected
		}
		return resp, nil
	case <-timeout.Done():
		c.dropPending(id)
		return response{}, timeout.Err()
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// DoAction triggers an action by id or name with optional arguments.
func (c *Client) DoAction(ctx context.Context, id, name string, args map[string]any) error {
	action := map[string]any{}
	if id != "" {
		action["id"] = id
	}
	if name != "" {
		action["name"] = name
	}

	payload := map[string]any{
		"request": "DoAction",
		"action":  action,
	}
	if len(args) > 0 {
		payload["args"] = args
	}

	resp, err := c.request(ctx, payload)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("DoAction failed: %s", resp.Error)
	}
	return nil
}

// GetActions lists the actions configured on the host.
func (c *Client) GetActions(ctx context.Context) ([]Action, error) {
	resp, err := c.request(ctx, map[string]any{"request": "GetActions"})
	if err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("GetActions failed: %s", resp.Error)
	}

	var body struct {
		Actions []Action `json:"actions"`
	}
	if err := json.Unmarshal(resp.raw, &body); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return body.Actions, nil
}

// computeAuth derives the challenge response:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func computeAuth(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])

	authHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}
