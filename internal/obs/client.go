// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package obs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Call while no identified session exists.
var ErrNotConnected = errors.New("obs: not connected")

// Config configures the compositor client.
type Config struct {
	URL            string
	Password       string
	RequestTimeout time.Duration
}

// Client is an obs-websocket v5 client. Session runs one connection under
// a connection manager; Call issues requests and correlates responses by
// request id. Call fails fast while disconnected so rule dispatches do not
// pile up behind a dead compositor.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan responseData
}

// NewClient creates a compositor client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan responseData),
	}
}

// Session dials, identifies, and serves one connection until it drops or
// ctx is cancelled. Shaped to run under a connection manager.
func (c *Client) Session(ctx context.Context, ready func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	if err := c.identify(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	ready()

	// Close the socket when ctx ends so the read loop unblocks.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	err = c.readLoop(conn)
	close(stop)

	c.mu.Lock()
	c.conn = nil
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

// identify performs the Hello/Identify/Identified handshake.
func (c *Client) identify(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello (op %d), got op %d", opHello, hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	ident := identifyData{RPCVersion: rpcVersion}
	if hd.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obs requires authentication but no password configured")
		}
		ident.Authentication = computeAuth(c.cfg.Password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}

	payload, err := marshalFrame(opIdentify, ident)
	if err != nil {
		return fmt.Errorf("marshal identify: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}

	var identified frame
	if err := conn.ReadJSON(&identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("identify rejected: got op %d", identified.Op)
	}

	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Op != opRequestResponse {
			continue // events and other opcodes are not consumed
		}

		var resp responseData
		if err := json.Unmarshal(f.D, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable request response")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// Call issues one request and waits for its response.
func (c *Client) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan responseData, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := marshalFrame(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("marshal %s: %w", requestType, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("write %s: %w", requestType, err)
	}

	timeout, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: code %d %s",
				requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	case <-timeout.Done():
		c.dropPending(id)
		return nil, fmt.Errorf("%s: %w", requestType, timeout.Err())
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
