// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package delivery buffers canonical events and forwards them to the
// backend API with bounded retries.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/streamrelay/internal/events"
)

// secretHeader authenticates the relay to the backend.
const secretHeader = "X-Relay-Secret"

// Deliverer sends a single canonical event to the backend.
type Deliverer interface {
	Deliver(ctx context.Context, ev *events.Event) error
}

// ClientConfig configures the backend HTTP client.
type ClientConfig struct {
	Endpoint   string
	Secret     string
	Timeout    time.Duration
	IncludeRaw bool
}

// Client posts events to the backend ingestion endpoint. A circuit breaker
// short-circuits deliveries while the backend is persistently failing so a
// dead backend costs queued retries, not a blocked flush loop.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

// NewClient creates a backend delivery client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "backend-delivery",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("delivery circuit breaker state change")
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Deliver posts one event. Any non-2xx response is an error; the caller
// decides whether to retry.
func (c *Client) Deliver(ctx context.Context, ev *events.Event) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, ev)
	})
	return err
}

func (c *Client) post(ctx context.Context, ev *events.Event) error {
	out := ev
	if !c.cfg.IncludeRaw && ev.Raw != nil {
		stripped := *ev
		stripped.Raw = nil
		out = &stripped
	}

	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.cfg.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post event %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned %d for event %s", resp.StatusCode, ev.ID)
	}
	return nil
}
