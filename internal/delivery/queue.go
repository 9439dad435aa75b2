// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/metrics"
)

// QueueConfig configures the delivery queue.
type QueueConfig struct {
	// FlushInterval is the debounce delay from the first unflushed enqueue.
	FlushInterval time.Duration

	// MaxEvents triggers an immediate flush once the queue reaches this size.
	MaxEvents int

	// MaxRetries caps re-delivery attempts per event after the first try.
	MaxRetries int

	// ForwardTypes is the event-type allow list. Empty or containing "*"
	// forwards every type.
	ForwardTypes []string

	// FailureLog, when set, records a system entry for every event dropped
	// after exhausting its retries.
	FailureLog func(kind string, fields map[string]any)
}

type pendingEvent struct {
	event    *events.Event
	attempts int
}

// Queue buffers forwardable events and flushes them to the backend either
// on a debounce timer or when the buffer fills, whichever comes first.
// Failed deliveries are re-enqueued until they exhaust their retries.
//
// Enqueue is safe for concurrent use; the flush loop runs in Run.
type Queue struct {
	cfg        QueueConfig
	client     Deliverer
	logger     zerolog.Logger
	forwardAll bool
	forward    map[string]struct{}

	mu      sync.Mutex
	pending []pendingEvent

	notify chan struct{}
}

// NewQueue creates a delivery queue.
func NewQueue(cfg QueueConfig, client Deliverer, logger zerolog.Logger) *Queue {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 3 * time.Second
	}
	if cfg.MaxEvents < 1 {
		cfg.MaxEvents = 200
	}

	q := &Queue{
		cfg:    cfg,
		client: client,
		logger: logger,
		notify: make(chan struct{}, 1),
	}

	q.forward = make(map[string]struct{}, len(cfg.ForwardTypes))
	if len(cfg.ForwardTypes) == 0 {
		q.forwardAll = true
	}
	for _, t := range cfg.ForwardTypes {
		if t == "*" {
			q.forwardAll = true
		}
		q.forward[strings.ToLower(t)] = struct{}{}
	}

	return q
}

// Forwardable reports whether the event passes the forward filter. Events
// flagged SkipForward never pass regardless of the filter.
func (q *Queue) Forwardable(ev *events.Event) bool {
	if ev.SkipForward {
		return false
	}
	if q.forwardAll {
		return true
	}
	_, ok := q.forward[strings.ToLower(ev.EventType)]
	return ok
}

// Enqueue adds an event to the buffer if it passes the forward filter.
// Returns true when the event was accepted.
func (q *Queue) Enqueue(ev *events.Event) bool {
	if !q.Forwardable(ev) {
		return false
	}

	q.mu.Lock()
	q.pending = append(q.pending, pendingEvent{event: ev})
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.DeliveryQueueDepth.Set(float64(depth))
	q.wake()
	return true
}

// Len returns the current buffer depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run drives the flush loop until ctx is cancelled, then performs a final
// flush so buffered events are not lost on shutdown.
func (q *Queue) Run(ctx context.Context) error {
	timer := time.NewTimer(q.cfg.FlushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-q.notify:
			if q.Len() >= q.cfg.MaxEvents {
				if armed && !timer.Stop() {
					<-timer.C
				}
				armed = false
				q.flush(ctx)
				continue
			}
			if !armed && q.Len() > 0 {
				timer.Reset(q.cfg.FlushInterval)
				armed = true
			}

		case <-timer.C:
			armed = false
			q.flush(ctx)

		case <-ctx.Done():
			if armed && !timer.Stop() {
				<-timer.C
			}
			// Final flush with a fresh deadline; the run context is gone.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			q.flush(flushCtx)
			cancel()
			return ctx.Err()
		}
	}
}

// flush drains the buffer and attempts delivery of each event in order.
// Failures are re-enqueued at the front until their retries run out.
func (q *Queue) flush(ctx context.Context) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		metrics.DeliveryQueueDepth.Set(0)
		return
	}

	var retries []pendingEvent
	delivered := 0
	for _, item := range batch {
		if err := q.client.Deliver(ctx, item.event); err != nil {
			item.attempts++
			if item.attempts > q.cfg.MaxRetries {
				metrics.DeliveryDropped.Inc()
				q.logger.Error().Err(err).
					Str("event_id", item.event.ID).
					Str("event_type", item.event.EventType).
					Int("attempts", item.attempts).
					Msg("dropping event after retry limit")
				if q.cfg.FailureLog != nil {
					q.cfg.FailureLog("delivery_failed", map[string]any{
						"event_id":   item.event.ID,
						"event_type": item.event.EventType,
						"attempts":   item.attempts,
						"error":      err.Error(),
					})
				}
				continue
			}
			metrics.DeliveryRetries.Inc()
			q.logger.Warn().Err(err).
				Str("event_id", item.event.ID).
				Int("attempt", item.attempts).
				Msg("delivery failed, will retry")
			retries = append(retries, item)
			continue
		}
		delivered++
		metrics.EventsForwarded.Inc()
	}

	if delivered > 0 {
		q.logger.Debug().Int("delivered", delivered).Msg("flush complete")
	}

	q.mu.Lock()
	q.pending = append(retries, q.pending...)
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.DeliveryQueueDepth.Set(float64(depth))
	if depth > 0 {
		q.wake()
	}
}
