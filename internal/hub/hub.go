// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package hub implements the broadcast hub feeding dashboard event
// streams.
//
// Subscribers attach over Server-Sent Events. Each new subscriber receives
// a hello frame, then a snapshot of the replay buffer as it stood at
// attach time, then live events with no gap and no duplicate. That
// ordering holds because registration and publishing are serialized in the
// hub's run loop.
package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/metrics"
)

// Frame names on the wire.
const (
	FrameHello    = "hello"
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
)

// subscriberBuffer is each subscriber's pending frame capacity. A
// subscriber that falls this far behind is evicted rather than allowed to
// stall the hub.
const subscriberBuffer = 64

// Frame is one named message delivered to a subscriber.
type Frame struct {
	Name string
	Data []byte
}

// helloPayload is the body of the hello frame.
type helloPayload struct {
	ServerTime time.Time `json:"server_time"`
	LastSeq    uint64    `json:"last_seq"`
	Replay     int       `json:"replay"`
}

// Subscriber is one attached stream consumer.
type Subscriber struct {
	id     uint64
	frames chan Frame
}

// Frames returns the subscriber's frame channel. The channel closes when
// the subscriber is evicted or the hub shuts down.
func (s *Subscriber) Frames() <-chan Frame {
	return s.frames
}

// Hub fans canonical events out to attached subscribers and keeps a
// bounded replay buffer for late joiners.
type Hub struct {
	capacity int
	logger   zerolog.Logger

	register   chan *Subscriber
	unregister chan *Subscriber
	publish    chan *events.Event

	// run-loop state, touched only inside RunWithContext
	subscribers map[*Subscriber]struct{}
	replay      []*events.Event
	lastSeq     uint64

	nextID atomic.Uint64
	done   chan struct{}
}

// New creates a Hub with the given replay capacity.
func New(replayCapacity int, logger zerolog.Logger) *Hub {
	if replayCapacity < 1 {
		replayCapacity = 1
	}
	return &Hub{
		capacity:    replayCapacity,
		logger:      logger,
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		publish:     make(chan *events.Event, 256),
		subscribers: make(map[*Subscriber]struct{}),
		done:        make(chan struct{}),
	}
}

// RunWithContext processes registrations and publishes until ctx is
// cancelled. It must be running for Subscribe and Publish to make
// progress.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case sub := <-h.register:
			h.attach(sub)

		case sub := <-h.unregister:
			h.detach(sub)

		case ev := <-h.publish:
			h.broadcast(ev)

		case <-ctx.Done():
			for sub := range h.subscribers {
				close(sub.frames)
				delete(h.subscribers, sub)
			}
			metrics.HubSubscribers.Set(0)
			return ctx.Err()
		}
	}
}

// Subscribe attaches a new subscriber. The returned subscriber's channel
// carries hello, snapshot, then live event frames. Returns an error if the
// hub has shut down.
func (h *Hub) Subscribe(ctx context.Context) (*Subscriber, error) {
	sub := &Subscriber{
		id:     h.nextID.Add(1),
		frames: make(chan Frame, subscriberBuffer),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe detaches a subscriber. Safe to call after hub shutdown or
// for an already evicted subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish queues an event for broadcast. Blocks only if the hub's publish
// buffer is full.
func (h *Hub) Publish(ev *events.Event) {
	select {
	case h.publish <- ev:
	case <-h.done:
	}
}

func (h *Hub) attach(sub *Subscriber) {
	hello := helloPayload{
		ServerTime: time.Now().UTC(),
		LastSeq:    h.lastSeq,
		Replay:     len(h.replay),
	}
	helloData, err := json.Marshal(hello)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal hello frame")
		close(sub.frames)
		return
	}

	snapshotData, err := json.Marshal(h.replay)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal snapshot frame")
		close(sub.frames)
		return
	}

	// The subscriber buffer is empty at this point, so these sends cannot
	// block.
	sub.frames <- Frame{Name: FrameHello, Data: helloData}
	sub.frames <- Frame{Name: FrameSnapshot, Data: snapshotData}

	h.subscribers[sub] = struct{}{}
	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	h.logger.Debug().Uint64("subscriber", sub.id).Int("replay", len(h.replay)).Msg("subscriber attached")
}

func (h *Hub) detach(sub *Subscriber) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.frames)
	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	h.logger.Debug().Uint64("subscriber", sub.id).Msg("subscriber detached")
}

func (h *Hub) broadcast(ev *events.Event) {
	h.lastSeq = ev.Sequence

	h.replay = append(h.replay, ev)
	if len(h.replay) > h.capacity {
		h.replay = h.replay[len(h.replay)-h.capacity:]
	}
	metrics.HubReplaySize.Set(float64(len(h.replay)))

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("marshal event frame")
		return
	}
	frame := Frame{Name: FrameEvent, Data: data}

	for sub := range h.subscribers {
		select {
		case sub.frames <- frame:
		default:
			// Subscriber too slow; evict instead of stalling everyone.
			delete(h.subscribers, sub)
			close(sub.frames)
			h.logger.Warn().Uint64("subscriber", sub.id).Msg("evicting slow subscriber")
		}
	}
	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
}
