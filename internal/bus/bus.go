// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package bus provides the in-process event bus connecting the ingestion
// pipeline to its consumers.
//
// The pipeline publishes each canonical event once; the delivery queue,
// broadcast hub, rule engine, and event log each hold their own
// subscription and consume at their own pace. Built on Watermill's
// gochannel Pub/Sub so consumers are decoupled without an external broker.
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/events"
)

// TopicEvents carries every canonical event, control events included.
const TopicEvents = "events"

// Metadata keys set on published messages.
const (
	metaEventType = "event_type"
	metaSequence  = "seq"

	// metaSkipForward carries the internal-only forwarding flag across
	// the bus; the flag is excluded from the event's JSON form.
	metaSkipForward = "skip_forward"
)

// Bus is the in-process event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
	buffer int
}

// New creates a Bus. bufferSize bounds each subscriber's channel; a slow
// consumer blocks the publisher rather than dropping events.
//
// Publishing blocks until every subscriber has buffered the message.
// Without that, gochannel dispatches each publish in its own goroutine and
// rapid successive events can reach a subscriber out of order, which would
// break the streak-before-terminal-gift and chat-before-command ordering
// downstream.
func New(bufferSize int, logger zerolog.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = 256
	}
	ps := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(bufferSize),
			BlockPublishUntilSubscriberAck: true,
		},
		NewLoggerAdapter(logger),
	)
	return &Bus{pubsub: ps, logger: logger, buffer: bufferSize}
}

// Publish sends a canonical event to all subscribers.
func (b *Bus) Publish(ev *events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set(metaEventType, ev.EventType)
	msg.Metadata.Set(metaSequence, fmt.Sprintf("%d", ev.Sequence))
	if ev.SkipForward {
		msg.Metadata.Set(metaSkipForward, "1")
	}
	return b.pubsub.Publish(TopicEvents, msg)
}

// Subscribe returns a channel of canonical events. The subscription ends
// when ctx is cancelled or the bus closes. Messages that fail to decode
// are acked, logged, and skipped.
//
// A single goroutine drains the subscription in publish order into a
// buffered channel, so the consumer sees events in the order they were
// published. Acks flow while the buffer has room; once a consumer falls a
// full buffer behind, publishing blocks.
func (b *Bus) Subscribe(ctx context.Context, consumer string) (<-chan *events.Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicEvents)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", consumer, err)
	}

	out := make(chan *events.Event, b.buffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			ev := &events.Event{}
			if err := json.Unmarshal(msg.Payload, ev); err != nil {
				b.logger.Error().Err(err).
					Str("consumer", consumer).
					Str("message_id", msg.UUID).
					Msg("dropping undecodable bus message")
				msg.Ack()
				continue
			}
			ev.SkipForward = msg.Metadata.Get(metaSkipForward) == "1"
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down. Subscriber channels close after in-flight
// messages drain.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
