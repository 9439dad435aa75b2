// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package bus

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/logging"
)

func testEvent(id string, seq uint64) *events.Event {
	return &events.Event{
		ID:         id,
		Sequence:   seq,
		Platform:   events.PlatformTikTok,
		EventType:  events.TypeGift,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New(16, logging.NewTestLogger(io.Discard))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	want := testEvent("ev-1", 1)
	if err := b.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-sub:
		if got.ID != want.ID || got.Sequence != want.Sequence || got.EventType != want.EventType {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	b := New(16, logging.NewTestLogger(io.Discard))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	subB, err := b.Subscribe(ctx, "b")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}

	if err := b.Publish(testEvent("ev-1", 1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, sub := range map[string]<-chan *events.Event{"a": subA, "b": subB} {
		select {
		case got := <-sub:
			if got.ID != "ev-1" {
				t.Errorf("subscriber %s got %q", name, got.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s timed out", name)
		}
	}
}

func TestSkipForwardSurvivesBus(t *testing.T) {
	b := New(16, logging.NewTestLogger(io.Discard))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ev := testEvent("ev-skip", 1)
	ev.SkipForward = true
	if err := b.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-sub:
		if !got.SkipForward {
			t.Error("SkipForward lost across the bus")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestDeliveryPreservesPublishOrder(t *testing.T) {
	b := New(4, logging.NewTestLogger(io.Discard))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "order")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	const n = 100
	received := make(chan []uint64)
	go func() {
		seqs := make([]uint64, 0, n)
		for ev := range sub {
			seqs = append(seqs, ev.Sequence)
			if len(seqs) == n {
				break
			}
		}
		received <- seqs
	}()

	for i := 1; i <= n; i++ {
		if err := b.Publish(testEvent(fmt.Sprintf("ev-%d", i), uint64(i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	select {
	case seqs := <-received:
		for i, seq := range seqs {
			if seq != uint64(i+1) {
				t.Fatalf("position %d got sequence %d, want %d", i, seq, i+1)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}
}

func TestSubscriptionEndsOnContextCancel(t *testing.T) {
	b := New(16, logging.NewTestLogger(io.Discard))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-sub:
		if ok {
			// A message may have been in flight; the channel must still
			// close shortly after.
			select {
			case _, ok := <-sub:
				if ok {
					t.Error("subscription still open after cancel")
				}
			case <-time.After(time.Second):
				t.Fatal("subscription did not close after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not close after cancel")
	}
}
