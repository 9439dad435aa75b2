// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/streamrelay/internal/logging"
)

type received struct {
	event string
	data  string
}

// fakeBridge serves frames and records the query of each attach.
type fakeBridge struct {
	frames []Frame

	mu      sync.Mutex
	queries []string

	// failFirstWith, when set, answers the first attach with an in-band
	// error frame.
	failFirstWith string
	failed        bool
}

func (b *fakeBridge) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.queries = append(b.queries, r.URL.RawQuery)
		fail := b.failFirstWith != "" && !b.failed
		if fail {
			b.failed = true
		}
		b.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if fail {
			msg, _ := json.Marshal(map[string]string{"message": b.failFirstWith})
			_ = conn.WriteJSON(Frame{Event: "error", Data: msg})
			return
		}

		for _, f := range b.frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		// Hold the connection open briefly so the client reads everything.
		time.Sleep(100 * time.Millisecond)
	}
}

func collectFrames(t *testing.T, bridge *fakeBridge, cfg Config) []received {
	t.Helper()
	srv := httptest.NewServer(bridge.handler())
	t.Cleanup(srv.Close)
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	var mu sync.Mutex
	var got []received
	c := NewClient(cfg, func(event string, data json.RawMessage) {
		mu.Lock()
		got = append(got, received{event: event, data: string(data)})
		mu.Unlock()
	}, logging.NewTestLogger(io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = c.Session(ctx, func() {})

	mu.Lock()
	defer mu.Unlock()
	return append([]received(nil), got...)
}

func TestFramesDeliveredToHandler(t *testing.T) {
	bridge := &fakeBridge{frames: []Frame{
		{Event: "gift", Data: json.RawMessage(`{"giftId":1}`)},
		{Event: "chat", Data: json.RawMessage(`{"comment":"hi"}`)},
		{Event: "streamEnd", Data: json.RawMessage(`{}`)},
	}}

	got := collectFrames(t, bridge, Config{Username: "streamer"})
	if len(got) != 3 {
		t.Fatalf("handler saw %d frames, want 3", len(got))
	}
	if got[0].event != "gift" || got[1].event != "chat" || got[2].event != "streamEnd" {
		t.Errorf("frames = %+v", got)
	}
}

func TestAttachQueryCarriesIdentity(t *testing.T) {
	bridge := &fakeBridge{}
	collectFrames(t, bridge, Config{
		Username:            "streamer",
		SessionID:           "sess",
		ConnectWithUniqueID: true,
	})

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.queries) != 1 {
		t.Fatalf("bridge saw %d attaches, want 1", len(bridge.queries))
	}
	q := bridge.queries[0]
	for _, want := range []string{"username=streamer", "connect_with_unique_id=true", "session_id=sess"} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %q", q, want)
		}
	}
}

func TestFallbackFlipsIdentityModeOnce(t *testing.T) {
	bridge := &fakeBridge{
		failFirstWith: "room was not found",
		frames:        []Frame{{Event: "gift", Data: json.RawMessage(`{}`)}},
	}

	got := collectFrames(t, bridge, Config{
		Username:            "streamer",
		ConnectWithUniqueID: true,
		Fallback:            true,
	})

	if len(got) != 1 {
		t.Fatalf("handler saw %d frames after fallback, want 1", len(got))
	}

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.queries) != 2 {
		t.Fatalf("bridge saw %d attaches, want 2", len(bridge.queries))
	}
	if !strings.Contains(bridge.queries[0], "connect_with_unique_id=true") {
		t.Errorf("first attach query = %q", bridge.queries[0])
	}
	if !strings.Contains(bridge.queries[1], "connect_with_unique_id=false") {
		t.Errorf("fallback attach query = %q", bridge.queries[1])
	}
}

func TestFallbackOnlyOnce(t *testing.T) {
	srv := httptest.NewServer((&fakeBridge{failFirstWith: "user is offline"}).handler())
	defer srv.Close()

	c := NewClient(Config{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Username: "streamer",
		Fallback: true,
	}, func(string, json.RawMessage) {}, logging.NewTestLogger(io.Discard))

	ctx := context.Background()
	// First session consumes the fallback.
	_ = c.Session(ctx, func() {})
	if !c.fallbackTried.Load() {
		t.Fatal("fallback not consumed")
	}

	mode := c.uniqueIDMode.Load()
	_ = c.Session(ctx, func() {})
	if c.uniqueIDMode.Load() != mode {
		t.Error("identity mode flipped a second time")
	}
}

func TestNonOfflineErrorDoesNotTriggerFallback(t *testing.T) {
	bridge := &fakeBridge{failFirstWith: "rate limited"}
	collectFrames(t, bridge, Config{
		Username: "streamer",
		Fallback: true,
	})

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.queries) != 1 {
		t.Errorf("bridge saw %d attaches, want 1 (no fallback retry)", len(bridge.queries))
	}
}
