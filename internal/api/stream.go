// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package api

import (
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval spaces keep-alive comments so intermediaries do not
// drop idle stream connections.
const heartbeatInterval = 15 * time.Second

// handleStream serves the dashboard event stream over Server-Sent Events.
// Every subscriber gets hello, then a replay snapshot, then live events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.stream.Subscribe(r.Context())
	if err != nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.stream.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case frame, open := <-sub.Frames():
			if !open {
				return // evicted or hub shut down
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Name, frame.Data); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
