// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/streamrelay/internal/logging"
)

func TestComputeAuth(t *testing.T) {
	// Independent computation of the v5 auth string:
	// base64(sha256(base64(sha256(password+salt)) + challenge))
	password, salt, challenge := "supersecret", "salt123", "challenge456"

	h1 := sha256.Sum256([]byte(password + salt))
	step1 := base64.StdEncoding.EncodeToString(h1[:])
	h2 := sha256.Sum256([]byte(step1 + challenge))
	want := base64.StdEncoding.EncodeToString(h2[:])

	if got := computeAuth(password, salt, challenge); got != want {
		t.Errorf("computeAuth = %q, want %q", got, want)
	}
	if got := computeAuth("other", salt, challenge); got == want {
		t.Error("auth string does not depend on the password")
	}
}

// fakeOBS runs an obs-websocket v5 server for tests. Responses come from
// the handlers map, keyed by request type.
type fakeOBS struct {
	password string
	handlers map[string]func(data json.RawMessage) (any, *requestStatus)
}

func (f *fakeOBS) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		salt, challenge := "lM1GncleQOaCu9t7", "ztTBnnuqrqaKDzRM"
		hello := map[string]any{
			"obsWebSocketVersion": "5.3.0",
			"rpcVersion":          1,
		}
		if f.password != "" {
			hello["authentication"] = map[string]string{"challenge": challenge, "salt": salt}
		}
		helloPayload, _ := marshalFrame(opHello, hello)
		if err := conn.WriteMessage(websocket.TextMessage, helloPayload); err != nil {
			return
		}

		var identify frame
		if err := conn.ReadJSON(&identify); err != nil || identify.Op != opIdentify {
			return
		}
		if f.password != "" {
			var id identifyData
			_ = json.Unmarshal(identify.D, &id)
			h1 := sha256.Sum256([]byte(f.password + salt))
			step1 := base64.StdEncoding.EncodeToString(h1[:])
			h2 := sha256.Sum256([]byte(step1 + challenge))
			if id.Authentication != base64.StdEncoding.EncodeToString(h2[:]) {
				t.Error("client sent wrong auth string")
				return
			}
		}
		identified, _ := marshalFrame(opIdentified, map[string]any{"negotiatedRpcVersion": 1})
		if err := conn.WriteMessage(websocket.TextMessage, identified); err != nil {
			return
		}

		for {
			var req frame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Op != opRequest {
				continue
			}
			var rd requestData
			if err := json.Unmarshal(req.D, &rd); err != nil {
				return
			}

			resp := responseData{
				RequestType:   rd.RequestType,
				RequestID:     rd.RequestID,
				RequestStatus: requestStatus{Result: true, Code: 100},
			}
			if h, ok := f.handlers[rd.RequestType]; ok {
				var data json.RawMessage
				if rd.RequestData != nil {
					data, _ = json.Marshal(rd.RequestData)
				}
				body, status := h(data)
				if status != nil {
					resp.RequestStatus = *status
				}
				if body != nil {
					resp.ResponseData, _ = json.Marshal(body)
				}
			}
			payload, _ := marshalFrame(opRequestResponse, resp)
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func startSession(t *testing.T, fake *fakeOBS, password string) (*Client, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(Config{URL: url, Password: password, RequestTimeout: time.Second},
		logging.NewTestLogger(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{})
	go func() {
		_ = c.Session(ctx, func() { close(connected) })
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("session never became ready")
	}
	return c, cancel
}

func TestSessionHandshakeWithAuth(t *testing.T) {
	fake := &fakeOBS{password: "hunter2", handlers: map[string]func(json.RawMessage) (any, *requestStatus){}}
	c, cancel := startSession(t, fake, "hunter2")
	defer cancel()

	if _, err := c.Call(context.Background(), "GetVersion", nil); err != nil {
		t.Errorf("Call after handshake: %v", err)
	}
}

func TestSwitchScene(t *testing.T) {
	var gotScene string
	fake := &fakeOBS{handlers: map[string]func(json.RawMessage) (any, *requestStatus){
		"SetCurrentProgramScene": func(data json.RawMessage) (any, *requestStatus) {
			var p struct {
				SceneName string `json:"sceneName"`
			}
			_ = json.Unmarshal(data, &p)
			gotScene = p.SceneName
			return nil, nil
		},
	}}
	c, cancel := startSession(t, fake, "")
	defer cancel()

	if err := c.SwitchScene(context.Background(), "Celebration"); err != nil {
		t.Fatalf("SwitchScene: %v", err)
	}
	if gotScene != "Celebration" {
		t.Errorf("scene = %q", gotScene)
	}
}

func TestToggleSourceFlipsState(t *testing.T) {
	var setTo *bool
	fake := &fakeOBS{handlers: map[string]func(json.RawMessage) (any, *requestStatus){
		"GetCurrentProgramScene": func(json.RawMessage) (any, *requestStatus) {
			return map[string]any{"currentProgramSceneName": "Main"}, nil
		},
		"GetSceneItemId": func(json.RawMessage) (any, *requestStatus) {
			return map[string]any{"sceneItemId": 7}, nil
		},
		"GetSceneItemEnabled": func(json.RawMessage) (any, *requestStatus) {
			return map[string]any{"sceneItemEnabled": true}, nil
		},
		"SetSceneItemEnabled": func(data json.RawMessage) (any, *requestStatus) {
			var p struct {
				SceneItemEnabled bool `json:"sceneItemEnabled"`
			}
			_ = json.Unmarshal(data, &p)
			setTo = &p.SceneItemEnabled
			return nil, nil
		},
	}}
	c, cancel := startSession(t, fake, "")
	defer cancel()

	if err := c.ToggleSource(context.Background(), "", "Alert"); err != nil {
		t.Fatalf("ToggleSource: %v", err)
	}
	if setTo == nil || *setTo != false {
		t.Errorf("SetSceneItemEnabled called with %v, want false", setTo)
	}
}

func TestCallFailsFastWhenDisconnected(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1", RequestTimeout: time.Second},
		logging.NewTestLogger(io.Discard))

	if _, err := c.Call(context.Background(), "GetVersion", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Call = %v, want ErrNotConnected", err)
	}
}

func TestRequestFailurePropagated(t *testing.T) {
	fake := &fakeOBS{handlers: map[string]func(json.RawMessage) (any, *requestStatus){
		"SetCurrentProgramScene": func(json.RawMessage) (any, *requestStatus) {
			return nil, &requestStatus{Result: false, Code: 600, Comment: "no such scene"}
		},
	}}
	c, cancel := startSession(t, fake, "")
	defer cancel()

	err := c.SwitchScene(context.Background(), "Missing")
	if err == nil || !strings.Contains(err.Error(), "no such scene") {
		t.Errorf("SwitchScene error = %v, want comment propagated", err)
	}
}

func TestScenesCatalog(t *testing.T) {
	fake := &fakeOBS{handlers: map[string]func(json.RawMessage) (any, *requestStatus){
		"GetSceneList": func(json.RawMessage) (any, *requestStatus) {
			return map[string]any{
				"currentProgramSceneName": "Main",
				"scenes": []map[string]any{
					{"sceneName": "Main"},
					{"sceneName": "BRB"},
				},
			}, nil
		},
	}}
	c, cancel := startSession(t, fake, "")
	defer cancel()

	scenes, current, err := c.Scenes(context.Background())
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	if current != "Main" || len(scenes) != 2 || scenes[1].Name != "BRB" {
		t.Errorf("Scenes = %v current %q", scenes, current)
	}
}
