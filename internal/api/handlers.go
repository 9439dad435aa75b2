// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/streamrelay/internal/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(s.status())
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(s.rules.List())
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rule, err := s.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			rw.NotFound("rule not found")
			return
		}
		rw.InternalError(err.Error())
		return
	}
	rw.Success(rule)
}

// handleSaveRule creates a rule, or updates one when the body carries an
// existing id.
func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		rw.BadRequest("invalid rule body: " + err.Error())
		return
	}

	isNew := rule.ID == ""
	if err := s.rules.Save(&rule); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			rw.NotFound("rule not found")
			return
		}
		rw.ValidationError("invalid rule", err.Error())
		return
	}

	if isNew {
		rw.Created(&rule)
		return
	}
	rw.Success(&rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := s.rules.Delete(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			rw.NotFound("rule not found")
			return
		}
		rw.InternalError(err.Error())
		return
	}
	rw.NoContent()
}

// handleFireRule dispatches a rule's action immediately, bypassing its
// match. Used to test rules from the dashboard.
func (s *Server) handleFireRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	if err := s.rules.Fire(r.Context(), id); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			rw.NotFound("rule not found")
			return
		}
		rw.ServiceUnavailable("dispatch failed: " + err.Error())
		return
	}
	rw.Success(map[string]string{"fired": id})
}

func (s *Server) handleOBSScenes(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	scenes, current, err := s.comp.Scenes(r.Context())
	if err != nil {
		rw.ServiceUnavailable(err.Error())
		return
	}
	rw.Success(map[string]any{"current": current, "scenes": scenes})
}

func (s *Server) handleOBSSceneItems(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	scene := r.URL.Query().Get("scene")
	if scene == "" {
		rw.BadRequest("scene query parameter is required")
		return
	}
	items, err := s.comp.SceneItems(r.Context(), scene)
	if err != nil {
		rw.ServiceUnavailable(err.Error())
		return
	}
	rw.Success(items)
}

func (s *Server) handleOBSFilters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	source := r.URL.Query().Get("source")
	if source == "" {
		rw.BadRequest("source query parameter is required")
		return
	}
	filters, err := s.comp.Filters(r.Context(), source)
	if err != nil {
		rw.ServiceUnavailable(err.Error())
		return
	}
	rw.Success(filters)
}

func (s *Server) handleStreamerbotActions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	actions, err := s.auto.GetActions(r.Context())
	if err != nil {
		rw.ServiceUnavailable(err.Error())
		return
	}
	rw.Success(actions)
}
