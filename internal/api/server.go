// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/config"
	"github.com/tomtom215/streamrelay/internal/connmgr"
	"github.com/tomtom215/streamrelay/internal/hub"
	"github.com/tomtom215/streamrelay/internal/middleware"
	"github.com/tomtom215/streamrelay/internal/obs"
	"github.com/tomtom215/streamrelay/internal/rules"
	"github.com/tomtom215/streamrelay/internal/streamerbot"
)

// RuleService is the rule engine surface the API needs.
type RuleService interface {
	List() []*rules.Rule
	Get(id string) (*rules.Rule, error)
	Save(r *rules.Rule) error
	Delete(id string) error
	Fire(ctx context.Context, id string) error
}

// Compositor is the compositor catalog surface the API needs.
type Compositor interface {
	Scenes(ctx context.Context) ([]obs.Scene, string, error)
	SceneItems(ctx context.Context, scene string) ([]obs.SceneItem, error)
	Filters(ctx context.Context, source string) ([]obs.Filter, error)
}

// Automation is the automation host surface the API needs.
type Automation interface {
	GetActions(ctx context.Context) ([]streamerbot.Action, error)
}

// EventStream is the broadcast hub surface the stream handler needs.
type EventStream interface {
	Subscribe(ctx context.Context) (*hub.Subscriber, error)
	Unsubscribe(sub *hub.Subscriber)
}

// StatusReport is the relay's aggregate status.
type StatusReport struct {
	Sequence    uint64           `json:"sequence"`
	QueueDepth  int              `json:"queue_depth"`
	Connections []connmgr.Status `json:"connections"`
}

// Server holds the API's dependencies.
type Server struct {
	cfg    config.ServerConfig
	secret string

	rules  RuleService
	stream EventStream
	comp   Compositor
	auto   Automation
	status func() StatusReport

	logger zerolog.Logger
}

// NewServer creates the API server.
func NewServer(
	cfg config.ServerConfig,
	secret string,
	ruleSvc RuleService,
	stream EventStream,
	comp Compositor,
	auto Automation,
	status func() StatusReport,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:    cfg,
		secret: secret,
		rules:  ruleSvc,
		stream: stream,
		comp:   comp,
		auto:   auto,
		status: status,
		logger: logger,
	}
}

// Router builds the HTTP routing tree. Health and metrics are open; the
// event stream and admin API require the shared secret.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Relay-Secret", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.SharedSecret(s.secret))

		r.Get("/stream", s.handleStream)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleSaveRule)
				r.Get("/{id}", s.handleGetRule)
				r.Delete("/{id}", s.handleDeleteRule)
				r.Post("/{id}/fire", s.handleFireRule)
			})

			r.Route("/obs", func(r chi.Router) {
				r.Get("/scenes", s.handleOBSScenes)
				r.Get("/scene-items", s.handleOBSSceneItems)
				r.Get("/filters", s.handleOBSFilters)
			})

			r.Route("/streamerbot", func(r chi.Router) {
				r.Get("/actions", s.handleStreamerbotActions)
			})
		})
	})

	return r
}
