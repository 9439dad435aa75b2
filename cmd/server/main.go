// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package main is the entry point for the Streamrelay server.
//
// Streamrelay attaches to a live broadcast, canonicalizes the platform's
// event stream (chat, gifts, likes, follows, shares), and fans the
// canonical events out to three consumers: a buffered forwarder posting to
// a backend API, a Server-Sent Events hub feeding dashboards, and a rule
// engine driving OBS and Streamer.bot.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables over config file over defaults (Koanf v2)
//  2. Canonicalizer and event log: platform frames become canonical events
//  3. Delivery queue: debounced, retried forwarding to the backend API
//  4. Rule store and engine: BadgerDB-persisted automation rules
//  5. Adapters: OBS websocket v5 and Streamer.bot clients under
//     reconnecting connection managers
//  6. HTTP server: admin API and the /stream SSE endpoint
//
// Everything long-lived runs under a suture supervision tree with three
// layers (ingest, messaging, api) so a crashing connection restarts in
// isolation.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file (config.yaml),
// built-in defaults. The required settings are:
//
//	TIKTOK_USERNAME    broadcaster to attach to
//	SOURCE_URL         webcast bridge websocket URL
//	API_BASE_URL       backend API origin
//	RELAY_SECRET       shared secret for backend delivery and the admin API
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, the delivery queue performs a final flush,
// and the rule store closes cleanly.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/streamrelay/internal/api"
	"github.com/tomtom215/streamrelay/internal/bus"
	"github.com/tomtom215/streamrelay/internal/config"
	"github.com/tomtom215/streamrelay/internal/connmgr"
	"github.com/tomtom215/streamrelay/internal/delivery"
	"github.com/tomtom215/streamrelay/internal/eventlog"
	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/hub"
	"github.com/tomtom215/streamrelay/internal/logging"
	"github.com/tomtom215/streamrelay/internal/obs"
	"github.com/tomtom215/streamrelay/internal/relay"
	"github.com/tomtom215/streamrelay/internal/rules"
	"github.com/tomtom215/streamrelay/internal/source"
	"github.com/tomtom215/streamrelay/internal/streamerbot"
	"github.com/tomtom215/streamrelay/internal/supervisor"
	"github.com/tomtom215/streamrelay/internal/supervisor/services"
)

const busBuffer = 256

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("username", cfg.TikTok.Username).
		Str("backend", cfg.Backend.BaseURL).
		Msg("Starting Streamrelay")

	// Ingestion pipeline: canonicalizer, event log, bus.
	canon := events.NewCanonicalizer(events.Options{
		Platform:             events.PlatformTikTok,
		StreamerID:           cfg.TikTok.StreamerID,
		CommandPrefixes:      cfg.Commands.Prefixes,
		CommandMaxPerMessage: cfg.Commands.MaxPerMessage,
		EmitCommandEvents:    cfg.Commands.EmitEvents,
	})

	eventLog := eventlog.NewWriter(eventlog.Config{
		Enabled:       cfg.EventLog.Enabled,
		Dir:           cfg.EventLog.Dir,
		EventTypes:    cfg.EventLog.EventTypes,
		IncludeRaw:    cfg.EventLog.IncludeRaw,
		ControlEvents: cfg.EventLog.ControlEvents,
	}, logger)
	defer func() {
		if err := eventLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event log")
		}
	}()

	eventBus := bus.New(busBuffer, logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	pipeline := relay.New(canon, eventLog, eventBus, logger)

	// Backend forwarding.
	deliveryClient := delivery.NewClient(delivery.ClientConfig{
		Endpoint:   cfg.Backend.EventEndpoint(),
		Secret:     cfg.Backend.Secret,
		Timeout:    cfg.Backend.Timeout,
		IncludeRaw: cfg.Backend.IncludeRaw,
	}, logger)
	queue := delivery.NewQueue(delivery.QueueConfig{
		FlushInterval: cfg.Buffer.FlushInterval,
		MaxEvents:     cfg.Buffer.MaxEvents,
		MaxRetries:    cfg.Backend.MaxRetries,
		ForwardTypes:  cfg.Backend.ForwardTypes,
		FailureLog:    eventLog.LogSystem,
	}, deliveryClient, logger)

	// Dashboard event stream.
	eventHub := hub.New(cfg.Hub.ReplayCapacity, logger)

	// Rule store and adapters.
	store, err := rules.OpenStore(cfg.Rules.Path, cfg.Rules.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Rules.Path).Msg("Failed to open rule store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing rule store")
		}
	}()

	obsClient := obs.NewClient(obs.Config{
		URL:            cfg.OBS.URL,
		Password:       cfg.OBS.Password,
		RequestTimeout: cfg.OBS.RequestTimeout,
	}, logger)
	sbClient := streamerbot.NewClient(streamerbot.Config{
		URL:            cfg.Streamerbot.URL,
		Password:       cfg.Streamerbot.Password,
		RequestTimeout: cfg.Streamerbot.RequestTimeout,
	}, logger)

	engine, err := rules.NewEngine(store, obsClient, sbClient, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load rules")
	}
	logging.Info().Int("rules", len(engine.List())).Msg("Rule engine ready")

	// Platform source under its connection manager. System records mark
	// each session boundary in the event log.
	srcClient := source.NewClient(source.Config{
		URL:                 cfg.TikTok.SourceURL,
		Username:            cfg.TikTok.Username,
		SessionID:           cfg.TikTok.SessionID,
		TargetIDC:           cfg.TikTok.TargetIDC,
		SignAPIKey:          cfg.TikTok.SignAPIKey,
		ConnectWithUniqueID: cfg.TikTok.ConnectWithUniqueID,
		Fallback:            cfg.TikTok.Fallback,
	}, pipeline.HandleFrame, logger)
	srcManager := connmgr.New("source", cfg.TikTok.ReconnectDelay, func(ctx context.Context, ready func()) error {
		err := srcClient.Session(ctx, func() {
			ready()
			pipeline.LogSystem("source_connected", map[string]any{"username": cfg.TikTok.Username})
		})
		fields := map[string]any{"username": cfg.TikTok.Username}
		if err != nil {
			fields["error"] = err.Error()
		}
		pipeline.LogSystem("source_disconnected", fields)
		return err
	}, logger)

	// Optional secondary ingestion socket, same frame contract.
	var ingestManager *connmgr.Manager
	if cfg.Ingest.Enabled {
		ingestClient := source.NewClient(source.Config{
			URL:      cfg.Ingest.URL,
			Username: cfg.TikTok.Username,
		}, pipeline.HandleFrame, logger)
		ingestManager = connmgr.New("ingest", cfg.Ingest.ReconnectDelay, ingestClient.Session, logger)
		logging.Info().Str("url", cfg.Ingest.URL).Msg("Secondary ingestion socket enabled")
	}

	obsManager := connmgr.New("obs", cfg.OBS.ReconnectDelay, obsClient.Session, logger)
	sbManager := connmgr.New("streamerbot", cfg.Streamerbot.ReconnectDelay, sbClient.Session, logger)

	// Aggregate status for GET /api/v1/status.
	managers := []*connmgr.Manager{srcManager, obsManager, sbManager}
	if ingestManager != nil {
		managers = append(managers, ingestManager)
	}
	statusFn := func() api.StatusReport {
		report := api.StatusReport{
			Sequence:   pipeline.Sequence(),
			QueueDepth: queue.Len(),
		}
		for _, m := range managers {
			report.Connections = append(report.Connections, m.Status())
		}
		return report
	}

	apiServer := api.NewServer(cfg.Server, cfg.Backend.Secret, engine, eventHub, obsClient, sbClient, statusFn, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // SSE responses stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// === BUILD SUPERVISOR TREE ===

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Messaging layer: hub, delivery queue, and the three bus consumers.
	tree.AddMessagingService(services.NewRunnerFuncService("event-hub", eventHub.RunWithContext))
	tree.AddMessagingService(services.NewRunnerService("delivery-queue", queue))
	tree.AddMessagingService(services.NewRunnerFuncService("forward-consumer", func(ctx context.Context) error {
		return consume(ctx, eventBus, "forwarder", func(ctx context.Context, ev *events.Event) {
			queue.Enqueue(ev)
		})
	}))
	tree.AddMessagingService(services.NewRunnerFuncService("hub-consumer", func(ctx context.Context) error {
		return consume(ctx, eventBus, "hub", func(ctx context.Context, ev *events.Event) {
			eventHub.Publish(ev)
		})
	}))
	tree.AddMessagingService(services.NewRunnerFuncService("rules-consumer", func(ctx context.Context) error {
		return consume(ctx, eventBus, "rules", engine.Apply)
	}))

	// Ingest layer: the platform source plus optional adapters.
	tree.AddIngestService(services.NewRunnerService("source-conn", srcManager))
	if ingestManager != nil {
		tree.AddIngestService(services.NewRunnerService("ingest-conn", ingestManager))
	}
	if cfg.OBS.AutoConnect {
		tree.AddIngestService(services.NewRunnerService("obs-conn", obsManager))
	} else {
		logging.Info().Msg("OBS auto-connect disabled (OBS_AUTO_CONNECT=false)")
	}
	if cfg.Streamerbot.AutoConnect {
		tree.AddIngestService(services.NewRunnerService("streamerbot-conn", sbManager))
	} else {
		logging.Info().Msg("Streamer.bot auto-connect disabled (STREAMERBOT_AUTO_CONNECT=false)")
	}

	// API layer.
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))
	logging.Info().Str("addr", httpServer.Addr).Msg("HTTP server service added")

	// === RUN ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor finishes shutting down.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Streamrelay stopped gracefully")
}

// consume subscribes a named consumer to the event bus and hands each
// event to fn until ctx is cancelled.
func consume(ctx context.Context, b *bus.Bus, name string, fn func(ctx context.Context, ev *events.Event)) error {
	ch, err := b.Subscribe(ctx, name)
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			fn(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
