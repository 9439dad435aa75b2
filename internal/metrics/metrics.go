// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package metrics defines the Prometheus instrumentation for the relay.
// All metrics register on the default registry via promauto and are served
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts canonical events produced, by event type.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "events_ingested_total",
		Help:      "Canonical events produced by the ingestion pipeline.",
	}, []string{"event_type"})

	// EventsDropped counts payloads dropped before canonicalization.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "events_dropped_total",
		Help:      "Raw payloads dropped due to malformed content.",
	})

	// EventsForwarded counts events delivered to the backend.
	EventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "events_forwarded_total",
		Help:      "Events successfully delivered to the backend API.",
	})

	// DeliveryRetries counts re-delivery attempts.
	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "delivery_retries_total",
		Help:      "Events re-enqueued after a failed delivery flush.",
	})

	// DeliveryDropped counts events abandoned after exhausting retries.
	DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "delivery_dropped_total",
		Help:      "Events dropped after exceeding the retry limit.",
	})

	// DeliveryQueueDepth tracks the current delivery queue size.
	DeliveryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamrelay",
		Name:      "delivery_queue_depth",
		Help:      "Events currently buffered for delivery.",
	})

	// HubSubscribers tracks connected dashboard stream subscribers.
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamrelay",
		Name:      "hub_subscribers",
		Help:      "Currently connected event stream subscribers.",
	})

	// HubReplaySize tracks the replay buffer fill level.
	HubReplaySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamrelay",
		Name:      "hub_replay_size",
		Help:      "Events currently held in the replay buffer.",
	})

	// RulesFired counts rule actions dispatched, by action type.
	RulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "rules_fired_total",
		Help:      "Rule actions dispatched, by action type.",
	}, []string{"action"})

	// RuleDispatchFailures counts rule actions that failed to dispatch.
	RuleDispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "rule_dispatch_failures_total",
		Help:      "Rule actions whose adapter dispatch returned an error.",
	})

	// AdapterConnected tracks adapter connection state (1 connected, 0 not),
	// by adapter name.
	AdapterConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamrelay",
		Name:      "adapter_connected",
		Help:      "Connection state of control-plane adapters.",
	}, []string{"adapter"})

	// SourceReconnects counts platform source reconnect attempts.
	SourceReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamrelay",
		Name:      "source_reconnects_total",
		Help:      "Reconnect attempts, by connection name.",
	}, []string{"connection"})

	// HTTPRequestDuration observes admin API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamrelay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method, path, and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path, status string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
