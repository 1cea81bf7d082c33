// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package metrics provides Prometheus instrumentation for signalbridge.
// Metrics are exposed at the /metrics endpoint of the admin server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	PendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpc_pending_calls",
			Help: "Number of outstanding correlated calls awaiting a response",
		},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_call_duration_seconds",
			Help:    "Duration of correlated calls to the messaging daemon",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"method", "outcome"}, // outcome: "confirmed", "unconfirmed", "timeout", "error"
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_reconnects_total",
			Help: "Total number of reconnection attempts to the messaging daemon",
		},
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpc_connection_state",
			Help: "Current daemon connection state (0=disconnected, 1=connected)",
		},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_malformed_frames_total",
			Help: "Total number of inbound lines dropped as malformed",
		},
	)

	LateResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_late_responses_total",
			Help: "Total number of responses dropped because their call already timed out",
		},
	)

	NotificationsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_notifications_total",
			Help: "Total number of asynchronous notifications received",
		},
	)

	// Roster sync metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roster_sync_duration_seconds",
			Help:    "Duration of full membership sync operations",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60},
		},
	)

	SyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_sync_errors_total",
			Help: "Total number of failed membership syncs",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_sync_last_success_timestamp",
			Help: "Unix timestamp of last successful membership sync",
		},
	)

	GroupsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_groups_tracked",
			Help: "Number of groups in the current membership snapshot",
		},
	)

	// Guard metrics
	RateLimitViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_rate_limit_violations_total",
			Help: "Total number of rate-limited calls",
		},
		[]string{"class"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_validation_failures_total",
			Help: "Total number of argument validation failures",
		},
		[]string{"kind"},
	)

	// Dispatcher metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Total number of dispatched inbound messages",
		},
		[]string{"command", "outcome"}, // outcome: "completed", "rejected", "error"
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Handler execution time per command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Gateway metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_audit_writes_total",
			Help: "Total number of audit/usage record writes",
		},
		[]string{"outcome"}, // "ok", "rejected", "error"
	)

	// AI collaborator metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_completion_requests_total",
			Help: "Total number of AI completion calls",
		},
		[]string{"outcome"}, // "ok", "fallback", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)
