// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package gateway wraps every persistence write originating from a handler
// with authorization re-checks and sanitization, independent of the guard
// already applied upstream. A handler bug that bypasses validation must not
// reach the store with unsanitized or oversized data.
package gateway

import (
	"context"
	"errors"
	"time"
)

// RecordKind separates usage logs from audit records.
type RecordKind string

const (
	KindUsage RecordKind = "usage"
	KindAudit RecordKind = "audit"
)

// Record is one append-only usage or audit entry.
type Record struct {
	// ID is assigned by the gateway on write.
	ID string `json:"id"`

	// Timestamp is assigned by the gateway on write if zero.
	Timestamp time.Time `json:"timestamp"`

	// Kind is usage or audit.
	Kind RecordKind `json:"kind"`

	// Command is the command name that produced the record.
	Command string `json:"command"`

	// Actor is the sender identifier that invoked the command.
	Actor string `json:"actor"`

	// GroupID is the canonical group ID, if the command ran in a group.
	GroupID string `json:"group_id,omitempty"`

	// Success reports the handler outcome.
	Success bool `json:"success"`

	// LatencyMs is the handler execution time.
	LatencyMs int64 `json:"latency_ms"`

	// ErrorClass names the rejection/failure class on failure.
	ErrorClass string `json:"error_class,omitempty"`

	// Detail carries sanitized free-form context.
	Detail string `json:"detail,omitempty"`
}

// Filter selects records for queries.
type Filter struct {
	Actor   string
	Command string
	Kind    RecordKind
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Store is the append-only persistence surface.
type Store interface {
	// Append persists one record.
	Append(ctx context.Context, rec *Record) error

	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// DeleteOlderThan removes records before the cutoff; returns the count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the store.
	Close() error
}

var (
	// ErrRecordTooLarge rejects a write whose serialized size exceeds the
	// ceiling. Records are never truncated silently.
	ErrRecordTooLarge = errors.New("gateway: record exceeds size ceiling")

	// ErrFieldTooLong rejects a write with an over-long field.
	ErrFieldTooLong = errors.New("gateway: field exceeds length cap")

	// ErrUnauthorizedWrite rejects a write whose actor fails the
	// authorization re-check.
	ErrUnauthorizedWrite = errors.New("gateway: write rejected by authorization re-check")
)
