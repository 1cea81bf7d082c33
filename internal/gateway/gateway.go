// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package gateway

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/guard"
	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
)

const (
	// MaxFieldLen caps the short string fields of a record.
	MaxFieldLen = 256

	// MaxDetailLen caps the free-form detail field.
	MaxDetailLen = 1024

	// MaxRecordSize caps the serialized record. Oversized records are
	// rejected, never truncated.
	MaxRecordSize = 8192
)

// Gateway is the single write path to the usage/audit store. Every write
// re-checks the actor and sanitizes all string fields, so the store only
// ever sees clean data even if a handler misbehaves.
type Gateway struct {
	store Store
	log   zerolog.Logger
}

// New builds a gateway over the given store.
func New(store Store) *Gateway {
	return &Gateway{
		store: store,
		log:   logging.With().Str("component", "gateway").Logger(),
	}
}

// Append validates, sanitizes, and persists one record. The record is
// mutated in place: ID and Timestamp are assigned, string fields are
// replaced by their sanitized forms.
func (g *Gateway) Append(ctx context.Context, rec *Record) error {
	if err := g.prepare(rec); err != nil {
		metrics.AuditWrites.WithLabelValues("rejected").Inc()
		g.log.Warn().
			Str("actor", rec.Actor).
			Str("command", rec.Command).
			Err(err).
			Msg("Audit write rejected")
		return err
	}

	if err := g.store.Append(ctx, rec); err != nil {
		metrics.AuditWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to append record: %w", err)
	}
	metrics.AuditWrites.WithLabelValues("ok").Inc()
	return nil
}

func (g *Gateway) prepare(rec *Record) error {
	// Authorization re-check: the actor must still be a well-formed
	// identifier at write time, independent of upstream validation.
	if err := guard.ValidateArg(guard.KindIdentifier, rec.Actor); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorizedWrite, err)
	}

	rec.Command = guard.Sanitize(rec.Command)
	rec.Actor = guard.Sanitize(rec.Actor)
	rec.GroupID = guard.Sanitize(rec.GroupID)
	rec.ErrorClass = guard.Sanitize(rec.ErrorClass)
	rec.Detail = guard.Sanitize(rec.Detail)

	for name, val := range map[string]string{
		"command":     rec.Command,
		"actor":       rec.Actor,
		"group_id":    rec.GroupID,
		"error_class": rec.ErrorClass,
	} {
		if len(val) > MaxFieldLen {
			return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrFieldTooLong, name, len(val), MaxFieldLen)
		}
	}
	if len(rec.Detail) > MaxDetailLen {
		return fmt.Errorf("%w: detail is %d bytes (max %d)", ErrFieldTooLong, len(rec.Detail), MaxDetailLen)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Kind == "" {
		rec.Kind = KindUsage
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to size record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrRecordTooLarge, len(data), MaxRecordSize)
	}
	return nil
}

// Query reads records back, newest first.
func (g *Gateway) Query(ctx context.Context, filter Filter) ([]Record, error) {
	return g.store.Query(ctx, filter)
}

// Usage returns recent records for one actor, for the usage query surface.
func (g *Gateway) Usage(ctx context.Context, actor string, limit int) ([]Record, error) {
	return g.store.Query(ctx, Filter{Actor: actor, Kind: KindUsage, Limit: limit})
}

// Prune removes records older than the retention window.
func (g *Gateway) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := g.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("failed to prune records: %w", err)
	}
	if n > 0 {
		g.log.Info().Int("count", n).Time("cutoff", cutoff).Msg("Pruned expired records")
	}
	return n, nil
}
