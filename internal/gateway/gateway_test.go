// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestGateway(t *testing.T) (*Gateway, *BadgerStore) {
	t.Helper()
	store, err := OpenBadgerStore("")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return New(store), store
}

func baseRecord() *Record {
	return &Record{
		Kind:      KindUsage,
		Command:   "ping",
		Actor:     "+15551234567",
		Success:   true,
		LatencyMs: 12,
	}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := baseRecord()
	if err := gw.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected ID to be assigned on write")
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected timestamp to be assigned on write")
	}
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	rec := baseRecord()
	rec.GroupID = "abc123=="
	rec.Detail = "responded in a group"
	if err := gw.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := gw.Query(ctx, Filter{Actor: "+15551234567"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != rec.ID {
		t.Errorf("ID mismatch: got %q, want %q", got[0].ID, rec.ID)
	}
	if got[0].Command != "ping" {
		t.Errorf("Command mismatch: got %q", got[0].Command)
	}
	if !got[0].Success {
		t.Error("expected Success to round-trip")
	}
}

func TestAppendSanitizesFields(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := baseRecord()
	rec.Detail = "output `rm -rf` and $(whoami); done"
	if err := gw.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	for _, forbidden := range []string{"`", "$", ";"} {
		if strings.Contains(rec.Detail, forbidden) {
			t.Errorf("detail still contains %q after sanitization: %q", forbidden, rec.Detail)
		}
	}
}

func TestAppendRejectsUnauthorizedActor(t *testing.T) {
	gw, _ := newTestGateway(t)

	for _, actor := range []string{"", "not-a-phone", "<script>"} {
		rec := baseRecord()
		rec.Actor = actor
		err := gw.Append(context.Background(), rec)
		if !errors.Is(err, ErrUnauthorizedWrite) {
			t.Errorf("actor %q: expected ErrUnauthorizedWrite, got %v", actor, err)
		}
	}

	// A store-side read confirms nothing was persisted.
	got, err := gw.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no persisted records, got %d", len(got))
	}
}

func TestAppendRejectsOversizedDetail(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := baseRecord()
	rec.Detail = strings.Repeat("a", MaxDetailLen+1)
	err := gw.Append(context.Background(), rec)
	if !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong, got %v", err)
	}
}

func TestAppendAcceptsMaxDetail(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := baseRecord()
	rec.Detail = strings.Repeat("a", MaxDetailLen)
	if err := gw.Append(context.Background(), rec); err != nil {
		t.Fatalf("record within all caps should be accepted: %v", err)
	}
}

func TestQueryNewestFirst(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := baseRecord()
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		rec.Detail = string(rune('a' + i))
		if err := gw.Append(ctx, rec); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	got, err := gw.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("records not newest-first at index %d", i)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	a := baseRecord()
	a.Command = "ping"
	b := baseRecord()
	b.Command = "whois"
	b.Actor = "d53fa8de-9d69-4dc1-a6a8-1e2b4a6ad21c"
	for _, rec := range []*Record{a, b} {
		if err := gw.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := gw.Query(ctx, Filter{Command: "whois"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Command != "whois" {
		t.Fatalf("command filter mismatch: %+v", got)
	}

	got, err = gw.Query(ctx, Filter{Actor: "+15551234567"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Command != "ping" {
		t.Fatalf("actor filter mismatch: %+v", got)
	}
}

func TestQueryLimit(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := gw.Append(ctx, baseRecord()); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	got, err := gw.Query(ctx, Filter{Limit: 4})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 records, got %d", len(got))
	}
}

func TestPruneRemovesOnlyExpired(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	old := baseRecord()
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	fresh := baseRecord()
	for _, rec := range []*Record{old, fresh} {
		if err := gw.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	n, err := gw.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}

	got, err := gw.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("expected only the fresh record to survive, got %+v", got)
	}
}

func TestUsageReturnsActorRecords(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	mine := baseRecord()
	other := baseRecord()
	other.Actor = "d53fa8de-9d69-4dc1-a6a8-1e2b4a6ad21c"
	for _, rec := range []*Record{mine, other} {
		if err := gw.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := gw.Usage(ctx, "+15551234567", 10)
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if len(got) != 1 || got[0].Actor != "+15551234567" {
		t.Errorf("usage query mismatch: %+v", got)
	}
}
