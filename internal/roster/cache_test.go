// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package roster

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/irregularchat/signalbridge/internal/groupid"
	"github.com/irregularchat/signalbridge/internal/rpc"
)

// fakeLister returns canned listings and can be switched to fail.
type fakeLister struct {
	mu      sync.Mutex
	entries []rpc.GroupEntry
	err     error
	calls   int
}

func (f *fakeLister) ListGroups(_ context.Context, _ bool) ([]rpc.GroupEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeLister) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func groupIDFor(seed byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func testEntries() []rpc.GroupEntry {
	return []rpc.GroupEntry{
		{
			ID:   groupIDFor(1),
			Name: "ops",
			Members: []rpc.GroupMember{
				{UUID: "alice"}, {UUID: "bob"}, {Number: "+15550001111"},
			},
			Admins: []rpc.GroupMember{{UUID: "alice"}},
		},
		{
			ID:      groupIDFor(2),
			Name:    "general",
			Members: []rpc.GroupMember{{UUID: "carol"}},
		},
	}
}

func TestSyncBuildsSnapshot(t *testing.T) {
	lister := &fakeLister{entries: testEntries()}
	cache := NewCache(lister, groupid.New())

	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("Expected 2 groups, got %d", cache.Len())
	}

	g, ok := cache.Resolve(groupIDFor(1))
	if !ok {
		t.Fatal("Resolve failed for synced group")
	}
	if g.Name != "ops" || g.MemberCount != 3 {
		t.Errorf("Unexpected group snapshot: %+v", g)
	}
	if !g.HasMember("bob") {
		t.Error("Expected bob to be a member")
	}
	if !g.IsAdmin("alice") || g.IsAdmin("bob") {
		t.Error("Admin set incorrect")
	}
	if cache.LastSync().IsZero() {
		t.Error("LastSync not recorded")
	}
}

func TestResolveAnyEncoding(t *testing.T) {
	lister := &fakeLister{entries: testEntries()}
	norm := groupid.New()
	cache := NewCache(lister, norm)
	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	canonical, _ := norm.Normalize(groupIDFor(1))
	for _, variant := range norm.AllFormats(canonical) {
		g, ok := cache.Resolve(variant)
		if !ok {
			t.Errorf("Resolve(%q) failed", variant)
			continue
		}
		if g.CanonicalID != canonical {
			t.Errorf("Resolve(%q) returned group %q", variant, g.CanonicalID)
		}
	}
}

func TestFailedSyncRetainsSnapshot(t *testing.T) {
	lister := &fakeLister{entries: testEntries()}
	cache := NewCache(lister, groupid.New())
	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	before, ok := cache.Resolve(groupIDFor(1))
	if !ok {
		t.Fatal("group missing after first sync")
	}
	lastSync := cache.LastSync()

	lister.setErr(errors.New("daemon unreachable"))
	err := cache.Sync(context.Background())
	if err == nil {
		t.Fatal("Expected sync error")
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Errorf("Expected *SyncError, got %T", err)
	}

	after, ok := cache.Resolve(groupIDFor(1))
	if !ok {
		t.Fatal("Snapshot cleared on failed sync")
	}
	if after.MemberCount != before.MemberCount {
		t.Errorf("Member count changed on failed sync: %d -> %d", before.MemberCount, after.MemberCount)
	}
	if !cache.LastSync().Equal(lastSync) {
		t.Error("LastSync advanced on failed sync")
	}
}

func TestSyncReplacesWholesale(t *testing.T) {
	lister := &fakeLister{entries: testEntries()}
	cache := NewCache(lister, groupid.New())
	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// Second listing drops a member and a whole group.
	lister.mu.Lock()
	lister.entries = []rpc.GroupEntry{
		{
			ID:      groupIDFor(1),
			Name:    "ops",
			Members: []rpc.GroupMember{{UUID: "alice"}},
			Admins:  []rpc.GroupMember{{UUID: "alice"}},
		},
	}
	lister.mu.Unlock()

	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected stale group to be dropped, have %d groups", cache.Len())
	}
	g, _ := cache.Resolve(groupIDFor(1))
	if g.MemberCount != 1 || g.HasMember("bob") {
		t.Errorf("Expected wholesale replacement, got %+v", g)
	}
}

func TestSyncSkipsMalformedGroupIDs(t *testing.T) {
	lister := &fakeLister{entries: []rpc.GroupEntry{
		{ID: "!!!garbage!!!", Name: "broken"},
		{ID: groupIDFor(3), Name: "fine"},
	}}
	cache := NewCache(lister, groupid.New())
	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected malformed entry skipped, have %d groups", cache.Len())
	}
}

func TestConcurrentReadsDuringSync(t *testing.T) {
	lister := &fakeLister{entries: testEntries()}
	cache := NewCache(lister, groupid.New())
	if err := cache.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i := len(cache.Groups()); i == 0 {
					t.Error("Snapshot vanished during concurrent sync")
					return
				}
				_, _ = cache.Resolve(groupIDFor(1))
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Sync(context.Background())
		}()
	}
	wg.Wait()
}
