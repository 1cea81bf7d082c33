// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package roster holds the best-known membership snapshot per canonical
// group ID, refreshed by a periodic full listing against the transport.
//
// A sync replaces each group's member and admin sets wholesale rather than
// diffing. Staleness is tolerated up to one sync interval; handlers that need
// authoritative freshness call Refresh for a cache bypass. A failed sync
// keeps the previous snapshot intact and retries at the next interval.
package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/groupid"
	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/metrics"
	"github.com/irregularchat/signalbridge/internal/rpc"
)

// SyncError wraps a failed membership sync. The previous snapshot stays
// intact; the sync service retries at the next interval.
type SyncError struct {
	Cause error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("roster: sync failed: %v", e.Cause)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// Group is an immutable membership snapshot for one group. Handlers must
// never mutate a Group; mutations go through the transport and land in the
// next sync.
type Group struct {
	CanonicalID string
	Name        string
	Members     map[string]struct{}
	Admins      map[string]struct{}
	MemberCount int
	Variants    []string
	SyncedAt    time.Time
}

// HasMember reports whether the identifier belongs to the group.
func (g *Group) HasMember(id string) bool {
	_, ok := g.Members[id]
	return ok
}

// IsAdmin reports whether the identifier is a group admin.
func (g *Group) IsAdmin(id string) bool {
	_, ok := g.Admins[id]
	return ok
}

// Lister is the transport surface the cache needs. *rpc.Client satisfies it.
type Lister interface {
	ListGroups(ctx context.Context, detailed bool) ([]rpc.GroupEntry, error)
}

// Cache is the membership snapshot store.
type Cache struct {
	lister Lister
	norm   *groupid.Normalizer
	log    zerolog.Logger

	mu       sync.RWMutex
	snapshot map[string]*Group
	lastSync time.Time
}

// NewCache creates an empty cache over the given transport and normalizer.
func NewCache(lister Lister, norm *groupid.Normalizer) *Cache {
	return &Cache{
		lister:   lister,
		norm:     norm,
		log:      logging.With().Str("component", "roster").Logger(),
		snapshot: make(map[string]*Group),
	}
}

// Sync performs one full listing and swaps in a new snapshot. On failure the
// previous snapshot is left untouched and a *SyncError is returned.
func (c *Cache) Sync(ctx context.Context) error {
	start := time.Now()

	entries, err := c.lister.ListGroups(ctx, true)
	if err != nil {
		metrics.SyncErrors.Inc()
		return &SyncError{Cause: err}
	}

	next := make(map[string]*Group, len(entries))
	for i := range entries {
		group, ok := c.buildGroup(&entries[i])
		if !ok {
			continue
		}
		next[group.CanonicalID] = group
	}

	c.mu.Lock()
	c.snapshot = next
	c.lastSync = time.Now()
	c.mu.Unlock()

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	metrics.SyncLastSuccess.Set(float64(time.Now().Unix()))
	metrics.GroupsTracked.Set(float64(len(next)))
	c.log.Debug().Int("groups", len(next)).Dur("elapsed", time.Since(start)).Msg("membership sync complete")
	return nil
}

// buildGroup converts one listing entry into an immutable snapshot. Entries
// whose ID cannot be normalized are skipped and logged.
func (c *Cache) buildGroup(entry *rpc.GroupEntry) (*Group, bool) {
	canonical, ok := c.norm.Normalize(entry.ID)
	if !ok {
		c.log.Warn().Str("group_id", entry.ID).Msg("skipping group with unrecognizable ID")
		return nil, false
	}

	members := make(map[string]struct{}, len(entry.Members))
	for _, m := range entry.Members {
		if id := m.Identifier(); id != "" {
			members[id] = struct{}{}
		}
	}
	admins := make(map[string]struct{}, len(entry.Admins))
	for _, a := range entry.Admins {
		if id := a.Identifier(); id != "" {
			admins[id] = struct{}{}
		}
	}

	return &Group{
		CanonicalID: canonical,
		Name:        entry.Name,
		Members:     members,
		Admins:      admins,
		MemberCount: len(members),
		Variants:    c.norm.AllFormats(canonical),
		SyncedAt:    time.Now(),
	}, true
}

// Refresh is the cache bypass for handlers that need authoritative
// freshness: it forces a full sync before the caller reads.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.Sync(ctx)
}

// Group returns the snapshot for a canonical group ID.
func (c *Cache) Group(canonicalID string) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.snapshot[canonicalID]
	return g, ok
}

// Resolve normalizes a raw group ID in any encoding and returns its
// snapshot.
func (c *Cache) Resolve(rawID string) (*Group, bool) {
	canonical, ok := c.norm.Normalize(rawID)
	if !ok {
		return nil, false
	}
	return c.Group(canonical)
}

// Groups returns all current snapshots. The slice is a fresh copy; the
// Group values are shared and immutable.
func (c *Cache) Groups() []*Group {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]*Group, 0, len(c.snapshot))
	for _, g := range c.snapshot {
		groups = append(groups, g)
	}
	return groups
}

// Len returns the number of groups in the snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshot)
}

// LastSync returns the completion time of the last successful sync.
func (c *Cache) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}
