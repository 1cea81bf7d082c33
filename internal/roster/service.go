// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package roster

import (
	"context"
	"time"
)

// SyncService runs periodic full syncs on its own timer, independent of the
// transport read loop. It implements suture.Service.
type SyncService struct {
	cache    *Cache
	interval time.Duration
}

// NewSyncService creates a sync service for the cache. Interval defaults to
// five minutes.
func NewSyncService(cache *Cache, interval time.Duration) *SyncService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncService{cache: cache, interval: interval}
}

// Serve syncs immediately, then on every tick until the context is canceled.
// A failed sync logs and waits for the next tick; it never clears the
// snapshot or stops the service.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.cache.Sync(ctx); err != nil {
		s.cache.log.Warn().Err(err).Msg("initial membership sync failed, retrying on next tick")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.cache.Sync(ctx); err != nil {
				s.cache.log.Warn().Err(err).Msg("membership sync failed, snapshot retained")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *SyncService) String() string { return "roster-sync" }
