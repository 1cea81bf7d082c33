// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package bridge assembles the daemon core: the socket transport, the
// membership cache, the dispatcher, and the audit gateway, all run under one
// supervision tree. It exposes the start/stop/health/listGroups surface the
// admin listener serves.
package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/ai"
	"github.com/irregularchat/signalbridge/internal/command"
	"github.com/irregularchat/signalbridge/internal/config"
	"github.com/irregularchat/signalbridge/internal/gateway"
	"github.com/irregularchat/signalbridge/internal/groupid"
	"github.com/irregularchat/signalbridge/internal/guard"
	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/roster"
	"github.com/irregularchat/signalbridge/internal/rpc"
	"github.com/irregularchat/signalbridge/internal/supervisor"
)

// Health is the read-only status snapshot served by the admin listener.
type Health struct {
	Running       bool      `json:"running"`
	Connected     bool      `json:"connected"`
	PendingCalls  int       `json:"pending_calls"`
	GroupsTracked int       `json:"groups_tracked"`
	LastSync      time.Time `json:"last_sync"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	DaemonVersion string    `json:"daemon_version,omitempty"`
}

// GroupSummary is one group in the listGroups surface, ordered the same way
// the groups command numbers them.
type GroupSummary struct {
	CanonicalID string `json:"canonical_id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// Bridge owns the daemon core. The transport client, membership cache, and
// audit store live for the Bridge's lifetime; the supervision tree and the
// dispatcher are rebuilt on each Start so Stop/Start cycles are clean.
type Bridge struct {
	cfg    *config.Config
	client *rpc.Client
	cache  *roster.Cache
	store  *gateway.BadgerStore
	gw     *gateway.Gateway
	ai     *ai.Client
	log    zerolog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      <-chan error
}

// New assembles a bridge from configuration. The audit store is opened
// immediately; the daemon connection is not dialed until Start.
func New(cfg *config.Config) (*Bridge, error) {
	store, err := gateway.OpenBadgerStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	client := rpc.NewClient(rpc.Config{
		SocketPath:       cfg.RPC.SocketPath,
		CallTimeout:      cfg.RPC.CallTimeout,
		ReconnectInitial: cfg.RPC.ReconnectInitial,
		ReconnectMax:     cfg.RPC.ReconnectMax,
		StabilityWindow:  cfg.RPC.StabilityWindow,
		WriteRate:        float64(cfg.RPC.WriteRate),
	})

	b := &Bridge{
		cfg:    cfg,
		client: client,
		cache:  roster.NewCache(client, groupid.New()),
		store:  store,
		gw:     gateway.New(store),
		log:    logging.With().Str("component", "bridge").Logger(),
	}
	if cfg.AIEnabled() {
		b.ai = ai.NewClient(ai.Config{
			Endpoint:      cfg.AI.Endpoint,
			APIKey:        cfg.AI.APIKey,
			Model:         cfg.AI.Model,
			Timeout:       cfg.AI.Timeout,
			FallbackReply: cfg.AI.FallbackReply,
		})
	}
	return b, nil
}

// Start launches the supervised core. Starting a running bridge is a no-op.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	dispatcher, limiter, err := b.buildDispatcher()
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddTransportService(b.client)
	tree.AddTransportService(&notificationPump{client: b.client, dispatcher: dispatcher})
	tree.AddDomainService(roster.NewSyncService(b.cache, b.cfg.Sync.Interval))
	tree.AddDomainService(dispatcher)
	tree.AddDomainService(&limiterSweeper{limiter: limiter, interval: guard.Window})
	tree.AddDomainService(&retentionSweeper{
		gw:       b.gw,
		maxAge:   b.cfg.Retention.MaxAge,
		interval: b.cfg.Retention.SweepInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = tree.ServeBackground(ctx)
	b.running = true
	b.startedAt = time.Now()
	b.log.Info().Str("socket", b.cfg.RPC.SocketPath).Msg("Bridge core started")
	return nil
}

func (b *Bridge) buildDispatcher() (*command.Dispatcher, *guard.RateLimiter, error) {
	reg := command.NewRegistry()
	deps := command.Deps{
		Roster:    b.cache,
		Updater:   b.client,
		Responder: b.responder(),
		Resolver:  net.DefaultResolver,
	}
	if err := command.RegisterBuiltins(reg, deps); err != nil {
		return nil, nil, fmt.Errorf("failed to register commands: %w", err)
	}

	limiter := guard.NewRateLimiter(guard.Limits{
		guard.ClassDefault:    b.cfg.RateLimits.Default,
		guard.ClassAI:         b.cfg.RateLimits.AI,
		guard.ClassMembership: b.cfg.RateLimits.Membership,
		guard.ClassBulkLookup: b.cfg.RateLimits.BulkLookup,
	})

	d := command.NewDispatcher(command.Config{
		Workers:        b.cfg.Dispatcher.Workers,
		HandlerTimeout: b.cfg.Dispatcher.HandlerTimeout,
	}, reg, b.cache, limiter, b.client, b.gw)
	return d, limiter, nil
}

// responder returns the AI collaborator, or a stub that always answers with
// the fallback when no endpoint is configured.
func (b *Bridge) responder() command.Responder {
	if b.ai != nil {
		return b.ai
	}
	return disabledResponder{}
}

type disabledResponder struct{}

func (disabledResponder) CompleteOrFallback(context.Context, string, string) string {
	return "The assistant is not configured on this bridge."
}

// Stop shuts the core down and waits for the tree to unwind. Stopping a
// stopped bridge is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}

	b.cancel()
	select {
	case <-b.done:
	case <-time.After(15 * time.Second):
		b.log.Error().Msg("Bridge core did not stop within timeout")
	}
	b.running = false
	b.log.Info().Msg("Bridge core stopped")
	return nil
}

// Close stops the core and releases the audit store.
func (b *Bridge) Close() error {
	if err := b.Stop(); err != nil {
		return err
	}
	return b.store.Close()
}

// Health reports connection state, last sync time, and pending-call count.
func (b *Bridge) Health() Health {
	b.mu.Lock()
	running := b.running
	startedAt := b.startedAt
	b.mu.Unlock()

	h := Health{
		Running:       running,
		Connected:     b.client.Connected(),
		PendingCalls:  b.client.PendingCount(),
		GroupsTracked: b.cache.Len(),
		LastSync:      b.cache.LastSync(),
	}
	if running {
		h.StartedAt = startedAt
	}
	return h
}

// DaemonVersion probes the external process version. Best-effort: returns
// "" when disconnected or the probe fails.
func (b *Bridge) DaemonVersion(ctx context.Context) string {
	if !b.client.Connected() {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	v, err := b.client.Version(ctx)
	if err != nil {
		b.log.Debug().Err(err).Msg("version probe failed")
		return ""
	}
	return v
}

// Usage returns recent usage records, optionally filtered by actor, for the
// dashboard collaborator.
func (b *Bridge) Usage(ctx context.Context, actor string, limit int) ([]gateway.Record, error) {
	return b.gw.Query(ctx, gateway.Filter{Actor: actor, Kind: gateway.KindUsage, Limit: limit})
}

// ListGroups returns the cached groups in the shared listing order.
func (b *Bridge) ListGroups() []GroupSummary {
	ordered := command.OrderGroups(b.cache.Groups())
	out := make([]GroupSummary, 0, len(ordered))
	for _, g := range ordered {
		out = append(out, GroupSummary{
			CanonicalID: g.CanonicalID,
			Name:        g.Name,
			MemberCount: g.MemberCount,
		})
	}
	return out
}

// notificationPump forwards inbound envelopes from the transport to the
// dispatcher fan-out.
type notificationPump struct {
	client     *rpc.Client
	dispatcher *command.Dispatcher
}

func (p *notificationPump) Serve(ctx context.Context) error {
	// The transport buffers notifications; waiting here prevents dropping
	// envelopes published before the dispatcher's subscription is live.
	select {
	case <-p.dispatcher.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case env := <-p.client.Notifications():
			if env == nil {
				continue
			}
			if err := p.dispatcher.Enqueue(env); err != nil {
				logging.Warn().Err(err).Msg("Failed to enqueue inbound envelope")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *notificationPump) String() string { return "notification-pump" }

// limiterSweeper reaps expired rate-limit windows so capacity eviction
// never has to touch a live user's window.
type limiterSweeper struct {
	limiter  interface{ Cleanup() int }
	interval time.Duration
}

func (s *limiterSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *limiterSweeper) String() string { return "limiter-sweeper" }

// retentionSweeper prunes expired audit records on a fixed interval.
type retentionSweeper struct {
	gw       *gateway.Gateway
	maxAge   time.Duration
	interval time.Duration
}

func (s *retentionSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.gw.Prune(ctx, s.maxAge); err != nil {
				logging.Warn().Err(err).Msg("Retention sweep failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *retentionSweeper) String() string { return "retention-sweeper" }
