// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package bridge

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/config"
	"github.com/irregularchat/signalbridge/internal/logging"
)

// AdminServer is the local HTTP surface for the web dashboard: health,
// group listing, start/stop control, and Prometheus metrics. It binds to
// loopback by default and is throttled per client IP.
type AdminServer struct {
	bridge *Bridge
	cfg    config.AdminConfig
	log    zerolog.Logger
}

// NewAdminServer creates the admin listener over a bridge.
func NewAdminServer(b *Bridge, cfg config.AdminConfig) *AdminServer {
	return &AdminServer{
		bridge: b,
		cfg:    cfg,
		log:    logging.With().Str("component", "admin").Logger(),
	}
}

// Router builds the chi route tree. Exposed for tests.
func (s *AdminServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/groups", s.handleGroups)
	r.Get("/api/v1/usage", s.handleUsage)
	r.Post("/api/v1/start", s.handleStart)
	r.Post("/api/v1/stop", s.handleStop)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve runs the listener until the context is canceled. Implements
// suture.Service.
func (s *AdminServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("listen", s.cfg.Listen).Msg("Admin listener started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *AdminServer) String() string { return "admin-server" }

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.bridge.Health()
	h.DaemonVersion = s.bridge.DaemonVersion(r.Context())
	s.writeJSON(w, http.StatusOK, h)
}

func (s *AdminServer) handleGroups(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.ListGroups())
}

func (s *AdminServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := s.bridge.Usage(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *AdminServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Start(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *AdminServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Stop(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *AdminServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("Failed to encode admin response")
	}
}

func (s *AdminServer) writeError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("Admin request failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal error, see daemon logs",
	})
}
