// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package main is the entry point for the signalbridge daemon.
//
// Signalbridge maintains one long-lived connection to an external Signal
// messaging process over a Unix socket, correlates outbound JSON-RPC calls
// with inbound responses, keeps a periodically synced group-membership
// cache, and dispatches inbound text commands through validation, rate
// limiting, and permission checks. Usage and audit records are persisted to
// a local BadgerDB store through a gateway that re-validates and sanitizes
// every write.
//
// Startup order:
//
//  1. Configuration: defaults, optional YAML file, SIGNALBRIDGE_* env vars
//  2. Logging: global zerolog logger per the log section
//  3. Bridge core: transport client, membership cache, dispatcher, and
//     audit store assembled under a suture supervision tree
//  4. Admin listener: health, group listing, start/stop, and /metrics
//
// Shutdown on SIGINT/SIGTERM unwinds in reverse: the admin listener stops
// accepting requests, then the core tree cancels the dispatcher, the sync
// loop, and finally the daemon connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irregularchat/signalbridge/internal/bridge"
	"github.com/irregularchat/signalbridge/internal/config"
	"github.com/irregularchat/signalbridge/internal/logging"
	"github.com/irregularchat/signalbridge/internal/supervisor"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: search standard locations)")
		account    = flag.String("account", "", "account identifier in E.164 form (overrides config)")
		socketPath = flag.String("socket", "", "path to the messaging daemon socket (overrides config)")
		dataDir    = flag.String("data-dir", "", "directory for local state (overrides config)")
		healthFlag = flag.Bool("health", false, "query the running daemon's health and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *account, *socketPath, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalbridge: %v\n", err)
		os.Exit(1)
	}

	if *healthFlag {
		os.Exit(queryHealth(cfg.Admin.Listen))
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	if err := run(cfg); err != nil && err != context.Canceled {
		logging.Fatal().Err(err).Msg("Daemon exited with error")
	}
}

// loadConfig layers flag overrides on top of the config file and
// environment. Flags win because they are the most explicit.
func loadConfig(path, account, socketPath, dataDir string) (*config.Config, error) {
	// Flag overrides are injected through the environment layer so the
	// validation pass sees the final values.
	if account != "" {
		os.Setenv("SIGNALBRIDGE_ACCOUNT", account)
	}
	if socketPath != "" {
		os.Setenv("SIGNALBRIDGE_RPC_SOCKET_PATH", socketPath)
	}
	if dataDir != "" {
		os.Setenv("SIGNALBRIDGE_DATA_DIR", dataDir)
	}
	return config.Load(path)
}

func run(cfg *config.Config) error {
	core, err := bridge.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			logging.Err(err).Msg("Failed to close bridge")
		}
	}()

	if err := core.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Listen != "" {
		tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
		tree.AddAPIService(bridge.NewAdminServer(core, cfg.Admin))

		logging.Info().
			Str("account", cfg.Account).
			Str("socket", cfg.RPC.SocketPath).
			Str("admin", cfg.Admin.Listen).
			Msg("Signalbridge started")
		return tree.Serve(ctx)
	}

	logging.Info().
		Str("account", cfg.Account).
		Str("socket", cfg.RPC.SocketPath).
		Msg("Signalbridge started (admin listener disabled)")
	<-ctx.Done()
	return ctx.Err()
}

// queryHealth performs the one-shot read-only health query against a
// running daemon and prints the response body.
func queryHealth(listen string) int {
	if listen == "" {
		fmt.Fprintln(os.Stderr, "signalbridge: admin listener is disabled, no health endpoint")
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + listen + "/api/v1/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalbridge: health query failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalbridge: failed to read health response: %v\n", err)
		return 1
	}
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
