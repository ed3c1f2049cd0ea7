// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package main is the entry point for the bambugate server.
//
// Bambugate is an operator-run gateway in front of the Bambu Lab cloud
// API. Callers authenticate with opaque custom tokens that the gateway
// exchanges for real vendor credentials, so the vendor account password
// and token never reach the callers. Responses are sanitized before
// they leave the gateway.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, config.yaml,
//     environment variables)
//  2. Token vault: custom token -> vendor credential mappings from the
//     token file
//  3. Vendor client: REST client with outbound pacing and a circuit
//     breaker
//  4. Telemetry bridge: device-keyed TTL sessions over the print
//     status poll feed
//  5. HTTP server: Chi router exposing the proxy, telemetry, admin,
//     health, and metrics endpoints
//  6. Supervisor tree: Suture supervises the HTTP server and the
//     sweeper loop
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, GATEWAY_MODE, BAMBU_REGION, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Modes
//
// GATEWAY_MODE=strict (default) forwards only GET requests upstream;
// telemetry session management stays available. GATEWAY_MODE=full
// forwards all methods.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests (10s timeout), and
// closes all telemetry feed subscriptions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/bambugate/internal/api"
	"github.com/tomtom215/bambugate/internal/bambu"
	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/logging"
	"github.com/tomtom215/bambugate/internal/ratelimit"
	"github.com/tomtom215/bambugate/internal/supervisor"
	"github.com/tomtom215/bambugate/internal/supervisor/services"
	"github.com/tomtom215/bambugate/internal/telemetry"
	"github.com/tomtom215/bambugate/internal/vault"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("mode", cfg.Gateway.Mode).
		Str("region", cfg.Bambu.Region).
		Msg("Starting bambugate")

	tokenVault, err := vault.New(cfg.Gateway.TokenFile)
	if err != nil {
		logging.Fatal().Err(err).Str("file", cfg.Gateway.TokenFile).Msg("Failed to load token vault")
	}
	if tokenVault.Count() == 0 {
		logging.Warn().Str("file", cfg.Gateway.TokenFile).Msg("No custom tokens configured, all proxy requests will be rejected")
	} else {
		logging.Info().Int("tokens", tokenVault.Count()).Msg("Token vault loaded")
	}

	client := bambu.NewClient(cfg.VendorBaseURL(), cfg.Bambu)
	logging.Info().Str("backend", client.BaseURL()).Msg("Vendor client initialized")

	limiter := ratelimit.New(cfg.RateLimit)
	if cfg.RateLimit.Disabled {
		logging.Warn().Msg("Rate limiting disabled")
	}

	// The telemetry bridge runs over the print status poll feed. The
	// bridge is created even when telemetry is disabled so the admin
	// surface stays consistent; the routes are simply not registered.
	feed := telemetry.NewPollFeed(client, 0)
	bridge := telemetry.NewBridge(feed, cfg.Telemetry)
	defer bridge.Shutdown()

	handler := api.NewHandler(cfg, tokenVault, client, limiter, bridge, version)
	router := api.NewRouter(cfg, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	tree.AddMaintenanceService(services.NewSweeperService(bridge, limiter, cfg.Telemetry.SweepInterval))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished).
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Gateway stopped gracefully")
}
