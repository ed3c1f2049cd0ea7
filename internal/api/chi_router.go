// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so the gateway's own middleware can
// be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Router wires handlers and middleware into the HTTP surface.
type Router struct {
	handler *Handler
	chiMW   *ChiMiddleware
	cfg     *config.Config
}

// NewRouter creates a Router around the given handler set.
func NewRouter(cfg *config.Config, handler *Handler) *Router {
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.IPRateLimitRequests = cfg.RateLimit.IPRequests
	mwCfg.IPRateLimitWindow = cfg.RateLimit.IPWindow
	mwCfg.IPRateLimitDisabled = cfg.RateLimit.Disabled

	return &Router{
		handler: handler,
		chiMW:   NewChiMiddleware(mwCfg),
		cfg:     cfg,
	}
}

// SetupChi configures all HTTP routes using the Chi router.
//
// The /v1/telemetry routes are registered before the /v1 catch-all;
// Chi prefers the more specific pattern, so telemetry session
// endpoints never reach the vendor proxy.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMW.CORS())
	r.Use(APISecurityHeaders())
	r.Use(router.chiMW.IPRateLimit())

	r.Get("/", router.handler.Info)
	r.Get("/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Get("/tokens", router.handler.AdminTokens)
		r.Get("/sessions", router.handler.AdminSessions)
	})

	if router.cfg.Telemetry.Enabled {
		r.Route("/v1/telemetry/{device_id}", func(r chi.Router) {
			r.Use(chiMiddleware(middleware.PrometheusMetrics))
			r.Post("/start", router.handler.TelemetryStart)
			r.Get("/read", router.handler.TelemetryRead)
			r.Post("/stop", router.handler.TelemetryStop)
		})
	}

	// Everything else under /v1 forwards to the vendor API.
	r.With(chiMiddleware(middleware.PrometheusMetrics)).
		HandleFunc("/v1/*", router.handler.Proxy)

	return r
}
