// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package api implements the gateway's HTTP surface: the vendor
// passthrough proxy, telemetry session endpoints, and the operator
// admin and health endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/bambugate/internal/bambu"
	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/models"
	"github.com/tomtom215/bambugate/internal/ratelimit"
	"github.com/tomtom215/bambugate/internal/telemetry"
	"github.com/tomtom215/bambugate/internal/vault"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	cfg       *config.Config
	vault     *vault.Vault
	client    *bambu.Client
	limiter   *ratelimit.Controller
	bridge    *telemetry.Bridge
	version   string
	startedAt time.Time
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(cfg *config.Config, v *vault.Vault, client *bambu.Client, limiter *ratelimit.Controller, bridge *telemetry.Bridge, version string) *Handler {
	return &Handler{
		cfg:       cfg,
		vault:     v,
		client:    client,
		limiter:   limiter,
		bridge:    bridge,
		version:   version,
		startedAt: time.Now(),
	}
}

// Health returns the gateway's operational status. The payload is
// stable so monitoring can alert on mode or token count drift.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if d := h.limiter.Allow(clientKey(r), ratelimit.ClassHealth); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	respondSuccess(w, http.StatusOK, models.HealthStatus{
		Status:         "ok",
		Version:        h.version,
		Mode:           h.cfg.Gateway.Mode,
		Backend:        h.client.BaseURL(),
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		TokenCount:     h.vault.Count(),
		ActiveSessions: len(h.bridge.Sessions()),
		RateLimits: map[string]int{
			string(ratelimit.ClassDefault): h.cfg.RateLimit.Default,
			string(ratelimit.ClassUser):    h.cfg.RateLimit.User,
			string(ratelimit.ClassAdmin):   h.cfg.RateLimit.Admin,
			string(ratelimit.ClassHealth):  h.cfg.RateLimit.Health,
		},
		StartedAt: h.startedAt,
	})
}

// Info describes the gateway and its endpoints for operators hitting
// the root path.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	if d := h.limiter.Allow(clientKey(r), ratelimit.ClassHealth); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"name":    "bambugate",
		"version": h.version,
		"mode":    h.cfg.Gateway.Mode,
		"backend": h.client.BaseURL(),
		"endpoints": map[string]string{
			"proxy":           "/v1/*",
			"telemetry_start": "POST /v1/telemetry/{device_id}/start",
			"telemetry_read":  "GET /v1/telemetry/{device_id}/read",
			"telemetry_stop":  "POST /v1/telemetry/{device_id}/stop",
			"admin_tokens":    "GET /admin/tokens",
			"admin_sessions":  "GET /admin/sessions",
			"health":          "GET /health",
			"metrics":         "GET /metrics",
		},
	})
}

// clientKey identifies an anonymous caller for rate limiting. The
// bearer token is preferred so shared NATs don't pool into one bucket.
func clientKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return r.RemoteAddr
}
