// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package models

import (
	"time"
)

// HealthStatus is the payload of the /health endpoint.
type HealthStatus struct {
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	Mode           string         `json:"mode"`
	Backend        string         `json:"backend"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	TokenCount     int            `json:"token_count"`
	ActiveSessions int            `json:"active_sessions"`
	RateLimits     map[string]int `json:"rate_limits"`
	StartedAt      time.Time      `json:"started_at"`
}

// TokenInfo is a single entry in the admin token listing. Token is the
// operator-issued custom token; VendorToken is always masked before it
// reaches this struct, the raw vendor credential never leaves the vault.
type TokenInfo struct {
	Token       string    `json:"token"`
	VendorToken string    `json:"vendor_token"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenList is the payload of GET /admin/tokens.
type TokenList struct {
	Total  int         `json:"total"`
	Tokens []TokenInfo `json:"tokens"`
}

// TelemetrySessionView describes one live telemetry session for the
// admin surface.
type TelemetrySessionView struct {
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Messages  int64     `json:"messages"`
}
