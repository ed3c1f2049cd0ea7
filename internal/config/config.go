// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package config provides layered configuration loading for Bambugate.
// Configuration is assembled from three sources in increasing priority:
// built-in defaults, an optional YAML config file, and environment
// variables.
package config

import (
	"time"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Bambu     BambuConfig     `koanf:"bambu"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	CORSOrigins []string      `koanf:"cors_origins"`
}

// BambuConfig holds the upstream Bambu Lab cloud API settings.
//
// Region selects the vendor endpoint: "global" for api.bambulab.com,
// "china" for api.bambulab.cn. BaseURL, when set, overrides the
// region-derived URL entirely (useful for tests and mirrors).
type BambuConfig struct {
	Region         string        `koanf:"region"`
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	CredentialFile string        `koanf:"credential_file"`
}

// GatewayConfig holds gateway behaviour settings.
//
// Mode is either "strict" (GET-only passthrough, unsafe methods
// rejected) or "full" (all methods forwarded upstream).
type GatewayConfig struct {
	Mode      string `koanf:"mode"`
	TokenFile string `koanf:"token_file"`
}

// Strict reports whether the gateway restricts passthrough to GET.
func (g GatewayConfig) Strict() bool {
	return g.Mode == "strict"
}

// RateLimitConfig holds the per-token admission limits. Each class
// gets its own request budget within a shared fixed window. Limits
// default to roughly a quarter of the vendor's own thresholds so a
// busy gateway cannot trip the upstream ban hammer.
type RateLimitConfig struct {
	Disabled   bool          `koanf:"disabled"`
	Window     time.Duration `koanf:"window"`
	Default    int           `koanf:"default"`
	User       int           `koanf:"user"`
	Admin      int           `koanf:"admin"`
	Health     int           `koanf:"health"`
	IPRequests int           `koanf:"ip_requests"`
	IPWindow   time.Duration `koanf:"ip_window"`
}

// TelemetryConfig holds device telemetry session settings.
type TelemetryConfig struct {
	Enabled        bool          `koanf:"enabled"`
	SessionTTL     time.Duration `koanf:"session_ttl"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	MaxSessions    int           `koanf:"max_sessions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// VendorBaseURL returns the effective upstream base URL, honouring a
// BaseURL override before falling back to the region default.
func (c *Config) VendorBaseURL() string {
	if c.Bambu.BaseURL != "" {
		return c.Bambu.BaseURL
	}
	if c.Bambu.Region == "china" {
		return "https://api.bambulab.cn"
	}
	return "https://api.bambulab.com"
}
