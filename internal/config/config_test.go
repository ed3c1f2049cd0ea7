// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Gateway.Mode != "strict" {
		t.Errorf("expected default mode strict, got %q", cfg.Gateway.Mode)
	}
	if cfg.RateLimit.Default != 30 || cfg.RateLimit.User != 15 ||
		cfg.RateLimit.Admin != 10 || cfg.RateLimit.Health != 60 {
		t.Errorf("unexpected default rate limits: %+v", cfg.RateLimit)
	}
}

func TestLoadWithKoanfEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("GATEWAY_MODE", "full")
	t.Setenv("BAMBU_REGION", "china")
	t.Setenv("RATE_LIMIT_USER", "7")
	t.Setenv("TELEMETRY_SESSION_TTL", "90s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Gateway.Mode != "full" {
		t.Errorf("expected mode full, got %q", cfg.Gateway.Mode)
	}
	if cfg.Bambu.Region != "china" {
		t.Errorf("expected region china, got %q", cfg.Bambu.Region)
	}
	if cfg.RateLimit.User != 7 {
		t.Errorf("expected user limit 7, got %d", cfg.RateLimit.User)
	}
	if cfg.Telemetry.SessionTTL != 90*time.Second {
		t.Errorf("expected session TTL 90s, got %v", cfg.Telemetry.SessionTTL)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://a.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadWithKoanfConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 3000
gateway:
  mode: full
  token_file: /tmp/tokens.json
bambu:
  base_url: http://127.0.0.1:9999
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	// Env still beats the file.
	t.Setenv("HTTP_PORT", "3001")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf failed: %v", err)
	}

	if cfg.Server.Port != 3001 {
		t.Errorf("env should override file: expected port 3001, got %d", cfg.Server.Port)
	}
	if cfg.Gateway.TokenFile != "/tmp/tokens.json" {
		t.Errorf("expected token file from yaml, got %q", cfg.Gateway.TokenFile)
	}
	if cfg.VendorBaseURL() != "http://127.0.0.1:9999" {
		t.Errorf("expected base URL override, got %q", cfg.VendorBaseURL())
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"bad region", func(c *Config) { c.Bambu.Region = "europe" }},
		{"bad base url scheme", func(c *Config) { c.Bambu.BaseURL = "ftp://example.com" }},
		{"bad mode", func(c *Config) { c.Gateway.Mode = "open" }},
		{"empty token file", func(c *Config) { c.Gateway.TokenFile = "" }},
		{"zero rate window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"zero user limit", func(c *Config) { c.RateLimit.User = 0 }},
		{"zero session ttl", func(c *Config) { c.Telemetry.SessionTTL = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateDisabledSectionsSkipped(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.RateLimit.Disabled = true
	cfg.RateLimit.Window = 0
	cfg.Telemetry.Enabled = false
	cfg.Telemetry.SessionTTL = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sections should skip validation: %v", err)
	}
}

func TestVendorBaseURL(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if got := cfg.VendorBaseURL(); got != "https://api.bambulab.com" {
		t.Errorf("expected global endpoint, got %q", got)
	}
	cfg.Bambu.Region = "china"
	if got := cfg.VendorBaseURL(); got != "https://api.bambulab.cn" {
		t.Errorf("expected china endpoint, got %q", got)
	}
	cfg.Bambu.BaseURL = "http://localhost:1234"
	if got := cfg.VendorBaseURL(); got != "http://localhost:1234" {
		t.Errorf("expected override, got %q", got)
	}
}
