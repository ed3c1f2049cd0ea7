// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/bambugate/config.yaml",
	"/etc/bambugate/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config populated with working defaults.
// These are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Bambu: BambuConfig{
			Region:         "global",
			BaseURL:        "",
			Timeout:        30 * time.Second,
			CredentialFile: "/data/credential.json",
		},
		Gateway: GatewayConfig{
			Mode:      "strict",
			TokenFile: "/data/tokens.json",
		},
		RateLimit: RateLimitConfig{
			Disabled: false,
			Window:   time.Minute,
			// Roughly a quarter of the vendor's published limits.
			Default:    30,
			User:       15,
			Admin:      10,
			Health:     60,
			IPRequests: 120,
			IPWindow:   time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			SessionTTL:     5 * time.Minute,
			SweepInterval:  time.Minute,
			ConnectTimeout: 15 * time.Second,
			MaxSessions:    64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings, but the config
// struct expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the YAML file): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config
// paths. Only variables listed here are consumed; anything else in the
// process environment is ignored.
var envMappings = map[string]string{
	// Server
	"http_host":      "server.host",
	"http_port":      "server.port",
	"server_timeout": "server.timeout",
	"cors_origins":   "server.cors_origins",

	// Upstream Bambu cloud API
	"bambu_region":          "bambu.region",
	"bambu_base_url":        "bambu.base_url",
	"bambu_timeout":         "bambu.timeout",
	"bambu_credential_file": "bambu.credential_file",

	// Gateway behaviour
	"gateway_mode":       "gateway.mode",
	"gateway_token_file": "gateway.token_file",

	// Rate limiting
	"rate_limit_disabled":    "rate_limit.disabled",
	"rate_limit_window":      "rate_limit.window",
	"rate_limit_default":     "rate_limit.default",
	"rate_limit_user":        "rate_limit.user",
	"rate_limit_admin":       "rate_limit.admin",
	"rate_limit_health":      "rate_limit.health",
	"rate_limit_ip_requests": "rate_limit.ip_requests",
	"rate_limit_ip_window":   "rate_limit.ip_window",

	// Telemetry sessions
	"telemetry_enabled":         "telemetry.enabled",
	"telemetry_session_ttl":     "telemetry.session_ttl",
	"telemetry_sweep_interval":  "telemetry.sweep_interval",
	"telemetry_connect_timeout": "telemetry.connect_timeout",
	"telemetry_max_sessions":    "telemetry.max_sessions",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unknown variables transform to the empty string, which koanf
// treats as "skip".
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
