// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateBambu(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateTelemetry(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateBambu() error {
	switch c.Bambu.Region {
	case "global", "china":
	default:
		return fmt.Errorf("BAMBU_REGION must be 'global' or 'china', got %q", c.Bambu.Region)
	}

	if c.Bambu.BaseURL != "" {
		if err := validateHTTPURL(c.Bambu.BaseURL, "BAMBU_BASE_URL"); err != nil {
			return err
		}
	}

	if c.Bambu.Timeout <= 0 {
		return fmt.Errorf("BAMBU_TIMEOUT must be positive")
	}
	if c.Bambu.CredentialFile == "" {
		return fmt.Errorf("BAMBU_CREDENTIAL_FILE must not be empty")
	}
	return nil
}

func (c *Config) validateGateway() error {
	switch c.Gateway.Mode {
	case "strict", "full":
	default:
		return fmt.Errorf("GATEWAY_MODE must be 'strict' or 'full', got %q", c.Gateway.Mode)
	}
	if c.Gateway.TokenFile == "" {
		return fmt.Errorf("GATEWAY_TOKEN_FILE must not be empty")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Disabled {
		return nil
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	for name, limit := range map[string]int{
		"RATE_LIMIT_DEFAULT": c.RateLimit.Default,
		"RATE_LIMIT_USER":    c.RateLimit.User,
		"RATE_LIMIT_ADMIN":   c.RateLimit.Admin,
		"RATE_LIMIT_HEALTH":  c.RateLimit.Health,
	} {
		if limit < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.RateLimit.IPRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_IP_REQUESTS must be at least 1")
	}
	if c.RateLimit.IPWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_IP_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if !c.Telemetry.Enabled {
		return nil
	}
	if c.Telemetry.SessionTTL <= 0 {
		return fmt.Errorf("TELEMETRY_SESSION_TTL must be positive")
	}
	if c.Telemetry.SweepInterval <= 0 {
		return fmt.Errorf("TELEMETRY_SWEEP_INTERVAL must be positive")
	}
	if c.Telemetry.ConnectTimeout <= 0 {
		return fmt.Errorf("TELEMETRY_CONNECT_TIMEOUT must be positive")
	}
	if c.Telemetry.MaxSessions < 1 {
		return fmt.Errorf("TELEMETRY_MAX_SESSIONS must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that the value parses as an absolute http(s)
// URL with a host.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
