// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package ratelimit implements per-token fixed-window admission
// control. Every (key, class) pair gets its own request budget inside
// a shared window length; the budgets default to roughly a quarter of
// the vendor's own published limits so the gateway can never push a
// customer account into an upstream ban.
package ratelimit

import (
	"sync"
	"time"

	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/metrics"
)

// Class identifies the admission budget a request draws from.
type Class string

const (
	ClassDefault Class = "default"
	ClassUser    Class = "user"
	ClassAdmin   Class = "admin"
	ClassHealth  Class = "health"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Controller admits or rejects requests per (key, class) using a
// fixed window. A key is usually the caller's custom token, falling
// back to remote address for anonymous requests.
type Controller struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	windows map[string]*window
	now     func() time.Time
}

// New creates a Controller from the rate limit configuration.
func New(cfg config.RateLimitConfig) *Controller {
	return &Controller{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// limitFor returns the per-window request budget for a class.
func (c *Controller) limitFor(class Class) int {
	switch class {
	case ClassUser:
		return c.cfg.User
	case ClassAdmin:
		return c.cfg.Admin
	case ClassHealth:
		return c.cfg.Health
	default:
		return c.cfg.Default
	}
}

// Allow checks whether a request identified by key may proceed in the
// given class. When rejected, RetryAfter holds the time until the
// current window rolls over.
func (c *Controller) Allow(key string, class Class) Decision {
	limit := c.limitFor(class)
	if c.cfg.Disabled {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	id := string(class) + ":" + key

	w, ok := c.windows[id]
	if !ok || now.Sub(w.start) >= c.cfg.Window {
		w = &window{start: now}
		c.windows[id] = w
	}

	if w.count >= limit {
		retry := c.cfg.Window - now.Sub(w.start)
		metrics.RecordRateDecision(string(class), false)
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retry,
		}
	}

	w.count++
	metrics.RecordRateDecision(string(class), true)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
	}
}

// Prune drops windows that expired before the cutoff. Called
// periodically by the supervisor sweeper so idle tokens do not leak
// window entries forever.
func (c *Controller) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0
	for id, w := range c.windows {
		if now.Sub(w.start) >= c.cfg.Window {
			delete(c.windows, id)
			pruned++
		}
	}
	return pruned
}

// Tracked returns the number of live (key, class) windows.
func (c *Controller) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
