// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package telemetry maintains device-keyed telemetry sessions over an
// abstract feed. A session subscribes to one device, caches its latest
// report, and lives for a fixed TTL from its start; only a fresh start
// extends the deadline. A periodic sweeper reaps expired sessions.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/logging"
	"github.com/tomtom215/bambugate/internal/metrics"
	"github.com/tomtom215/bambugate/internal/models"
)

// ReadStatus classifies the outcome of a Read.
type ReadStatus int

const (
	// StatusData means the session is live and a cached report exists.
	StatusData ReadStatus = iota
	// StatusWaiting means the session is live but no report arrived yet.
	StatusWaiting
	// StatusNotFound means no session exists for the device.
	StatusNotFound
	// StatusGone means the session existed but has expired or closed.
	StatusGone
)

// ReadResult is the outcome of reading a device's telemetry.
type ReadResult struct {
	Status     ReadStatus
	Payload    map[string]interface{}
	LastUpdate time.Time
	// Age is how old the cached report is at read time.
	Age time.Duration
	// TTLRemaining is how long until the session's deadline.
	TTLRemaining time.Duration
	// Messages counts feed reports received since the session started.
	Messages int64
}

type sessionState int

const (
	stateLive sessionState = iota
	stateGone
)

type session struct {
	deviceID  string
	state     sessionState
	startedAt time.Time
	// expiresAt is the session deadline. Only Start moves it; reads and
	// feed messages never do.
	expiresAt time.Time
	latest    map[string]interface{}
	latestAt  time.Time
	messages  int64
	stop      func()
}

// Bridge owns all telemetry sessions. All methods are safe for
// concurrent use.
type Bridge struct {
	mu       sync.Mutex
	feed     Feed
	cfg      config.TelemetryConfig
	sessions map[string]*session
	now      func() time.Time
}

// NewBridge creates a Bridge over the given feed.
func NewBridge(feed Feed, cfg config.TelemetryConfig) *Bridge {
	return &Bridge{
		feed:     feed,
		cfg:      cfg,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Start status values.
const (
	StartStarted  = "started"
	StartExtended = "extended"
)

// Start opens a telemetry session for a device using the account's
// vendor token. Starting an already live session pushes its deadline a
// full TTL out and reports "extended". A device whose previous session
// expired gets a fresh one.
func (b *Bridge) Start(ctx context.Context, deviceID, token string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device id must not be empty")
	}

	b.mu.Lock()
	if s, ok := b.sessions[deviceID]; ok && s.state == stateLive && b.now().Before(s.expiresAt) {
		s.expiresAt = b.now().Add(b.cfg.SessionTTL)
		b.mu.Unlock()
		return StartExtended, nil
	}

	live := 0
	for _, s := range b.sessions {
		if s.state == stateLive {
			live++
		}
	}
	if live >= b.cfg.MaxSessions {
		b.mu.Unlock()
		return "", fmt.Errorf("session limit reached (%d live sessions)", live)
	}
	b.mu.Unlock()

	// Subscribe outside the lock; feed connects can block.
	subCtx, cancel := context.WithCancel(context.Background())
	connectCtx := ctx
	if b.cfg.ConnectTimeout > 0 {
		var cancelConnect context.CancelFunc
		connectCtx, cancelConnect = context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		defer cancelConnect()
	}

	ch, stop, err := b.feed.Subscribe(connectCtx, deviceID, token)
	if err != nil {
		cancel()
		return "", fmt.Errorf("feed subscribe failed for %s: %w", deviceID, err)
	}

	now := b.now()
	s := &session{
		deviceID:  deviceID,
		state:     stateLive,
		startedAt: now,
		expiresAt: now.Add(b.cfg.SessionTTL),
		stop: func() {
			cancel()
			stop()
		},
	}

	b.mu.Lock()
	if existing, ok := b.sessions[deviceID]; ok && existing.state == stateLive {
		if b.now().Before(existing.expiresAt) {
			// Lost the race to a concurrent Start; keep the winner.
			existing.expiresAt = b.now().Add(b.cfg.SessionTTL)
			b.mu.Unlock()
			s.stop()
			return StartExtended, nil
		}
		// Replacing an expired session the sweeper has not reached yet.
		b.expireLocked(existing)
	}
	b.sessions[deviceID] = s
	b.mu.Unlock()

	metrics.TelemetrySessionsStarted.Inc()
	metrics.TelemetrySessionsActive.Inc()
	logging.Info().Str("device_id", deviceID).Msg("Telemetry session started")

	go b.consume(subCtx, s, ch)
	return StartStarted, nil
}

// consume drains the feed channel into the session's latest-report
// cache until the channel closes or the session stops. Messages update
// the cached payload and counters only; they never move the deadline.
func (b *Bridge) consume(ctx context.Context, s *session, ch <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.markGone(s.deviceID, "feed closed")
				return
			}
			b.mu.Lock()
			if s.state == stateLive {
				s.latest = msg.Payload
				s.latestAt = msg.Received
				if s.latestAt.IsZero() {
					s.latestAt = b.now()
				}
				s.messages++
			}
			b.mu.Unlock()
			metrics.TelemetryMessagesReceived.Inc()
		}
	}
}

// Read returns the latest cached report for a device. A session past
// its deadline reads as gone; reading never extends the deadline.
func (b *Bridge) Read(deviceID string) ReadResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[deviceID]
	if !ok {
		return ReadResult{Status: StatusNotFound}
	}
	now := b.now()
	if s.state == stateGone || !now.Before(s.expiresAt) {
		return ReadResult{Status: StatusGone}
	}

	if s.latest == nil {
		return ReadResult{
			Status:       StatusWaiting,
			TTLRemaining: s.expiresAt.Sub(now),
		}
	}
	return ReadResult{
		Status:       StatusData,
		Payload:      s.latest,
		LastUpdate:   s.latestAt,
		Age:          now.Sub(s.latestAt),
		TTLRemaining: s.expiresAt.Sub(now),
		Messages:     s.messages,
	}
}

// Close ends a device's session. Returns false when no live session
// exists.
func (b *Bridge) Close(deviceID string) bool {
	b.mu.Lock()
	s, ok := b.sessions[deviceID]
	if !ok || s.state != stateLive {
		b.mu.Unlock()
		return false
	}
	b.expireLocked(s)
	b.mu.Unlock()

	logging.Info().Str("device_id", deviceID).Msg("Telemetry session closed")
	return true
}

// markGone transitions a live session to gone from the consume
// goroutine.
func (b *Bridge) markGone(deviceID, reason string) {
	b.mu.Lock()
	s, ok := b.sessions[deviceID]
	if !ok || s.state != stateLive {
		b.mu.Unlock()
		return
	}
	b.expireLocked(s)
	b.mu.Unlock()

	logging.Warn().Str("device_id", deviceID).Str("reason", reason).Msg("Telemetry session ended")
}

// expireLocked stops a live session and leaves a gone tombstone so
// later reads distinguish "expired" from "never started". Caller holds
// the mutex.
func (b *Bridge) expireLocked(s *session) {
	s.state = stateGone
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	metrics.TelemetrySessionsActive.Dec()
}

// Sweep removes live sessions past their deadline and drops gone
// tombstones. A swept session reads as not-found afterwards. Returns
// the number of live sessions expired.
func (b *Bridge) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	expired := 0
	for deviceID, s := range b.sessions {
		switch s.state {
		case stateLive:
			if !now.Before(s.expiresAt) {
				b.expireLocked(s)
				delete(b.sessions, deviceID)
				expired++
				metrics.TelemetrySessionsExpired.Inc()
				logging.Info().Str("device_id", deviceID).Dur("lifetime", now.Sub(s.startedAt)).Msg("Telemetry session expired")
			}
		case stateGone:
			delete(b.sessions, deviceID)
		}
	}
	return expired
}

// Shutdown stops every live session.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		if s.state == stateLive {
			b.expireLocked(s)
		}
	}
}

// Sessions lists current sessions for the admin surface.
func (b *Bridge) Sessions() []models.TelemetrySessionView {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]models.TelemetrySessionView, 0, len(b.sessions))
	for _, s := range b.sessions {
		state := "live"
		if s.state == stateGone {
			state = "gone"
		}
		views = append(views, models.TelemetrySessionView{
			DeviceID:  s.deviceID,
			State:     state,
			StartedAt: s.startedAt,
			ExpiresAt: s.expiresAt,
			Messages:  s.messages,
		})
	}
	return views
}
