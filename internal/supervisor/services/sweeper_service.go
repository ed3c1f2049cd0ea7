// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package services

import (
	"context"
	"time"

	"github.com/tomtom215/bambugate/internal/logging"
)

// SessionSweeper expires idle telemetry sessions. Satisfied by
// *telemetry.Bridge.
type SessionSweeper interface {
	Sweep() int
}

// WindowPruner drops stale rate limit windows. Satisfied by
// *ratelimit.Controller.
type WindowPruner interface {
	Prune() int
}

// SweeperService periodically sweeps telemetry sessions and prunes
// rate limit state. Both collections grow with caller activity and
// shrink only here.
type SweeperService struct {
	sessions SessionSweeper
	windows  WindowPruner
	interval time.Duration
	name     string
}

// NewSweeperService creates a sweeper running at the given interval.
func NewSweeperService(sessions SessionSweeper, windows WindowPruner, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweeperService{
		sessions: sessions,
		windows:  windows,
		interval: interval,
		name:     "sweeper",
	}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired := s.sessions.Sweep()
			pruned := s.windows.Prune()
			if expired > 0 || pruned > 0 {
				logging.Debug().
					Int("sessions_expired", expired).
					Int("windows_pruned", pruned).
					Msg("Sweep complete")
			}
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (s *SweeperService) String() string {
	return s.name
}
