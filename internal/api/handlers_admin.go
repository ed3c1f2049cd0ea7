// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package api

import (
	"net/http"

	"github.com/tomtom215/bambugate/internal/ratelimit"
)

// AdminTokens lists the configured custom tokens with their vendor
// credentials masked. Raw vendor tokens never appear in this listing.
func (h *Handler) AdminTokens(w http.ResponseWriter, r *http.Request) {
	customToken, _, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	if d := h.limiter.Allow(customToken, ratelimit.ClassAdmin); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	respondSuccess(w, http.StatusOK, h.vault.List())
}

// AdminSessions lists the live and recently expired telemetry
// sessions with their activity counters.
func (h *Handler) AdminSessions(w http.ResponseWriter, r *http.Request) {
	customToken, _, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	if d := h.limiter.Allow(customToken, ratelimit.ClassAdmin); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	sessions := h.bridge.Sessions()
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"total":    len(sessions),
		"sessions": sessions,
	})
}
