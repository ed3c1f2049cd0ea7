// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bambugate/internal/bambu"
	"github.com/tomtom215/bambugate/internal/logging"
	"github.com/tomtom215/bambugate/internal/models"
	"github.com/tomtom215/bambugate/internal/ratelimit"
	"github.com/tomtom215/bambugate/internal/sanitize"
)

// maxProxyBodySize caps forwarded request bodies. The vendor API has
// no endpoint that legitimately takes more than a few KB of JSON.
const maxProxyBodySize = 1 << 20 // 1MB

// classifyPath maps a vendor path to its admission class. Account and
// profile endpoints draw from the stricter user budget because the
// vendor bans accounts that hammer them.
func classifyPath(path string) ratelimit.Class {
	if strings.Contains(path, "user-service") || strings.Contains(path, "design-user-service") {
		return ratelimit.ClassUser
	}
	return ratelimit.ClassDefault
}

// Proxy forwards a request to the vendor API after authenticating the
// caller's custom token and checking its admission budget. Responses
// are sanitized before they reach the caller.
//
// In strict mode only GET passes through; other methods are rejected
// before token resolution so probing with an unknown token learns
// nothing about write paths.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Gateway.Strict() && r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("method %s not allowed in strict mode, allowed: GET", r.Method), nil)
		return
	}

	customToken, realToken, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	class := classifyPath(r.URL.Path)
	if d := h.limiter.Allow(customToken, class); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxProxyBodySize+1))
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read request body", err)
			return
		}
		if len(body) > maxProxyBodySize {
			respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "request body too large", nil)
			return
		}
	}

	h.forward(w, r, customToken, realToken, body)
}

// forward performs the vendor call and writes the sanitized result.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, customToken, realToken string, body []byte) {
	resp, err := h.client.Do(r.Context(), bambuRequest(r, realToken, body))
	if err != nil {
		logging.Warn().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Err(err).
			Msg("Vendor request failed")
		msg, _ := sanitize.Sanitize(err.Error(), customToken).(string)
		respondError(w, http.StatusBadGateway, "API_ERROR", msg, nil)
		return
	}

	if len(resp.Body) == 0 {
		w.WriteHeader(resp.StatusCode)
		return
	}

	var parsed interface{}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		// Non-JSON upstream body: pass through as-is after string
		// masking so tokens never leak through error pages.
		masked, _ := sanitize.Sanitize(string(resp.Body), customToken).(string)
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write([]byte(masked)); err != nil {
			logging.Error().Err(err).Msg("Failed to write proxied response")
		}
		return
	}

	clean := sanitize.Sanitize(parsed, customToken)
	data, err := json.Marshal(clean)
	if err != nil {
		respondError(w, http.StatusBadGateway, "API_ERROR", "failed to encode upstream response", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write proxied response")
	}
}

// bambuRequest translates an inbound request into a vendor API call.
func bambuRequest(r *http.Request, token string, body []byte) bambu.Request {
	req := bambu.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Token:  token,
	}
	if len(body) > 0 {
		req.RawBody = body
	}
	return req
}

// resolveToken authenticates the caller's bearer token against the
// vault. Unknown tokens are rejected without contacting the vendor.
// On failure the error response has already been written.
func (h *Handler) resolveToken(w http.ResponseWriter, r *http.Request) (custom, real string, ok bool) {
	custom = bearerToken(r)
	if custom == "" {
		respondError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header with bearer token required", nil)
		return "", "", false
	}

	real, valid := h.vault.Validate(custom)
	if !valid {
		logging.Warn().
			Str("token", sanitize.MaskToken(custom)).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Msg("Rejected unknown token")
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "token not recognized", nil)
		return "", "", false
	}
	return custom, real, true
}

// respondRateLimited writes a 429 with Retry-After advice.
func (h *Handler) respondRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retryAfter := int(d.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	respondJSON(w, http.StatusTooManyRequests, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    "RATE_LIMIT_EXCEEDED",
			Message: fmt.Sprintf("Rate limit exceeded, retry after %ds", retryAfter),
			Details: map[string]interface{}{
				"retry_after": retryAfter,
				"limit":       d.Limit,
			},
		},
	})
}
