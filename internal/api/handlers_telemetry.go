// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bambugate/internal/ratelimit"
	"github.com/tomtom215/bambugate/internal/sanitize"
	"github.com/tomtom215/bambugate/internal/telemetry"
)

// telemetryRequest carries the validated path parameters of the
// telemetry endpoints.
type telemetryRequest struct {
	DeviceID string `validate:"required,max=64,printascii"`
}

// telemetryDevice validates and returns the device ID from the URL,
// writing a 400 when it is malformed.
func telemetryDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := telemetryRequest{DeviceID: chi.URLParam(r, "device_id")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return "", false
	}
	return req.DeviceID, true
}

// TelemetryStart opens (or extends) a telemetry session for a device.
// This is a POST but stays allowed in strict mode: it creates gateway
// state only and never writes through to the vendor.
func (h *Handler) TelemetryStart(w http.ResponseWriter, r *http.Request) {
	customToken, realToken, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	deviceID, ok := telemetryDevice(w, r)
	if !ok {
		return
	}

	if d := h.limiter.Allow(customToken, ratelimit.ClassDefault); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	status, err := h.bridge.Start(r.Context(), deviceID, realToken)
	if err != nil {
		msg, _ := sanitize.Sanitize(err.Error(), customToken).(string)
		respondError(w, http.StatusBadGateway, "API_ERROR", msg, nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"status":    status,
	})
}

// TelemetryRead returns the most recent report for a device session.
// Status codes distinguish the session lifecycle: 200 with data, 202
// while waiting for the first report, 404 when no session exists, and
// 410 once a session has expired or been closed.
func (h *Handler) TelemetryRead(w http.ResponseWriter, r *http.Request) {
	customToken, _, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	deviceID, ok := telemetryDevice(w, r)
	if !ok {
		return
	}

	if d := h.limiter.Allow(customToken, ratelimit.ClassDefault); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	result := h.bridge.Read(deviceID)
	switch result.Status {
	case telemetry.StatusData:
		respondSuccess(w, http.StatusOK, map[string]interface{}{
			"device_id":     deviceID,
			"payload":       sanitize.Sanitize(result.Payload, customToken),
			"last_update":   result.LastUpdate,
			"age_seconds":   result.Age.Seconds(),
			"ttl_seconds":   result.TTLRemaining.Seconds(),
			"message_count": result.Messages,
		})
	case telemetry.StatusWaiting:
		respondSuccess(w, http.StatusAccepted, map[string]interface{}{
			"device_id": deviceID,
			"status":    "waiting",
		})
	case telemetry.StatusGone:
		respondError(w, http.StatusGone, "SESSION_GONE", "telemetry session has expired or was closed", nil)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no telemetry session for device", nil)
	}
}

// TelemetryStop closes a device's telemetry session.
func (h *Handler) TelemetryStop(w http.ResponseWriter, r *http.Request) {
	customToken, _, ok := h.resolveToken(w, r)
	if !ok {
		return
	}

	deviceID, ok := telemetryDevice(w, r)
	if !ok {
		return
	}

	if d := h.limiter.Allow(customToken, ratelimit.ClassDefault); !d.Allowed {
		h.respondRateLimited(w, d)
		return
	}

	if !h.bridge.Close(deviceID) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no telemetry session for device", nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"status":    "closed",
	})
}
