// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package models

import (
	"time"
)

// APIResponse represents the standardized response wrapper used by all
// gateway-owned HTTP endpoints. Passthrough responses forwarded from
// the vendor are NOT wrapped; this envelope covers health, admin,
// telemetry, and error responses generated by the gateway itself.
//
// Status field values:
//   - "success": Request completed successfully, see Data field
//   - "error": Request failed, see Error field for details
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "RATE_LIMIT_EXCEEDED",
//	    "message": "Rate limit exceeded, retry after 42s",
//	    "details": {"retry_after": 42}
//	  },
//	  "metadata": {"timestamp": "2026-09-01T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError represents an error response with structured details.
//
// Common error codes:
//   - MISSING_TOKEN: No bearer token supplied
//   - INVALID_TOKEN: Bearer token not present in the vault
//   - RATE_LIMIT_EXCEEDED: Per-token admission limit hit
//   - METHOD_NOT_ALLOWED: Unsafe method rejected in strict mode
//   - API_ERROR: Upstream vendor call failed
//   - NOT_FOUND: Resource doesn't exist
//   - VALIDATION_ERROR: Invalid input parameters
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
