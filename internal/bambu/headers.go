// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package bambu

import (
	"net/http"
)

// defaultHeaders mimics a known slicer client. The vendor rejects
// requests that do not carry a plausible X-BBL header set.
var defaultHeaders = map[string]string{
	"User-Agent":            "bambu_network_agent/01.09.05.01",
	"X-BBL-Client-Name":     "OrcaSlicer",
	"X-BBL-Client-Type":     "slicer",
	"X-BBL-Client-Version":  "01.09.05.51",
	"X-BBL-Language":        "en-US",
	"X-BBL-OS-Type":         "linux",
	"X-BBL-OS-Version":      "6.2.0",
	"X-BBL-Agent-Version":   "01.09.05.01",
	"X-BBL-Executable-info": "{}",
	"X-BBL-Agent-OS-Type":   "linux",
	"accept":                "application/json",
	"Content-Type":          "application/json",
}

// applyDefaultHeaders sets the standard client headers on an outbound
// vendor request. Existing values are not overwritten.
func applyDefaultHeaders(req *http.Request) {
	for k, v := range defaultHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}
