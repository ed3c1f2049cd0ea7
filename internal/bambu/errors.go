// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package bambu

import (
	"errors"
	"fmt"
)

// ErrInvalidToken indicates the vendor rejected the supplied token.
var ErrInvalidToken = errors.New("invalid or expired vendor token")

// APIError reports a vendor API call that returned a non-success
// status. The body is truncated before storage, so Message is safe to
// log.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bambu api error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// AuthError reports a failure in the credential exchange flow.
type AuthError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bambu auth failed during %s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("bambu auth failed during %s: %s", e.Stage, e.Msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
