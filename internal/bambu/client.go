// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

// Package bambu wraps the Bambu Lab cloud API: a rate-paced,
// circuit-broken HTTP client plus the multi-step credential exchange
// flow (password, email verification code, MFA).
package bambu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/bambugate/internal/config"
	"github.com/tomtom215/bambugate/internal/logging"
	"github.com/tomtom215/bambugate/internal/metrics"
)

// maxErrorBodySize limits how much of an error response body is kept
// for diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// Response is a raw vendor response suitable for passthrough. Body is
// fully read; the caller never touches the network connection.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Cookies parses the Set-Cookie headers of the response.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// Request describes one call to the vendor API.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body, when non-nil, is JSON-encoded into the request body.
	Body interface{}
	// RawBody, when set, is sent verbatim and takes precedence over Body.
	RawBody []byte
	// Token, when set, is sent as a bearer Authorization header.
	Token string
}

// Client is the upstream Bambu Lab cloud API client.
//
// Outbound calls are paced with a token bucket so the gateway as a
// whole stays under the vendor's limits even when many callers are
// admitted, and guarded by a circuit breaker so a vendor outage fails
// fast instead of tying up request goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*Response]
}

// NewClient creates a vendor API client for the given base URL.
func NewClient(baseURL string, cfg config.BambuConfig) *Client {
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "bambu-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.SetBreakerOpen(to == gobreaker.StateOpen)
		},
	})

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		// Pace the whole gateway at 2 req/s toward the vendor with
		// short bursts, comfortably under the published limits.
		limiter: rate.NewLimiter(rate.Limit(2), 10),
		cb:      cb,
	}
}

// BaseURL returns the configured vendor base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs one vendor API call. Vendor-side HTTP errors (4xx/5xx)
// are returned as a Response, not an error; only transport failures
// and breaker rejections produce an error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate pacing interrupted: %w", err)
	}

	return c.cb.Execute(func() (*Response, error) {
		return c.execute(ctx, req)
	})
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	endpoint := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var body io.Reader = http.NoBody
	switch {
	case req.RawBody != nil:
		body = bytes.NewReader(req.RawBody)
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	applyDefaultHeaders(httpReq)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordVendorRequest(req.Method, "transport_error", time.Since(start))
		return nil, fmt.Errorf("vendor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordVendorRequest(req.Method, "read_error", time.Since(start))
		return nil, fmt.Errorf("failed to read vendor response: %w", err)
	}
	metrics.RecordVendorRequest(req.Method, strconv.Itoa(resp.StatusCode), time.Since(start))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// postJSON issues a POST with a JSON payload and decodes the response
// body into out when the status is 200. Non-200 statuses become an
// APIError carrying a truncated body excerpt.
func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) (*Response, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Message:    truncateBody(resp.Body),
		}
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp, nil
}

// getJSON issues an authorized GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, path, token string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Token:  token,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", path, ErrInvalidToken)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Message:    truncateBody(resp.Body),
		}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

// truncateBody caps an error body excerpt at maxErrorBodySize.
func truncateBody(body []byte) string {
	if len(body) > maxErrorBodySize {
		return string(body[:maxErrorBodySize]) + "... (truncated)"
	}
	return string(body)
}

// Device is one printer from the account's bind list.
type Device struct {
	DevID          string `json:"dev_id"`
	Name           string `json:"name"`
	Online         bool   `json:"online"`
	DevAccessCode  string `json:"dev_access_code"`
	DevModelName   string `json:"dev_model_name"`
	DevProductName string `json:"dev_product_name"`
}

// GetDevices lists the printers bound to the account.
func (c *Client) GetDevices(ctx context.Context, token string) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.getJSON(ctx, "/v1/iot-service/api/user/bind", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// GetUserUID fetches the account's numeric UID from the preference
// endpoint. The device feed identifies clients as "u_<uid>".
func (c *Client) GetUserUID(ctx context.Context, token string) (string, error) {
	var out struct {
		UID json.Number `json:"uid"`
	}
	if err := c.getJSON(ctx, "/v1/design-user-service/my/preference", token, nil, &out); err != nil {
		return "", err
	}
	if out.UID.String() == "" {
		return "", fmt.Errorf("preference response carried no uid")
	}
	return out.UID.String(), nil
}
