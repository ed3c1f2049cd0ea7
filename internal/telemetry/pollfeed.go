// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bambugate/internal/bambu"
	"github.com/tomtom215/bambugate/internal/logging"
)

// PollFeed implements Feed by polling the vendor's print status
// endpoint. It is the default feed transport: every printer bound to
// the account reports through one HTTP endpoint, so a modest poll
// interval covers all sessions without a broker connection.
type PollFeed struct {
	client   *bambu.Client
	interval time.Duration
}

// NewPollFeed creates a PollFeed. A non-positive interval falls back
// to 5 seconds.
func NewPollFeed(client *bambu.Client, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollFeed{
		client:   client,
		interval: interval,
	}
}

// Subscribe starts a polling loop for one device. The account UID is
// resolved up front, which both validates the token and identifies the
// feed client to the vendor; a dead token fails the Start instead of
// producing a silently empty session. The first poll runs immediately
// so a live device produces a report without waiting a full interval.
func (f *PollFeed) Subscribe(ctx context.Context, deviceID, token string) (<-chan Message, func(), error) {
	uid, err := f.client.GetUserUID(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("could not resolve account uid: %w", err)
	}
	logging.Debug().Str("device_id", deviceID).Str("uid", uid).Msg("Telemetry feed subscribing")

	if _, err := f.fetch(ctx, deviceID, token); err != nil {
		return nil, nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan Message, 16)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		f.poll(loopCtx, deviceID, token, ch)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				f.poll(loopCtx, deviceID, token, ch)
			}
		}
	}()

	return ch, cancel, nil
}

// poll fetches the device status and forwards it without blocking; a
// slow consumer drops the report rather than stalling the loop.
func (f *PollFeed) poll(ctx context.Context, deviceID, token string, ch chan<- Message) {
	payload, err := f.fetch(ctx, deviceID, token)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn().Err(err).Str("device_id", deviceID).Msg("Telemetry poll failed")
		}
		return
	}
	if payload == nil {
		return
	}

	select {
	case ch <- Message{DeviceID: deviceID, Payload: payload, Received: time.Now()}:
	default:
	}
}

// fetch pulls the print status list and extracts the entry for the
// device. Returns nil payload when the device is absent from the
// response.
func (f *PollFeed) fetch(ctx context.Context, deviceID, token string) (map[string]interface{}, error) {
	resp, err := f.client.Do(ctx, bambu.Request{
		Method: http.MethodGet,
		Path:   "/v1/iot-service/api/user/print",
		Query:  url.Values{"force": {"true"}},
		Token:  token,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("print status returned %d", resp.StatusCode)
	}

	var status struct {
		Devices []map[string]interface{} `json:"devices"`
	}
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode print status: %w", err)
	}

	for _, dev := range status.Devices {
		if id, ok := dev["dev_id"].(string); ok && id == deviceID {
			return dev, nil
		}
	}
	return nil, nil
}
