// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package telemetry

import (
	"context"
	"time"
)

// Message is one telemetry report from a device.
type Message struct {
	DeviceID string
	Payload  map[string]interface{}
	Received time.Time
}

// Feed delivers device telemetry. Subscribe returns a channel of
// messages for the device plus a stop function that releases the
// subscription. The channel is closed when the feed loses the device
// or the stop function runs. The token is the vendor access token of
// the account that owns the device.
//
// The concrete transport lives behind this interface so the bridge and
// its tests never touch the network.
type Feed interface {
	Subscribe(ctx context.Context, deviceID, token string) (<-chan Message, func(), error)
}
