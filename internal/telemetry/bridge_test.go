// Bambugate - Bambu Lab Cloud API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bambugate

package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/bambugate/internal/config"
)

// fakeFeed is an in-memory Feed for tests.
type fakeFeed struct {
	mu       sync.Mutex
	channels map[string]chan Message
	failFor  map[string]error
	stopped  map[string]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		channels: make(map[string]chan Message),
		failFor:  make(map[string]error),
		stopped:  make(map[string]bool),
	}
}

func (f *fakeFeed) Subscribe(ctx context.Context, deviceID, token string) (<-chan Message, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[deviceID]; err != nil {
		return nil, nil, err
	}
	ch := make(chan Message, 16)
	f.channels[deviceID] = ch
	return ch, func() {
		f.mu.Lock()
		f.stopped[deviceID] = true
		f.mu.Unlock()
	}, nil
}

// publish sends a report with no receive timestamp; the bridge stamps
// it with its own clock.
func (f *fakeFeed) publish(deviceID string, payload map[string]interface{}) {
	f.mu.Lock()
	ch := f.channels[deviceID]
	f.mu.Unlock()
	ch <- Message{DeviceID: deviceID, Payload: payload}
}

func (f *fakeFeed) closeFeed(deviceID string) {
	f.mu.Lock()
	ch := f.channels[deviceID]
	f.mu.Unlock()
	close(ch)
}

func (f *fakeFeed) wasStopped(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[deviceID]
}

func testTelemetryConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:        true,
		SessionTTL:     5 * time.Minute,
		SweepInterval:  time.Minute,
		ConnectTimeout: time.Second,
		MaxSessions:    3,
	}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReadUnknownDevice(t *testing.T) {
	t.Parallel()

	b := NewBridge(newFakeFeed(), testTelemetryConfig())
	if got := b.Read("unknown"); got.Status != StatusNotFound {
		t.Errorf("Status = %v, want NotFound", got.Status)
	}
}

func TestStartThenWaitingThenData(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := b.Read("dev-1"); got.Status != StatusWaiting {
		t.Fatalf("Status = %v before first report, want Waiting", got.Status)
	}

	feed.publish("dev-1", map[string]interface{}{"nozzle_temper": 210.5})

	waitFor(t, func() bool { return b.Read("dev-1").Status == StatusData })

	got := b.Read("dev-1")
	if got.Payload["nozzle_temper"] != 210.5 {
		t.Errorf("Payload = %v", got.Payload)
	}
	if got.LastUpdate.IsZero() {
		t.Error("LastUpdate not set")
	}
}

func TestLatestReportWins(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	feed.publish("dev-1", map[string]interface{}{"seq": float64(1)})
	feed.publish("dev-1", map[string]interface{}{"seq": float64(2)})

	waitFor(t, func() bool {
		r := b.Read("dev-1")
		return r.Status == StatusData && r.Payload["seq"] == float64(2)
	})
}

func TestStartIdempotentWhileLive(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	status, err := b.Start(context.Background(), "dev-1", "real-token")
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if status != StartStarted {
		t.Errorf("first Start status = %q, want started", status)
	}

	status, err = b.Start(context.Background(), "dev-1", "real-token")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if status != StartExtended {
		t.Errorf("second Start status = %q, want extended", status)
	}

	if len(b.Sessions()) != 1 {
		t.Errorf("expected 1 session, got %d", len(b.Sessions()))
	}
}

func TestStartRespectsSessionLimit(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	for _, dev := range []string{"dev-1", "dev-2", "dev-3"} {
		if _, err := b.Start(context.Background(), dev, "real-token"); err != nil {
			t.Fatalf("Start %s failed: %v", dev, err)
		}
	}
	if _, err := b.Start(context.Background(), "dev-4", "real-token"); err == nil {
		t.Error("expected session limit error")
	}
}

func TestStartFeedFailure(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	feed.failFor["dev-broken"] = errors.New("device offline")
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-broken", "real-token"); err == nil {
		t.Error("expected subscribe error")
	}
	if got := b.Read("dev-broken"); got.Status != StatusNotFound {
		t.Errorf("failed start should leave no session, got %v", got.Status)
	}
}

func TestCloseMakesSessionGone(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !b.Close("dev-1") {
		t.Fatal("Close returned false for live session")
	}
	if got := b.Read("dev-1"); got.Status != StatusGone {
		t.Errorf("Status = %v after close, want Gone", got.Status)
	}
	if !feed.wasStopped("dev-1") {
		t.Error("feed subscription not released on close")
	}
	if b.Close("dev-1") {
		t.Error("second Close should return false")
	}
}

func TestFeedClosureMakesSessionGone(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	feed.closeFeed("dev-1")

	waitFor(t, func() bool { return b.Read("dev-1").Status == StatusGone })
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Within TTL: sweep keeps the session.
	now = now.Add(time.Minute)
	if expired := b.Sweep(); expired != 0 {
		t.Errorf("Sweep expired %d sessions early", expired)
	}

	// Past the deadline but before the sweeper runs: reads see Gone.
	now = now.Add(10 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusGone {
		t.Errorf("Status = %v past deadline, want Gone", got.Status)
	}

	// One sweep removes it, a later read sees NotFound.
	if expired := b.Sweep(); expired != 1 {
		t.Errorf("Sweep = %d, want 1", expired)
	}
	if got := b.Read("dev-1"); got.Status != StatusNotFound {
		t.Errorf("Status = %v after sweep, want NotFound", got.Status)
	}
	if !feed.wasStopped("dev-1") {
		t.Error("feed subscription not released on expiry")
	}
}

func TestReadDoesNotExtendTTL(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Reading every 4 minutes must not keep the 5 minute session alive
	// past its deadline.
	now = now.Add(4 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusWaiting {
		t.Fatalf("Status = %v before deadline, want Waiting", got.Status)
	}
	if expired := b.Sweep(); expired != 0 {
		t.Fatal("session expired before its deadline")
	}

	now = now.Add(4 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusGone {
		t.Errorf("Status = %v past deadline, want Gone", got.Status)
	}
	if expired := b.Sweep(); expired != 1 {
		t.Errorf("Sweep = %d, want 1", expired)
	}
}

func TestStartExtendsDeadline(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A second start before the deadline buys a full TTL from now.
	now = now.Add(4 * time.Minute)
	status, err := b.Start(context.Background(), "dev-1", "real-token")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if status != StartExtended {
		t.Fatalf("status = %q, want extended", status)
	}

	now = now.Add(4 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusWaiting {
		t.Errorf("Status = %v within extended window, want Waiting", got.Status)
	}
	now = now.Add(2 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusGone {
		t.Errorf("Status = %v past extended deadline, want Gone", got.Status)
	}
}

func TestFeedMessagesDoNotExtendDeadline(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	var mu sync.Mutex
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	feed.publish("dev-1", map[string]interface{}{"seq": float64(1)})
	waitFor(t, func() bool { return b.Read("dev-1").Status == StatusData })

	advance(4 * time.Minute)
	feed.publish("dev-1", map[string]interface{}{"seq": float64(2)})
	waitFor(t, func() bool { return b.Read("dev-1").Payload["seq"] == float64(2) })

	advance(2 * time.Minute)
	if got := b.Read("dev-1"); got.Status != StatusGone {
		t.Errorf("Status = %v past deadline, want Gone", got.Status)
	}
}

func TestReadReportsAgeAndRemainingTTL(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	var mu sync.Mutex
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	feed.publish("dev-1", map[string]interface{}{"seq": float64(1)})
	waitFor(t, func() bool { return b.Read("dev-1").Status == StatusData })

	advance(2 * time.Minute)
	got := b.Read("dev-1")
	if got.Messages != 1 {
		t.Errorf("Messages = %d, want 1", got.Messages)
	}
	if got.Age != 2*time.Minute {
		t.Errorf("Age = %v, want 2m", got.Age)
	}
	if got.TTLRemaining != 3*time.Minute {
		t.Errorf("TTLRemaining = %v, want 3m", got.TTLRemaining)
	}
}

func TestExpiredDeviceCanRestart(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b.Close("dev-1")

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := b.Read("dev-1"); got.Status != StatusWaiting {
		t.Errorf("Status = %v after restart, want Waiting", got.Status)
	}
}

func TestShutdownStopsAllSessions(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	for _, dev := range []string{"dev-1", "dev-2"} {
		if _, err := b.Start(context.Background(), dev, "real-token"); err != nil {
			t.Fatalf("Start %s failed: %v", dev, err)
		}
	}
	b.Shutdown()

	for _, dev := range []string{"dev-1", "dev-2"} {
		if got := b.Read(dev); got.Status != StatusGone {
			t.Errorf("%s Status = %v after shutdown, want Gone", dev, got.Status)
		}
		if !feed.wasStopped(dev) {
			t.Errorf("%s subscription not released", dev)
		}
	}
}

func TestSessionsView(t *testing.T) {
	t.Parallel()

	feed := newFakeFeed()
	b := NewBridge(feed, testTelemetryConfig())

	if _, err := b.Start(context.Background(), "dev-1", "real-token"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	feed.publish("dev-1", map[string]interface{}{"seq": float64(1)})
	waitFor(t, func() bool { return b.Read("dev-1").Status == StatusData })

	views := b.Sessions()
	if len(views) != 1 {
		t.Fatalf("got %d views", len(views))
	}
	v := views[0]
	if v.DeviceID != "dev-1" || v.State != "live" || v.Messages != 1 {
		t.Errorf("unexpected view: %+v", v)
	}
}
