package engine

import (
	"testing"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
)

func cursorPayload(userID string, at time.Time) broadcast.CursorPayload {
	return broadcast.CursorPayload{
		UserID:    userID,
		UserName:  "Remote",
		Color:     "#FF6B6B",
		X:         12,
		Y:         34,
		Timestamp: at.UnixMilli(),
	}
}

func TestCursorTrackerDecay(t *testing.T) {
	tracker := NewCursorTracker("local-user")
	now := reconcilerEpoch

	if !tracker.Observe(cursorPayload("remote-user", now)) {
		t.Fatalf("expected remote cursor to be tracked")
	}

	tracker.Tick(now.Add(2999 * time.Millisecond))
	if listed := tracker.Cursors(); len(listed) != 1 {
		t.Fatalf("expected cursor present before expiry, got %d", len(listed))
	}

	tracker.Tick(now.Add(3001 * time.Millisecond))
	if listed := tracker.Cursors(); len(listed) != 0 {
		t.Fatalf("expected cursor removed after expiry, got %d", len(listed))
	}
}

func TestCursorTrackerRefreshPreventsRemoval(t *testing.T) {
	tracker := NewCursorTracker("local-user")
	now := reconcilerEpoch

	tracker.Observe(cursorPayload("remote-user", now))
	tracker.Observe(cursorPayload("remote-user", now.Add(2*time.Second)))

	tracker.Tick(now.Add(4 * time.Second))
	if listed := tracker.Cursors(); len(listed) != 1 {
		t.Fatalf("expected refreshed cursor to survive, got %d", len(listed))
	}
}

func TestCursorTrackerExcludesLocalUser(t *testing.T) {
	tracker := NewCursorTracker("local-user")
	now := reconcilerEpoch

	if tracker.Observe(cursorPayload("local-user", now)) {
		t.Fatalf("expected local cursor event to be ignored")
	}
	if tracker.Observe(cursorPayload("", now)) {
		t.Fatalf("expected anonymous cursor event to be ignored")
	}
	if listed := tracker.Cursors(); len(listed) != 0 {
		t.Fatalf("expected empty cursor set, got %d", len(listed))
	}
}

func TestCursorTrackerOrderedByUserID(t *testing.T) {
	tracker := NewCursorTracker("local-user")
	now := reconcilerEpoch

	tracker.Observe(cursorPayload("user-b", now))
	tracker.Observe(cursorPayload("user-a", now))

	listed := tracker.Cursors()
	if len(listed) != 2 || listed[0].UserID != "user-a" || listed[1].UserID != "user-b" {
		t.Fatalf("expected cursors ordered by user id, got %+v", listed)
	}
}

func TestSendThrottleDropsInsideWindow(t *testing.T) {
	throttle := sendThrottle{interval: cursorSendInterval}
	now := reconcilerEpoch

	if !throttle.allow(now) {
		t.Fatalf("expected first send to pass")
	}
	if throttle.allow(now.Add(50 * time.Millisecond)) {
		t.Fatalf("expected send inside window to be dropped")
	}
	if !throttle.allow(now.Add(150 * time.Millisecond)) {
		t.Fatalf("expected send after window to pass")
	}
	// Dropped sends are not queued: nothing extra fires later.
	if throttle.allow(now.Add(200 * time.Millisecond)) {
		t.Fatalf("expected send inside new window to be dropped")
	}
}
