package engine

import (
	"sort"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
)

const (
	// cursorTTL removes a remote cursor after this long without a refresh.
	cursorTTL = 3 * time.Second
	// cursorSendInterval throttles outbound cursor broadcasts. Requests
	// inside the window are dropped, not queued.
	cursorSendInterval = 100 * time.Millisecond
)

// Cursor is the last known pointer position of a remote user.
type Cursor struct {
	UserID    string
	UserName  string
	Color     string
	X         float64
	Y         float64
	UpdatedAt time.Time
}

// CursorTracker maintains the set of currently-visible remote cursors.
// The local user never appears in the set.
type CursorTracker struct {
	localUserID string
	cursors     map[string]Cursor
}

// NewCursorTracker constructs an empty tracker for the given local user.
func NewCursorTracker(localUserID string) *CursorTracker {
	return &CursorTracker{
		localUserID: localUserID,
		cursors:     make(map[string]Cursor),
	}
}

// Observe refreshes the cursor entry for a broadcast event. Events from the
// local user or without a user id are ignored.
func (t *CursorTracker) Observe(payload broadcast.CursorPayload) bool {
	if payload.UserID == "" || payload.UserID == t.localUserID {
		return false
	}
	t.cursors[payload.UserID] = Cursor{
		UserID:    payload.UserID,
		UserName:  payload.UserName,
		Color:     payload.Color,
		X:         payload.X,
		Y:         payload.Y,
		UpdatedAt: time.UnixMilli(payload.Timestamp),
	}
	return true
}

// Tick drops entries whose age, measured from their last update, has passed
// cursorTTL. A refreshed entry is never removed early.
func (t *CursorTracker) Tick(now time.Time) {
	for userID, cursor := range t.cursors {
		if now.Sub(cursor.UpdatedAt) > cursorTTL {
			delete(t.cursors, userID)
		}
	}
}

// Cursors returns the visible cursors ordered by user id.
func (t *CursorTracker) Cursors() []Cursor {
	listed := make([]Cursor, 0, len(t.cursors))
	for _, cursor := range t.cursors {
		listed = append(listed, cursor)
	}
	sort.Slice(listed, func(i, j int) bool {
		return listed[i].UserID < listed[j].UserID
	})
	return listed
}

// sendThrottle admits at most one send per interval; rejected requests are
// dropped and the next natural event gets through instead.
type sendThrottle struct {
	interval time.Duration
	last     time.Time
}

func (t *sendThrottle) allow(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
