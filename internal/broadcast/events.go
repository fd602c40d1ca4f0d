package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/strokes"
)

// Event types carried over a room channel. All payloads are transient; the
// hub never persists them.
const (
	EventCursor          = "cursor"
	EventDrawing         = "drawing"
	EventDrawingComplete = "drawing-complete"
	EventStrokeInsert    = "stroke-insert"
	EventPresenceSync    = "sync"
	EventPresenceJoin    = "join"
	EventPresenceLeave   = "leave"
)

// Event is the envelope delivered to every room subscriber.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CursorPayload reports a user's pointer position in screen coordinates.
type CursorPayload struct {
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	Color     string  `json:"color"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// DrawingPayload carries the latest point set of an in-flight stroke.
type DrawingPayload struct {
	UserID string          `json:"userId"`
	Points []strokes.Point `json:"points"`
	Color  string          `json:"color"`
}

// DrawingCompletePayload signals that a user finished their current stroke.
type DrawingCompletePayload struct {
	UserID string `json:"userId"`
}

// StrokeInsertPayload announces a newly persisted stroke.
type StrokeInsertPayload struct {
	Stroke strokes.Stroke `json:"stroke"`
}

// PresenceRecord is one entry in a room's shared presence registry.
type PresenceRecord struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserColor string    `json:"user_color"`
	OnlineAt  time.Time `json:"online_at"`
}

// PresencePayload carries the full registry state on sync/join/leave events.
type PresencePayload struct {
	Records []PresenceRecord `json:"records"`
}

// NewEvent marshals a payload into an event envelope.
func NewEvent(eventType string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("broadcast: encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: encoded}, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e Event) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("broadcast: event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("broadcast: decode %s payload: %w", e.Type, err)
	}
	return nil
}
