package strokes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StrokeType enumerates the supported stroke payloads.
type StrokeType string

const (
	// StrokeTypeDraw carries an ordered point sequence.
	StrokeTypeDraw StrokeType = "draw"
	// StrokeTypeText carries a text label anchored at a position.
	StrokeTypeText StrokeType = "text"
)

var (
	// ErrMissingFields indicates a submission without the always-required fields.
	ErrMissingFields = errors.New("strokes: missing required fields")
	// ErrInvalidTypePayload indicates a payload that does not match the stroke type.
	ErrInvalidTypePayload = errors.New("strokes: payload does not match stroke type")
	// ErrUnknownStrokeType indicates an unrecognized stroke type token.
	ErrUnknownStrokeType = errors.New("strokes: unknown stroke type")
)

// ParseStrokeType validates a raw type token.
func ParseStrokeType(raw string) (StrokeType, error) {
	switch StrokeType(strings.ToLower(strings.TrimSpace(raw))) {
	case StrokeTypeDraw:
		return StrokeTypeDraw, nil
	case StrokeTypeText:
		return StrokeTypeText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrokeType, raw)
	}
}

// Point is a canvas-space coordinate. Immutable value.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a persisted drawing or text contribution. Immutable once created;
// exactly one of Points or (Text, Position) is populated depending on Type.
type Stroke struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	SessionID string     `json:"session_id"`
	Type      StrokeType `json:"type"`
	Color     string     `json:"color"`
	Points    []Point    `json:"points,omitempty"`
	Text      string     `json:"text,omitempty"`
	Position  *Point     `json:"position,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Record is the storage row backing a Stroke. Point payloads are kept as JSON
// text so the schema stays flat.
type Record struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	SessionID    string    `gorm:"column:session_id;size:190;not null;index"`
	Type         string    `gorm:"column:type;size:16;not null"`
	Color        string    `gorm:"column:color;size:32;not null"`
	PointsJSON   string    `gorm:"column:points_json;type:text"`
	Text         string    `gorm:"column:text;type:text"`
	PositionJSON string    `gorm:"column:position_json;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_strokes_created"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "strokes"
}

// Stroke decodes the row into its domain value.
func (r Record) Stroke() (Stroke, error) {
	stroke := Stroke{
		ID:        r.ID,
		UserID:    r.UserID,
		SessionID: r.SessionID,
		Type:      StrokeType(r.Type),
		Color:     r.Color,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
	if r.PointsJSON != "" {
		if err := json.Unmarshal([]byte(r.PointsJSON), &stroke.Points); err != nil {
			return Stroke{}, fmt.Errorf("strokes: decode points for %s: %w", r.ID, err)
		}
	}
	if r.PositionJSON != "" {
		position := Point{}
		if err := json.Unmarshal([]byte(r.PositionJSON), &position); err != nil {
			return Stroke{}, fmt.Errorf("strokes: decode position for %s: %w", r.ID, err)
		}
		stroke.Position = &position
	}
	return stroke, nil
}

func newRecord(stroke Stroke) (Record, error) {
	record := Record{
		ID:        stroke.ID,
		UserID:    stroke.UserID,
		SessionID: stroke.SessionID,
		Type:      string(stroke.Type),
		Color:     stroke.Color,
		Text:      stroke.Text,
		CreatedAt: stroke.CreatedAt,
	}
	if len(stroke.Points) > 0 {
		encoded, err := json.Marshal(stroke.Points)
		if err != nil {
			return Record{}, fmt.Errorf("strokes: encode points: %w", err)
		}
		record.PointsJSON = string(encoded)
	}
	if stroke.Position != nil {
		encoded, err := json.Marshal(stroke.Position)
		if err != nil {
			return Record{}, fmt.Errorf("strokes: encode position: %w", err)
		}
		record.PositionJSON = string(encoded)
	}
	return record, nil
}

// SubmitRequest describes the input supplied by a client when persisting a stroke.
type SubmitRequest struct {
	UserID    string
	SessionID string
	Type      StrokeType
	Color     string
	Points    []Point
	Text      string
	Position  *Point
}

func (req SubmitRequest) validate() error {
	if strings.TrimSpace(req.UserID) == "" ||
		strings.TrimSpace(req.SessionID) == "" ||
		strings.TrimSpace(req.Color) == "" {
		return ErrMissingFields
	}
	switch req.Type {
	case StrokeTypeDraw:
		if len(req.Points) == 0 {
			return fmt.Errorf("%w: draw requires points", ErrInvalidTypePayload)
		}
	case StrokeTypeText:
		if strings.TrimSpace(req.Text) == "" || req.Position == nil {
			return fmt.Errorf("%w: text requires text and position", ErrInvalidTypePayload)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrokeType, req.Type)
	}
	return nil
}
