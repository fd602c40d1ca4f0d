package engine

import (
	"context"
	"errors"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
	"go.uber.org/zap"
)

var (
	errMissingChannel  = errors.New("engine: broadcast channel is required")
	errMissingStore    = errors.New("engine: stroke store is required")
	errMissingIdentity = errors.New("engine: user identity is required")
)

// Publisher posts events onto the room channel.
type Publisher interface {
	Publish(broadcast.Event)
}

// StrokeSubmitter persists finished strokes.
type StrokeSubmitter interface {
	SubmitStroke(ctx context.Context, req strokes.SubmitRequest) (strokes.Stroke, error)
}

// PredictionSink receives the optimistic record of a just-completed stroke.
type PredictionSink interface {
	AddLocalPrediction(stroke strokes.Stroke, now time.Time)
}

// Identity names the local participant.
type Identity struct {
	UserID    string
	UserName  string
	UserColor string
	SessionID string
}

// Relay broadcasts the local user's in-flight stroke and handles completion:
// optimistic prediction first, then fire-and-forget persistence, then the
// completion broadcast. That order keeps the stroke visible before any
// network round-trip finishes.
type Relay struct {
	channel     Publisher
	store       StrokeSubmitter
	predictions PredictionSink
	identity    Identity
	clock       func() time.Time
	idProvider  strokes.IDProvider
	logger      *zap.Logger
}

// RelayConfig describes the relay's collaborators.
type RelayConfig struct {
	Channel     Publisher
	Store       StrokeSubmitter
	Predictions PredictionSink
	Identity    Identity
	Clock       func() time.Time
	IDProvider  strokes.IDProvider
	Logger      *zap.Logger
}

// NewRelay validates the configuration and constructs a relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Channel == nil {
		return nil, errMissingChannel
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Identity.UserID == "" {
		return nil, errMissingIdentity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = strokes.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		channel:     cfg.Channel,
		store:       cfg.Store,
		predictions: cfg.Predictions,
		identity:    cfg.Identity,
		clock:       clock,
		idProvider:  idProvider,
		logger:      logger,
	}, nil
}

// SendProgress broadcasts the current in-flight point set. Unlike cursor
// updates this is not throttled: visual continuity of the growing stroke on
// remote screens matters more than bandwidth.
func (r *Relay) SendProgress(points []strokes.Point, color string) {
	if len(points) == 0 {
		return
	}
	event, err := broadcast.NewEvent(broadcast.EventDrawing, broadcast.DrawingPayload{
		UserID: r.identity.UserID,
		Points: points,
		Color:  color,
	})
	if err != nil {
		r.logger.Warn("drawing progress encode failed", zap.Error(err))
		return
	}
	r.channel.Publish(event)
}

// CompleteDraw finalizes a drawn stroke: optimistic prediction, async
// persistence, then the completion broadcast.
func (r *Relay) CompleteDraw(ctx context.Context, points []strokes.Point) {
	if len(points) == 0 {
		return
	}
	request := strokes.SubmitRequest{
		UserID:    r.identity.UserID,
		SessionID: r.identity.SessionID,
		Type:      strokes.StrokeTypeDraw,
		Color:     r.identity.UserColor,
		Points:    points,
	}
	r.complete(ctx, request)
	r.sendCompletion()
}

// CompleteText finalizes a placed text label. Text has no in-progress phase,
// so no completion broadcast is sent.
func (r *Relay) CompleteText(ctx context.Context, text string, position strokes.Point) {
	if text == "" {
		return
	}
	anchor := position
	request := strokes.SubmitRequest{
		UserID:    r.identity.UserID,
		SessionID: r.identity.SessionID,
		Type:      strokes.StrokeTypeText,
		Color:     r.identity.UserColor,
		Text:      text,
		Position:  &anchor,
	}
	r.complete(ctx, request)
}

func (r *Relay) complete(ctx context.Context, request strokes.SubmitRequest) {
	now := r.clock()
	if r.predictions != nil {
		localID, err := r.idProvider.NewID()
		if err != nil {
			r.logger.Warn("prediction id generation failed", zap.Error(err))
			localID = "local-" + now.UTC().Format("20060102150405.000000000")
		}
		r.predictions.AddLocalPrediction(strokes.Stroke{
			ID:        "local-" + localID,
			UserID:    request.UserID,
			SessionID: request.SessionID,
			Type:      request.Type,
			Color:     request.Color,
			Points:    request.Points,
			Text:      request.Text,
			Position:  request.Position,
			CreatedAt: now,
		}, now)
	}

	// Fire and forget: the eventual insert notification is what clears the
	// prediction. A failed submission is only logged; the prediction dies by
	// its own expiry. Teardown must not abort an in-flight submission.
	submitCtx := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.store.SubmitStroke(submitCtx, request); err != nil {
			r.logger.Warn("stroke submission failed",
				zap.String("user_id", request.UserID),
				zap.String("type", string(request.Type)),
				zap.Error(err))
		}
	}()
}

func (r *Relay) sendCompletion() {
	event, err := broadcast.NewEvent(broadcast.EventDrawingComplete, broadcast.DrawingCompletePayload{
		UserID: r.identity.UserID,
	})
	if err != nil {
		r.logger.Warn("drawing completion encode failed", zap.Error(err))
		return
	}
	r.channel.Publish(event)
}
