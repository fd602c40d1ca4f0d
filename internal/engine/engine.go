package engine

import (
	"context"
	"sync"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
	"go.uber.org/zap"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	// defaultRefreshInterval paces the periodic re-list of the persisted
	// stroke log. The hub drops events on full buffers, so an insert
	// notification can be lost; re-listing repairs the gap because folding
	// an already-seen stroke back in is a no-op.
	defaultRefreshInterval = 5 * time.Second
)

// Channel is the room-scoped transport the engine attaches to.
type Channel interface {
	Subscribe(ctx context.Context) *broadcast.Subscription
	Publish(broadcast.Event)
	PresenceState() []broadcast.PresenceRecord
}

// StrokeStore is the durable stroke log the engine reads from and appends to.
type StrokeStore interface {
	SubmitStroke(ctx context.Context, req strokes.SubmitRequest) (strokes.Stroke, error)
	ListStrokes(ctx context.Context) ([]strokes.Stroke, error)
}

// RenderModel is the consistent view handed to rendering: the merged stroke
// set, visible remote cursors, and the online-user count. Version increases
// on every state change so a renderer can skip unchanged frames.
type RenderModel struct {
	Version     uint64
	Strokes     []RenderStroke
	Cursors     []Cursor
	OnlineUsers int
}

// Config describes the engine's collaborators and identity.
type Config struct {
	Identity        Identity
	Channel         Channel
	Store           StrokeStore
	Clock           func() time.Time
	IDProvider      strokes.IDProvider
	Logger          *zap.Logger
	TickInterval    time.Duration
	RefreshInterval time.Duration
}

// Engine merges local optimistic drawing state, the persisted stroke log,
// and the live broadcast channel into one deterministic render model. All
// view state is owned here and mutated only by event handling and the
// periodic tick; a single mutex covers the hub goroutine and the ticker.
type Engine struct {
	identity        Identity
	channel         Channel
	store           StrokeStore
	clock           func() time.Time
	logger          *zap.Logger
	tickInterval    time.Duration
	refreshInterval time.Duration
	relay           *Relay
	input           *InputCapture
	runCtx          context.Context

	mu          sync.Mutex
	reconciler  *Reconciler
	cursors     *CursorTracker
	throttle    sendThrottle
	onlineUsers int
	version     uint64
}

// New validates the configuration and constructs an engine.
func New(cfg Config) (*Engine, error) {
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
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	refreshInterval := cfg.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}

	e := &Engine{
		identity:        cfg.Identity,
		channel:         cfg.Channel,
		store:           cfg.Store,
		clock:           clock,
		logger:          logger,
		tickInterval:    tickInterval,
		refreshInterval: refreshInterval,
		runCtx:          context.Background(),
		reconciler:      NewReconciler(cfg.Identity.UserID),
		cursors:         NewCursorTracker(cfg.Identity.UserID),
		throttle:        sendThrottle{interval: cursorSendInterval},
	}

	relay, err := NewRelay(RelayConfig{
		Channel:     cfg.Channel,
		Store:       cfg.Store,
		Predictions: e,
		Identity:    cfg.Identity,
		Clock:       clock,
		IDProvider:  cfg.IDProvider,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	e.relay = relay

	e.input = NewInputCapture(InputHandlers{
		OnProgress: func(points []strokes.Point) {
			e.relay.SendProgress(points, cfg.Identity.UserColor)
		},
		OnStrokeComplete: func(points []strokes.Point) {
			e.relay.CompleteDraw(e.runCtx, points)
		},
		OnTextAdd: func(text string, position strokes.Point) {
			e.relay.CompleteText(e.runCtx, text, position)
		},
	})

	return e, nil
}

// Input exposes the pointer capture feeding this engine.
func (e *Engine) Input() *InputCapture {
	return e.input
}

// SetPrompt installs the synchronous text-acquisition step for the text tool.
func (e *Engine) SetPrompt(prompt func() (string, bool)) {
	e.input.handlers.Prompt = prompt
}

// Run subscribes to the room, publishes the local presence record, loads the
// persisted stroke log, and processes events until the context is cancelled.
// Cancellation synchronously removes the presence registration and stops the
// single tick source driving every expiry window.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	subscription := e.channel.Subscribe(ctx)
	defer subscription.Close()

	subscription.Track(broadcast.PresenceRecord{
		UserID:    e.identity.UserID,
		UserName:  e.identity.UserName,
		UserColor: e.identity.UserColor,
		OnlineAt:  e.clock().UTC(),
	})

	// The initial load must not block input handling; rendering falls back
	// to whatever was last reconciled until it lands.
	go e.refreshPersisted(ctx)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	refresher := time.NewTicker(e.refreshInterval)
	defer refresher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-subscription.Done():
			return nil
		case event := <-subscription.Events():
			e.dispatch(event)
		case <-ticker.C:
			e.tick(e.clock())
		case <-refresher.C:
			// Repairs insert notifications lost to the channel's
			// drop-on-full delivery.
			go e.refreshPersisted(ctx)
		}
	}
}

func (e *Engine) refreshPersisted(ctx context.Context) {
	listed, err := e.store.ListStrokes(ctx)
	if err != nil {
		e.logger.Warn("persisted stroke load failed", zap.Error(err))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciler.OnPersistedStrokes(listed, e.clock())
	e.version++
}

func (e *Engine) dispatch(event broadcast.Event) {
	switch event.Type {
	case broadcast.EventCursor:
		var payload broadcast.CursorPayload
		if err := event.DecodePayload(&payload); err != nil {
			e.logger.Warn("cursor event ignored", zap.Error(err))
			return
		}
		e.mu.Lock()
		if e.cursors.Observe(payload) {
			e.version++
		}
		e.mu.Unlock()
	case broadcast.EventDrawing:
		var payload broadcast.DrawingPayload
		if err := event.DecodePayload(&payload); err != nil {
			e.logger.Warn("drawing event ignored", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.reconciler.OnDrawingProgress(payload, e.clock())
		e.version++
		e.mu.Unlock()
	case broadcast.EventDrawingComplete:
		var payload broadcast.DrawingCompletePayload
		if err := event.DecodePayload(&payload); err != nil {
			e.logger.Warn("drawing completion ignored", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.reconciler.OnDrawingComplete(payload.UserID, e.clock())
		e.version++
		e.mu.Unlock()
	case broadcast.EventStrokeInsert:
		var payload broadcast.StrokeInsertPayload
		if err := event.DecodePayload(&payload); err != nil {
			e.logger.Warn("stroke insert ignored", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.reconciler.OnStrokeInserted(payload.Stroke, e.clock())
		e.version++
		e.mu.Unlock()
	case broadcast.EventPresenceSync, broadcast.EventPresenceJoin, broadcast.EventPresenceLeave:
		var payload broadcast.PresencePayload
		if err := event.DecodePayload(&payload); err != nil {
			e.logger.Warn("presence event ignored", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.onlineUsers = len(payload.Records)
		e.version++
		e.mu.Unlock()
	}
}

func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciler.Tick(now)
	e.cursors.Tick(now)
	e.version++
}

// AddLocalPrediction records an optimistic stroke on behalf of the relay.
func (e *Engine) AddLocalPrediction(stroke strokes.Stroke, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciler.AddPrediction(stroke, now)
	e.version++
}

// SendCursorPosition broadcasts the local pointer position, throttled to one
// send per 100ms. Dropped requests are not queued.
func (e *Engine) SendCursorPosition(x, y float64) {
	now := e.clock()
	e.mu.Lock()
	allowed := e.throttle.allow(now)
	e.mu.Unlock()
	if !allowed {
		return
	}
	event, err := broadcast.NewEvent(broadcast.EventCursor, broadcast.CursorPayload{
		UserID:    e.identity.UserID,
		UserName:  e.identity.UserName,
		Color:     e.identity.UserColor,
		X:         x,
		Y:         y,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		e.logger.Warn("cursor encode failed", zap.Error(err))
		return
	}
	e.channel.Publish(event)
}

// RenderModel snapshots the current merged view.
func (e *Engine) RenderModel() RenderModel {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()
	return RenderModel{
		Version:     e.version,
		Strokes:     e.reconciler.RenderStrokes(now),
		Cursors:     e.cursors.Cursors(),
		OnlineUsers: e.onlineUsers,
	}
}
