package engine

import (
	"sort"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
)

const (
	// predictionTTL bounds how long an unconfirmed local stroke stays visible.
	predictionTTL = 2 * time.Second
	// completionHold keeps a completed remote in-progress stroke rendered
	// until its persisted copy has had a chance to arrive.
	completionHold = 500 * time.Millisecond
	// fadeDuration is how long a newly persisted stroke fades in.
	fadeDuration = 300 * time.Millisecond
	// fadeSuppressWindow is the tie-break window: a persisted stroke whose
	// author's live entry was removed this recently skips the fade.
	fadeSuppressWindow = time.Second
)

// Prediction is a client-local, not-yet-confirmed stroke with a temporary id.
type Prediction struct {
	Stroke    strokes.Stroke
	CreatedAt time.Time
}

type liveStroke struct {
	userID      string
	userName    string
	points      []strokes.Point
	color       string
	completedAt time.Time
}

// Reconciler merges persisted strokes, local predictions, and remote
// in-progress strokes into one ordered render set. It owns the merged view;
// callers mutate it only through the event-handling methods.
type Reconciler struct {
	localUserID string
	persisted   []strokes.Stroke
	seen        map[string]struct{}
	arrivals    map[string]time.Time
	predictions []Prediction
	live        map[string]*liveStroke
	liveRemoved map[string]time.Time
}

// NewReconciler constructs an empty reconciler for the given local user.
func NewReconciler(localUserID string) *Reconciler {
	return &Reconciler{
		localUserID: localUserID,
		seen:        make(map[string]struct{}),
		arrivals:    make(map[string]time.Time),
		live:        make(map[string]*liveStroke),
		liveRemoved: make(map[string]time.Time),
	}
}

// OnPersistedStrokes folds a freshly listed persisted set into the view.
// Already-seen strokes are ignored, so replaying the same list is a no-op and
// the list load may race individual insert notifications.
func (r *Reconciler) OnPersistedStrokes(list []strokes.Stroke, now time.Time) {
	for _, stroke := range list {
		r.admit(stroke, now)
	}
	r.expirePredictions(now)
}

// OnStrokeInserted folds a single insert notification into the view.
func (r *Reconciler) OnStrokeInserted(stroke strokes.Stroke, now time.Time) {
	r.admit(stroke, now)
	r.expirePredictions(now)
}

func (r *Reconciler) admit(stroke strokes.Stroke, now time.Time) {
	if stroke.ID == "" {
		return
	}
	if _, ok := r.seen[stroke.ID]; ok {
		return
	}
	r.seen[stroke.ID] = struct{}{}
	r.persisted = append(r.persisted, stroke)
	// An insert notification can land before older entries from the initial
	// list; keep store creation order either way.
	for i := len(r.persisted) - 1; i > 0; i-- {
		if createdBefore(r.persisted[i], r.persisted[i-1]) {
			r.persisted[i], r.persisted[i-1] = r.persisted[i-1], r.persisted[i]
		} else {
			break
		}
	}

	suppressFade := r.clearMatchingPrediction(stroke)
	if !suppressFade {
		if removedAt, ok := r.liveRemoved[stroke.UserID]; ok && now.Sub(removedAt) <= fadeSuppressWindow {
			suppressFade = true
		}
	}
	if !suppressFade {
		r.arrivals[stroke.ID] = now
	}
}

func createdBefore(a, b strokes.Stroke) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// clearMatchingPrediction drops the first local prediction that structurally
// matches the persisted stroke and reports whether one was found. The match
// is approximate: draw strokes compare by point count, text strokes by text
// and position. The prediction never carries the server-assigned id.
func (r *Reconciler) clearMatchingPrediction(stroke strokes.Stroke) bool {
	if stroke.UserID != r.localUserID {
		return false
	}
	for i, prediction := range r.predictions {
		if prediction.Stroke.Type != stroke.Type {
			continue
		}
		switch stroke.Type {
		case strokes.StrokeTypeDraw:
			if len(prediction.Stroke.Points) != len(stroke.Points) {
				continue
			}
		case strokes.StrokeTypeText:
			if prediction.Stroke.Text != stroke.Text {
				continue
			}
			if prediction.Stroke.Position == nil || stroke.Position == nil {
				continue
			}
			if *prediction.Stroke.Position != *stroke.Position {
				continue
			}
		default:
			continue
		}
		r.predictions = append(r.predictions[:i], r.predictions[i+1:]...)
		return true
	}
	return false
}

// AddPrediction records an optimistic local stroke. Exactly one prediction is
// created per completed local action; it clears on structural match or after
// predictionTTL, whichever comes first.
func (r *Reconciler) AddPrediction(stroke strokes.Stroke, now time.Time) {
	r.predictions = append(r.predictions, Prediction{Stroke: stroke, CreatedAt: now})
}

func (r *Reconciler) expirePredictions(now time.Time) {
	remaining := r.predictions[:0]
	for _, prediction := range r.predictions {
		if now.Sub(prediction.CreatedAt) <= predictionTTL {
			remaining = append(remaining, prediction)
		}
	}
	r.predictions = remaining
}

// OnDrawingProgress replaces the remote user's in-progress entry. Events for
// the local user are ignored.
func (r *Reconciler) OnDrawingProgress(payload broadcast.DrawingPayload, now time.Time) {
	if payload.UserID == "" || payload.UserID == r.localUserID {
		return
	}
	r.live[payload.UserID] = &liveStroke{
		userID: payload.UserID,
		points: payload.Points,
		color:  payload.Color,
	}
}

// OnDrawingComplete starts the grace-removal timer for the user's in-progress
// entry. The entry stays rendered for completionHold so the persisted copy
// can arrive without a visible gap.
func (r *Reconciler) OnDrawingComplete(userID string, now time.Time) {
	if userID == "" || userID == r.localUserID {
		return
	}
	entry, ok := r.live[userID]
	if !ok {
		return
	}
	entry.completedAt = now
}

// Tick re-evaluates every time-based expiry: stale predictions, completed
// in-progress entries past their hold, and tie-break bookkeeping.
func (r *Reconciler) Tick(now time.Time) {
	r.expirePredictions(now)
	for userID, entry := range r.live {
		if entry.completedAt.IsZero() {
			continue
		}
		if now.Sub(entry.completedAt) >= completionHold {
			delete(r.live, userID)
			r.liveRemoved[userID] = now
		}
	}
	for userID, removedAt := range r.liveRemoved {
		if now.Sub(removedAt) > fadeSuppressWindow {
			delete(r.liveRemoved, userID)
		}
	}
}

// computeOpacity returns the fade-in opacity for a persisted stroke. Arrival
// timestamps are forgotten once the fade completes.
func (r *Reconciler) computeOpacity(strokeID string, now time.Time) float64 {
	arrivedAt, ok := r.arrivals[strokeID]
	if !ok {
		return 1.0
	}
	age := now.Sub(arrivedAt)
	if age >= fadeDuration {
		delete(r.arrivals, strokeID)
		return 1.0
	}
	if age < 0 {
		return 0
	}
	return float64(age) / float64(fadeDuration)
}

// RenderStroke is one entry of the merged render set.
type RenderStroke struct {
	Stroke  strokes.Stroke
	Opacity float64
	// Pending marks a local prediction awaiting confirmation.
	Pending bool
	// Live marks another user's in-progress stroke.
	Live bool
}

// RenderStrokes produces the ordered render set: persisted strokes in
// creation order, then pending predictions, then remote in-progress strokes.
func (r *Reconciler) RenderStrokes(now time.Time) []RenderStroke {
	rendered := make([]RenderStroke, 0, len(r.persisted)+len(r.predictions)+len(r.live))
	for _, stroke := range r.persisted {
		rendered = append(rendered, RenderStroke{
			Stroke:  stroke,
			Opacity: r.computeOpacity(stroke.ID, now),
		})
	}
	for _, prediction := range r.predictions {
		rendered = append(rendered, RenderStroke{
			Stroke:  prediction.Stroke,
			Opacity: 1.0,
			Pending: true,
		})
	}
	liveUsers := make([]string, 0, len(r.live))
	for userID := range r.live {
		liveUsers = append(liveUsers, userID)
	}
	sort.Strings(liveUsers)
	for _, userID := range liveUsers {
		entry := r.live[userID]
		rendered = append(rendered, RenderStroke{
			Stroke: strokes.Stroke{
				UserID: entry.userID,
				Type:   strokes.StrokeTypeDraw,
				Color:  entry.color,
				Points: entry.points,
			},
			Opacity: 1.0,
			Live:    true,
		})
	}
	return rendered
}
