package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *capturePublisher) Publish(event broadcast.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) snapshot() []broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make([]broadcast.Event, len(p.events))
	copy(copied, p.events)
	return copied
}

type blockingSubmitter struct {
	mu        sync.Mutex
	started   chan struct{}
	release   chan struct{}
	submitted []strokes.SubmitRequest
	failWith  error
}

func newBlockingSubmitter() *blockingSubmitter {
	return &blockingSubmitter{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (s *blockingSubmitter) SubmitStroke(ctx context.Context, req strokes.SubmitRequest) (strokes.Stroke, error) {
	s.started <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.submitted = append(s.submitted, req)
	s.mu.Unlock()
	if s.failWith != nil {
		return strokes.Stroke{}, s.failWith
	}
	return strokes.Stroke{ID: "server-1", UserID: req.UserID}, nil
}

func (s *blockingSubmitter) requests() []strokes.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]strokes.SubmitRequest, len(s.submitted))
	copy(copied, s.submitted)
	return copied
}

type capturePredictions struct {
	mu    sync.Mutex
	added []strokes.Stroke
}

func (p *capturePredictions) AddLocalPrediction(stroke strokes.Stroke, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, stroke)
}

func (p *capturePredictions) snapshot() []strokes.Stroke {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make([]strokes.Stroke, len(p.added))
	copy(copied, p.added)
	return copied
}

func newTestRelay(t *testing.T, publisher *capturePublisher, submitter *blockingSubmitter, predictions *capturePredictions) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayConfig{
		Channel:     publisher,
		Store:       submitter,
		Predictions: predictions,
		Identity: Identity{
			UserID:    "local-user",
			UserName:  "Local",
			UserColor: "#FF6B6B",
			SessionID: "session-1",
		},
		Clock: func() time.Time { return reconcilerEpoch },
	})
	if err != nil {
		t.Fatalf("NewRelay returned error: %v", err)
	}
	return relay
}

func TestRelayCompleteDrawOrdering(t *testing.T) {
	publisher := &capturePublisher{}
	submitter := newBlockingSubmitter()
	predictions := &capturePredictions{}
	relay := newTestRelay(t, publisher, submitter, predictions)

	points := []strokes.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	relay.CompleteDraw(context.Background(), points)

	// The prediction is recorded before the submission goroutine even starts,
	// and the completion broadcast does not wait for persistence.
	if added := predictions.snapshot(); len(added) != 1 {
		t.Fatalf("expected prediction recorded synchronously, got %d", len(added))
	}
	events := publisher.snapshot()
	if len(events) != 1 || events[0].Type != broadcast.EventDrawingComplete {
		t.Fatalf("expected completion broadcast before persistence finished, got %+v", events)
	}
	if got := submitter.requests(); len(got) != 0 {
		t.Fatalf("expected submission still blocked, got %d", len(got))
	}

	select {
	case <-submitter.started:
	case <-time.After(time.Second):
		t.Fatalf("submission goroutine never started")
	}
	close(submitter.release)

	deadline := time.After(time.Second)
	for len(submitter.requests()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("submission never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	request := submitter.requests()[0]
	if request.UserID != "local-user" || request.SessionID != "session-1" {
		t.Fatalf("unexpected submit request identity: %+v", request)
	}
	if request.Type != strokes.StrokeTypeDraw || len(request.Points) != 2 {
		t.Fatalf("unexpected submit request payload: %+v", request)
	}
}

func TestRelayPredictionCarriesLocalID(t *testing.T) {
	publisher := &capturePublisher{}
	submitter := newBlockingSubmitter()
	close(submitter.release)
	predictions := &capturePredictions{}
	relay := newTestRelay(t, publisher, submitter, predictions)

	relay.CompleteDraw(context.Background(), []strokes.Point{{X: 0, Y: 0}})

	added := predictions.snapshot()
	if len(added) != 1 {
		t.Fatalf("expected one prediction, got %d", len(added))
	}
	if !strings.HasPrefix(added[0].ID, "local-") {
		t.Fatalf("expected temporary local id, got %q", added[0].ID)
	}
	if !added[0].CreatedAt.Equal(reconcilerEpoch) {
		t.Fatalf("expected prediction stamped with relay clock, got %v", added[0].CreatedAt)
	}
}

func TestRelaySendProgressUnthrottled(t *testing.T) {
	publisher := &capturePublisher{}
	submitter := newBlockingSubmitter()
	relay := newTestRelay(t, publisher, submitter, &capturePredictions{})

	for i := 1; i <= 5; i++ {
		relay.SendProgress([]strokes.Point{{X: float64(i)}}, "#FF6B6B")
	}

	events := publisher.snapshot()
	if len(events) != 5 {
		t.Fatalf("expected every progress update broadcast, got %d", len(events))
	}
	var payload broadcast.DrawingPayload
	if err := events[4].DecodePayload(&payload); err != nil {
		t.Fatalf("decoding progress payload: %v", err)
	}
	if payload.UserID != "local-user" || payload.Points[0].X != 5 {
		t.Fatalf("unexpected progress payload: %+v", payload)
	}
}

func TestRelaySendProgressSkipsEmptyPointSet(t *testing.T) {
	publisher := &capturePublisher{}
	relay := newTestRelay(t, publisher, newBlockingSubmitter(), &capturePredictions{})

	relay.SendProgress(nil, "#FF6B6B")

	if events := publisher.snapshot(); len(events) != 0 {
		t.Fatalf("expected empty progress to be skipped, got %d events", len(events))
	}
}

func TestRelayCompleteTextSendsNoBroadcast(t *testing.T) {
	publisher := &capturePublisher{}
	submitter := newBlockingSubmitter()
	close(submitter.release)
	predictions := &capturePredictions{}
	relay := newTestRelay(t, publisher, submitter, predictions)

	relay.CompleteText(context.Background(), "hello", strokes.Point{X: 10, Y: 20})

	if events := publisher.snapshot(); len(events) != 0 {
		t.Fatalf("expected no broadcast for text placement, got %+v", events)
	}
	added := predictions.snapshot()
	if len(added) != 1 || added[0].Type != strokes.StrokeTypeText || added[0].Text != "hello" {
		t.Fatalf("expected text prediction, got %+v", added)
	}
}

func TestRelayFailedSubmissionLeavesPrediction(t *testing.T) {
	publisher := &capturePublisher{}
	submitter := newBlockingSubmitter()
	submitter.failWith = errors.New("store offline")
	close(submitter.release)
	predictions := &capturePredictions{}
	relay := newTestRelay(t, publisher, submitter, predictions)

	relay.CompleteDraw(context.Background(), []strokes.Point{{X: 0, Y: 0}})

	deadline := time.After(time.Second)
	for len(submitter.requests()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("submission never attempted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// The failure is logged only; the optimistic prediction stays and dies by
	// its own expiry.
	if added := predictions.snapshot(); len(added) != 1 {
		t.Fatalf("expected prediction to remain after failed submit, got %d", len(added))
	}
}

func TestRelayConfigValidation(t *testing.T) {
	identity := Identity{UserID: "local-user"}
	if _, err := NewRelay(RelayConfig{Store: newBlockingSubmitter(), Identity: identity}); !errors.Is(err, errMissingChannel) {
		t.Fatalf("expected missing channel error, got %v", err)
	}
	if _, err := NewRelay(RelayConfig{Channel: &capturePublisher{}, Identity: identity}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
	if _, err := NewRelay(RelayConfig{Channel: &capturePublisher{}, Store: newBlockingSubmitter()}); !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected missing identity error, got %v", err)
	}
}
