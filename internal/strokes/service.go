package strokes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a storage failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "strokes.service.new"
	opSubmitStroke = "strokes.submit"
	opListStrokes  = "strokes.list"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly persisted strokes.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the stroke store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the durable append-only stroke log. Strokes are immutable once
// written; only the session cleanup job removes them in bulk.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SubmitStroke validates and appends a stroke, assigning the store id and
// creation timestamp. Validation failures surface ErrMissingFields or
// ErrInvalidTypePayload before the database is touched.
func (s *Service) SubmitStroke(ctx context.Context, req SubmitRequest) (Stroke, error) {
	if err := req.validate(); err != nil {
		return Stroke{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmitStroke, "id_generation_failed", err)
		return Stroke{}, newServiceError(opSubmitStroke, "id_generation_failed", err)
	}

	stroke := Stroke{
		ID:        id,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Type:      req.Type,
		Color:     req.Color,
		Points:    req.Points,
		Text:      req.Text,
		Position:  req.Position,
		CreatedAt: s.clock().UTC(),
	}

	record, err := newRecord(stroke)
	if err != nil {
		s.logError(opSubmitStroke, "encode_failed", err)
		return Stroke{}, newServiceError(opSubmitStroke, "encode_failed", err)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opSubmitStroke, "store_unavailable", err,
			zap.String("user_id", req.UserID),
			zap.String("session_id", req.SessionID))
		return Stroke{}, newServiceError(opSubmitStroke, "store_unavailable", err)
	}

	return stroke, nil
}

// ListStrokes returns every persisted stroke in ascending creation order.
// An empty store yields an empty slice, never an error.
func (s *Service) ListStrokes(ctx context.Context) ([]Stroke, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListStrokes, "query_failed", err)
		return nil, newServiceError(opListStrokes, "query_failed", err)
	}

	listed := make([]Stroke, 0, len(records))
	for _, record := range records {
		stroke, err := record.Stroke()
		if err != nil {
			s.logError(opListStrokes, "decode_failed", err, zap.String("stroke_id", record.ID))
			return nil, newServiceError(opListStrokes, "decode_failed", err)
		}
		listed = append(listed, stroke)
	}
	return listed, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("stroke store error", attrs...)
}
