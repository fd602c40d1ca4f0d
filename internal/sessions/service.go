package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/strokes"
	"github.com/distractdiverge/shared-canvas/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingUserID indicates a start request without a user.
	ErrMissingUserID = errors.New("sessions: user id is required")
	// ErrMissingSessionID indicates an end request without a session.
	ErrMissingSessionID = errors.New("sessions: session id is required")

	errMissingDatabase   = errors.New("sessions: database handle is required")
	errMissingIDProvider = errors.New("sessions: id provider is required")
)

// IDProvider issues identifiers for new sessions.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for session bookkeeping.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service tracks session start/end and expires old content.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Start opens a new session for the user. The user's most recent session, if
// any, has its expiry pushed out so returning users keep their content alive.
func (s *Service) Start(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrMissingUserID
	}

	now := s.clock().UTC()
	expiry := now.AddDate(0, 0, ExpiryDays)

	var last Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		First(&last).Error
	if err == nil {
		if err := s.db.WithContext(ctx).Model(&Session{}).
			Where("id = ?", last.ID).
			Update("expiry_date", expiry).Error; err != nil {
			s.logger.Warn("previous session expiry extension failed",
				zap.String("session_id", last.ID), zap.Error(err))
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fmt.Errorf("sessions: last session lookup: %w", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Session{}, fmt.Errorf("sessions: id generation: %w", err)
	}
	created := Session{
		ID:         id,
		UserID:     userID,
		StartedAt:  now,
		ExpiryDate: expiry,
		CreatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logger.Error("session create failed", zap.String("user_id", userID), zap.Error(err))
		return Session{}, fmt.Errorf("sessions: create: %w", err)
	}
	return created, nil
}

// End closes a session, refreshes its expiry from the end time, and stamps
// the owner's last_session_end.
func (s *Service) End(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrMissingSessionID
	}

	now := s.clock().UTC()
	expiry := now.AddDate(0, 0, ExpiryDays)

	var session Session
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return Session{}, fmt.Errorf("sessions: end lookup %s: %w", sessionID, err)
	}

	session.EndedAt = &now
	session.ExpiryDate = expiry
	if err := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{"ended_at": now, "expiry_date": expiry}).Error; err != nil {
		s.logger.Error("session end failed", zap.String("session_id", sessionID), zap.Error(err))
		return Session{}, fmt.Errorf("sessions: end: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&users.User{}).
		Where("id = ?", session.UserID).
		Update("last_session_end", now).Error; err != nil {
		s.logger.Warn("user last_session_end update failed",
			zap.String("user_id", session.UserID), zap.Error(err))
	}

	return session, nil
}

// CleanupExpired deletes strokes belonging to expired sessions, then the
// sessions themselves. Returns the number of sessions removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock().UTC()

	var expired []Session
	if err := s.db.WithContext(ctx).
		Where("expiry_date < ?", now).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("sessions: expired lookup: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, session := range expired {
		ids = append(ids, session.ID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&strokes.Record{}).Error; err != nil {
			return fmt.Errorf("sessions: delete expired strokes: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&Session{}).Error; err != nil {
			return fmt.Errorf("sessions: delete expired sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("expired content cleaned up", zap.Int("sessions", len(ids)))
	return len(ids), nil
}

// RunCleanup invokes CleanupExpired on the given interval until the context
// is cancelled. This is the scheduled job that expires old canvas content.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Error("cleanup run failed", zap.Error(err))
			}
		}
	}
}
