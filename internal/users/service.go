package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingFields indicates a registration without all required inputs.
	ErrMissingFields = errors.New("users: missing required fields")
	// ErrNameTooLong indicates a display name over MaxNameLength characters.
	ErrNameTooLong = fmt.Errorf("users: display name exceeds %d characters", MaxNameLength)

	errMissingDatabase   = errors.New("users: database handle is required")
	errMissingIDProvider = errors.New("users: id provider is required")
)

// IDProvider issues identifiers for newly registered users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for user registration.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service registers participants and resolves returning visitors by
// fingerprint.
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

// RegisterRequest describes the inputs for registering or resolving a user.
type RegisterRequest struct {
	DisplayName   string
	UserAgent     string
	RemoteIP      string
	SelectedColor string
}

func (req RegisterRequest) validate() error {
	if strings.TrimSpace(req.DisplayName) == "" ||
		strings.TrimSpace(req.UserAgent) == "" ||
		strings.TrimSpace(req.SelectedColor) == "" {
		return ErrMissingFields
	}
	if len(req.DisplayName) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// Register creates a new user, or returns the existing user with the same
// fingerprint. A returning user who picked a different color has their color
// updated. The second return value reports whether the user is new.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, bool, error) {
	if err := req.validate(); err != nil {
		return User{}, false, err
	}

	hash := Fingerprint(req.DisplayName, req.RemoteIP, req.UserAgent)

	var existing User
	err := s.db.WithContext(ctx).
		Where("fingerprint_hash = ?", hash).
		First(&existing).Error
	if err == nil {
		if existing.SelectedColor != req.SelectedColor {
			existing.SelectedColor = req.SelectedColor
			if err := s.db.WithContext(ctx).Model(&User{}).
				Where("id = ?", existing.ID).
				Update("selected_color", req.SelectedColor).Error; err != nil {
				s.logger.Error("user color update failed", zap.String("user_id", existing.ID), zap.Error(err))
				return User{}, false, fmt.Errorf("users: update color: %w", err)
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("user lookup failed", zap.Error(err))
		return User{}, false, fmt.Errorf("users: lookup: %w", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, false, fmt.Errorf("users: id generation: %w", err)
	}
	created := User{
		ID:              id,
		DisplayName:     req.DisplayName,
		FingerprintHash: hash,
		SelectedColor:   req.SelectedColor,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logger.Error("user create failed", zap.Error(err))
		return User{}, false, fmt.Errorf("users: create: %w", err)
	}
	return created, true, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return User{}, fmt.Errorf("users: get %s: %w", userID, err)
	}
	return user, nil
}
