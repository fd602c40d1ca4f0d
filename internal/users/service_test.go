package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("user-%04d", p.next), nil
}

func openUserDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := database.AutoMigrate(&User{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return database
}

func newUserService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   openUserDatabase(t),
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	return service
}

func registerRequest() RegisterRequest {
	return RegisterRequest{
		DisplayName:   "Alice",
		UserAgent:     "Mozilla/5.0",
		RemoteIP:      "203.0.113.7",
		SelectedColor: "#FF6B6B",
	}
}

func TestRegisterCreatesNewUser(t *testing.T) {
	service := newUserService(t)

	user, isNew, err := service.Register(context.Background(), registerRequest())
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !isNew {
		t.Fatalf("expected first registration to be new")
	}
	if user.ID != "user-0001" || user.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.FingerprintHash != Fingerprint("Alice", "203.0.113.7", "Mozilla/5.0") {
		t.Fatalf("unexpected fingerprint hash: %s", user.FingerprintHash)
	}
}

func TestRegisterResolvesReturningUser(t *testing.T) {
	service := newUserService(t)

	first, _, err := service.Register(context.Background(), registerRequest())
	if err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}

	second, isNew, err := service.Register(context.Background(), registerRequest())
	if err != nil {
		t.Fatalf("second Register returned error: %v", err)
	}
	if isNew {
		t.Fatalf("expected returning user not to be new")
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same user, got %s then %s", first.ID, second.ID)
	}
}

func TestRegisterUpdatesColorForReturningUser(t *testing.T) {
	service := newUserService(t)

	first, _, err := service.Register(context.Background(), registerRequest())
	if err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}

	changed := registerRequest()
	changed.SelectedColor = "#4ECDC4"
	second, isNew, err := service.Register(context.Background(), changed)
	if err != nil {
		t.Fatalf("second Register returned error: %v", err)
	}
	if isNew || second.ID != first.ID {
		t.Fatalf("expected same returning user, got %+v", second)
	}
	if second.SelectedColor != "#4ECDC4" {
		t.Fatalf("expected updated color, got %s", second.SelectedColor)
	}

	stored, err := service.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.SelectedColor != "#4ECDC4" {
		t.Fatalf("expected color persisted, got %s", stored.SelectedColor)
	}
}

func TestRegisterDistinguishesByFingerprintInputs(t *testing.T) {
	service := newUserService(t)

	if _, _, err := service.Register(context.Background(), registerRequest()); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	otherIP := registerRequest()
	otherIP.RemoteIP = "198.51.100.4"
	user, isNew, err := service.Register(context.Background(), otherIP)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if !isNew || user.ID == "user-0001" {
		t.Fatalf("expected distinct user for distinct ip, got %+v", user)
	}
}

func TestRegisterValidation(t *testing.T) {
	service := newUserService(t)

	missing := registerRequest()
	missing.DisplayName = "   "
	if _, _, err := service.Register(context.Background(), missing); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields error, got %v", err)
	}

	long := registerRequest()
	long.DisplayName = strings.Repeat("a", MaxNameLength+1)
	if _, _, err := service.Register(context.Background(), long); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected name too long error, got %v", err)
	}

	exact := registerRequest()
	exact.DisplayName = strings.Repeat("a", MaxNameLength)
	if _, _, err := service.Register(context.Background(), exact); err != nil {
		t.Fatalf("expected name at the limit to pass, got %v", err)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	first := Fingerprint("Alice", "203.0.113.7", "Mozilla/5.0")
	second := Fingerprint("Alice", "203.0.113.7", "Mozilla/5.0")
	if first != second {
		t.Fatalf("expected deterministic fingerprint, got %s and %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha-256 digest, got %d characters", len(first))
	}
	if Fingerprint("Alice", "203.0.113.7", "other-agent") == first {
		t.Fatalf("expected user agent to contribute to the fingerprint")
	}
}

func TestGetUnknownUser(t *testing.T) {
	service := newUserService(t)
	if _, err := service.Get(context.Background(), "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}
