package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/distractdiverge/shared-canvas/internal/sessions"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
)

func openMigrationDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvas.db")
	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := database.AutoMigrate(&strokes.Record{}, &sessions.Session{}, &migrationRecord{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return database
}

func TestApplyMigrationsPurgesOrphanedStrokes(t *testing.T) {
	database := openMigrationDatabase(t)
	now := time.Now().UTC()

	if err := database.Create(&sessions.Session{
		ID:         "session-live",
		UserID:     "user-1",
		StartedAt:  now,
		ExpiryDate: now.AddDate(0, 0, sessions.ExpiryDays),
		CreatedAt:  now,
	}).Error; err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	for _, seed := range []strokes.Record{
		{ID: "stroke-live", UserID: "user-1", SessionID: "session-live", Type: "draw", Color: "#FF6B6B", PointsJSON: `[{"x":0,"y":0}]`, CreatedAt: now},
		{ID: "stroke-orphan", UserID: "user-2", SessionID: "session-deleted", Type: "draw", Color: "#4ECDC4", PointsJSON: `[{"x":1,"y":1}]`, CreatedAt: now},
	} {
		if err := database.Create(&seed).Error; err != nil {
			t.Fatalf("seeding stroke %s: %v", seed.ID, err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		t.Fatalf("applyMigrations returned error: %v", err)
	}

	var remaining []strokes.Record
	if err := database.Find(&remaining).Error; err != nil {
		t.Fatalf("listing strokes: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "stroke-live" {
		t.Fatalf("expected only the live stroke to remain, got %+v", remaining)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationPurgeOrphanedStrokes).Take(&record).Error; err != nil {
		t.Fatalf("expected migration recorded: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("expected applied timestamp recorded")
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := openMigrationDatabase(t)

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		t.Fatalf("first applyMigrations returned error: %v", err)
	}

	var first migrationRecord
	if err := database.Where("name = ?", migrationPurgeOrphanedStrokes).Take(&first).Error; err != nil {
		t.Fatalf("loading migration record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		t.Fatalf("second applyMigrations returned error: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("counting migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single migration record, got %d", count)
	}
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas.db")

	database, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}

	for _, table := range []string{"strokes", "users", "sessions", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
