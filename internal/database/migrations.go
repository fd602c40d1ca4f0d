package database

import (
	"errors"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/strokes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationPurgeOrphanedStrokes = "2026-08-10_purge_orphaned_strokes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPurgeOrphanedStrokes, apply: purgeOrphanedStrokes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// purgeOrphanedStrokes removes strokes whose session row is gone. Deployments
// that predate the cleanup job deleted sessions without their strokes.
func purgeOrphanedStrokes(db *gorm.DB) error {
	return db.
		Where("session_id NOT IN (SELECT id FROM sessions)").
		Delete(&strokes.Record{}).Error
}
