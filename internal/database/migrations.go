package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillNoteNicknames = "2026-10-01_backfill_note_nicknames"
	migrationDropBlankNotes        = "2026-10-01_drop_blank_notes"
)

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

var noteMigrations = []migrationDefinition{
	{name: migrationBackfillNoteNicknames, apply: backfillNoteNicknames},
	{name: migrationDropBlankNotes, apply: dropBlankNotes},
}

// applyMigrations runs every migration not yet recorded in db_migrations. Each
// migration and its record commit in one transaction.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, migration := range noteMigrations {
		applied, err := migrationApplied(db, migration.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var record migrationRecord
	err := db.Where("name = ?", name).Take(&record).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Notes written before nicknames were tracked are keyed by the nickname itself.
func backfillNoteNicknames(db *gorm.DB) error {
	return db.Model(&noteRow{}).
		Where("nickname = ''").
		Update("nickname", gorm.Expr("storage_key")).Error
}

func dropBlankNotes(db *gorm.DB) error {
	return db.Where("trim(text) = ''").Delete(&noteRow{}).Error
}
