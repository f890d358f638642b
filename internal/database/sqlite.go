package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqliteWriteBatchSize keeps every statement well below SQLite's bound variable limit.
const sqliteWriteBatchSize = 150

var errMissingDatabase = errors.New("database: gorm handle is required")

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&noteRow{}, &changeRow{}, &settingsRow{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLiteRepository stores notes and settings through gorm.
type SQLiteRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewSQLiteRepository wraps an opened and migrated database.
func NewSQLiteRepository(db *gorm.DB, logger *zap.Logger) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteRepository{db: db, logger: logger, clock: time.Now}, nil
}

// LoadNotes returns every stored note.
func (r *SQLiteRepository) LoadNotes(ctx context.Context) (notes.Collection, error) {
	var rows []noteRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	collection := make(notes.Collection, len(rows))
	for _, row := range rows {
		collection[notes.StorageKey(row.StorageKey)] = row.record()
	}
	return collection, nil
}

// ApplyMutation writes upserts, deletes and journal entries in one transaction.
func (r *SQLiteRepository) ApplyMutation(ctx context.Context, mutation notes.Mutation) error {
	if mutation.Empty() {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(mutation.Upserts) > 0 {
			keys := make([]notes.StorageKey, 0, len(mutation.Upserts))
			for key := range mutation.Upserts {
				keys = append(keys, key)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			rows := make([]noteRow, 0, len(keys))
			for _, key := range keys {
				rows = append(rows, newNoteRow(key, mutation.Upserts[key]))
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "storage_key"}},
				UpdateAll: true,
			}).CreateInBatches(rows, sqliteWriteBatchSize).Error
			if err != nil {
				return fmt.Errorf("upsert notes: %w", err)
			}
		}

		if len(mutation.Deletes) > 0 {
			keys := make([]string, 0, len(mutation.Deletes))
			for _, key := range mutation.Deletes {
				keys = append(keys, key.String())
			}
			for start := 0; start < len(keys); start += sqliteWriteBatchSize {
				end := min(start+sqliteWriteBatchSize, len(keys))
				if err := tx.Where("storage_key IN ?", keys[start:end]).Delete(&noteRow{}).Error; err != nil {
					return fmt.Errorf("delete notes: %w", err)
				}
			}
		}

		if len(mutation.Changes) > 0 {
			rows := make([]changeRow, 0, len(mutation.Changes))
			for _, change := range mutation.Changes {
				rows = append(rows, newChangeRow(change))
			}
			if err := tx.CreateInBatches(rows, sqliteWriteBatchSize).Error; err != nil {
				return fmt.Errorf("append changes: %w", err)
			}
		}
		return nil
	})
}

// RecentChanges returns journal entries newest first.
func (r *SQLiteRepository) RecentChanges(ctx context.Context, limit int) ([]notes.Change, error) {
	var rows []changeRow
	err := r.db.WithContext(ctx).
		Order("applied_at_ms DESC").
		Order("change_id DESC").
		Limit(clampChangeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load changes: %w", err)
	}
	changes := make([]notes.Change, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, row.change())
	}
	return changes, nil
}

// LoadSettings returns the stored preferences.
func (r *SQLiteRepository) LoadSettings(ctx context.Context) (settings.Settings, bool, error) {
	var row settingsRow
	err := r.db.WithContext(ctx).Where("name = ?", settingsDocumentName).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	value := settings.Defaults()
	if err := json.Unmarshal([]byte(row.PayloadJSON), &value); err != nil {
		return settings.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return value, true, nil
}

// SaveSettings replaces the stored preferences.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, value settings.Settings) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	row := settingsRow{
		Name:             settingsDocumentName,
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: r.clock().UTC().Unix(),
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
