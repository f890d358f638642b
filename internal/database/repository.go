// Package database persists notes, the change journal and settings in SQLite or Redis.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"go.uber.org/zap"
)

const (
	// DriverSQLite selects the gorm SQLite repository.
	DriverSQLite = "sqlite"
	// DriverRedis selects the Redis repository.
	DriverRedis = "redis"

	// DefaultChangeLimit is used when RecentChanges receives a non-positive limit.
	DefaultChangeLimit = 50
	// MaxChangeLimit caps RecentChanges.
	MaxChangeLimit = 500

	settingsDocumentName = "preferences"
)

var errUnknownDriver = errors.New("database: unknown storage driver")

// Repository is the full persistence surface used by the service.
type Repository interface {
	notes.Repository
	settings.Repository
	RecentChanges(ctx context.Context, limit int) ([]notes.Change, error)
	Close() error
}

// Options selects and configures a Repository.
type Options struct {
	Driver     string
	SQLitePath string
	RedisURL   string
	RedisKey   string
	Logger     *zap.Logger
}

// Open builds the repository for the configured driver.
func Open(ctx context.Context, options Options) (Repository, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		db, err := OpenSQLite(options.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLiteRepository(db, logger)
	case DriverRedis:
		return NewRedisRepository(ctx, options.RedisURL, options.RedisKey, logger)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownDriver, options.Driver)
	}
}

func clampChangeLimit(limit int) int {
	if limit <= 0 {
		return DefaultChangeLimit
	}
	if limit > MaxChangeLimit {
		return MaxChangeLimit
	}
	return limit
}
