package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRedisKey is the hash that holds the notes, matching the extension storage key.
	DefaultRedisKey = "playerNotes"

	redisJournalLength = 10000
	redisPingTimeout   = 5 * time.Second
)

var errMissingRedisClient = errors.New("database: redis client is required")

// RedisRepository keeps notes in a hash keyed by storage key, the journal in a
// list (newest first) and settings in a plain string key.
type RedisRepository struct {
	client      *redis.Client
	notesKey    string
	changesKey  string
	settingsKey string
	logger      *zap.Logger
}

// NewRedisRepository connects to redisURL and verifies the connection.
func NewRedisRepository(ctx context.Context, redisURL, key string, logger *zap.Logger) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRepositoryWithClient(client, key, logger)
}

// NewRedisRepositoryWithClient builds a repository from an existing client.
func NewRedisRepositoryWithClient(client *redis.Client, key string, logger *zap.Logger) (*RedisRepository, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRepository{
		client:      client,
		notesKey:    key,
		changesKey:  key + ":changes",
		settingsKey: key + ":settings",
		logger:      logger,
	}, nil
}

// LoadNotes returns every stored note. Values that cannot be parsed are skipped.
func (r *RedisRepository) LoadNotes(ctx context.Context) (notes.Collection, error) {
	values, err := r.client.HGetAll(ctx, r.notesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	collection := make(notes.Collection, len(values))
	for field, value := range values {
		key, err := notes.NewStorageKey(field)
		if err != nil {
			r.logger.Warn("skipping note with invalid key", zap.String("key", field), zap.Error(err))
			continue
		}
		record, err := notes.ParseRecord([]byte(value))
		if err != nil {
			r.logger.Warn("skipping unreadable note", zap.String("key", field), zap.Error(err))
			continue
		}
		collection[key] = record
	}
	return collection, nil
}

// ApplyMutation writes the mutation inside MULTI/EXEC.
func (r *RedisRepository) ApplyMutation(ctx context.Context, mutation notes.Mutation) error {
	if mutation.Empty() {
		return nil
	}

	upserts := make([]any, 0, len(mutation.Upserts)*2)
	keys := make([]notes.StorageKey, 0, len(mutation.Upserts))
	for key := range mutation.Upserts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		encoded, err := notes.EncodeRecord(mutation.Upserts[key])
		if err != nil {
			return fmt.Errorf("encode note %s: %w", key, err)
		}
		upserts = append(upserts, key.String(), string(encoded))
	}

	deletes := make([]string, 0, len(mutation.Deletes))
	for _, key := range mutation.Deletes {
		deletes = append(deletes, key.String())
	}

	journal := make([]any, 0, len(mutation.Changes))
	for _, change := range mutation.Changes {
		encoded, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("encode change %s: %w", change.ChangeID, err)
		}
		journal = append(journal, string(encoded))
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(upserts) > 0 {
			pipe.HSet(ctx, r.notesKey, upserts...)
		}
		if len(deletes) > 0 {
			pipe.HDel(ctx, r.notesKey, deletes...)
		}
		if len(journal) > 0 {
			pipe.LPush(ctx, r.changesKey, journal...)
			pipe.LTrim(ctx, r.changesKey, 0, redisJournalLength-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply mutation: %w", err)
	}
	return nil
}

// RecentChanges returns journal entries newest first.
func (r *RedisRepository) RecentChanges(ctx context.Context, limit int) ([]notes.Change, error) {
	values, err := r.client.LRange(ctx, r.changesKey, 0, int64(clampChangeLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load changes: %w", err)
	}
	changes := make([]notes.Change, 0, len(values))
	for _, value := range values {
		var change notes.Change
		if err := json.Unmarshal([]byte(value), &change); err != nil {
			r.logger.Warn("skipping unreadable change", zap.Error(err))
			continue
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// LoadSettings returns the stored preferences.
func (r *RedisRepository) LoadSettings(ctx context.Context) (settings.Settings, bool, error) {
	payload, err := r.client.Get(ctx, r.settingsKey).Result()
	if err == redis.Nil {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	value := settings.Defaults()
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return settings.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return value, true, nil
}

// SaveSettings replaces the stored preferences.
func (r *RedisRepository) SaveSettings(ctx context.Context, value settings.Settings) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := r.client.Set(ctx, r.settingsKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
