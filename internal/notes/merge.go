package notes

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// MergeImport folds imported records into the store. A record is taken when the
// key is new locally or its timestamp is strictly newer; local records are never
// removed. Mappings learned through ingest survive the merge.
func (s *Store) MergeImport(ctx context.Context, imported Collection) (MergeResult, error) {
	result := MergeResult{}

	keys := make([]StorageKey, 0, len(imported))
	for key := range imported {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	s.mu.Lock()
	touched := make([]StorageKey, 0, len(keys))
	changes := make([]Change, 0, len(keys))
	now := s.nowMillis()
	for _, rawKey := range keys {
		key, err := NewStorageKey(rawKey.String())
		if err != nil {
			result.Skipped++
			s.logger.Warn("import record discarded", zap.String("key", rawKey.String()), zap.Error(err))
			continue
		}
		incoming, _ := normalizeRecord(key, imported[rawKey])
		if incoming.Text == "" {
			result.Skipped++
			s.logger.Warn("import record discarded", zap.String("key", key.String()), zap.String("reason", reasonRecordDiscarded))
			continue
		}
		existing, exists := s.records[key]
		if !resolveImport(existing, exists, incoming) {
			result.Skipped++
			continue
		}
		s.records[key] = incoming
		s.resolver.BindRecord(incoming.Nickname, key.String())
		touched = append(touched, key)
		changes = append(changes, Change{Key: key, Operation: OperationTypeImport, Nickname: incoming.Nickname, AppliedAtMillis: now})
		result.Imported++
	}

	var persistErr error
	if len(touched) > 0 {
		persistErr = s.persistLocked(ctx, opMerge, touched, changes)
	}
	s.mu.Unlock()

	s.logger.Info("notes import merged", zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped))
	return result, persistErr
}

// resolveImport decides whether an incoming record replaces the local one.
// Ties keep the local record.
func resolveImport(existing Record, exists bool, incoming Record) bool {
	if !exists {
		return true
	}
	return incoming.Timestamp > existing.Timestamp
}
