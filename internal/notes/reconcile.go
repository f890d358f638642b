package notes

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"go.uber.org/zap"
)

// Nicknames returns storage key -> nickname for the identity resolver.
func (s *Store) Nicknames() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.records))
	for key, record := range s.records {
		out[key.String()] = record.Nickname
	}
	return out
}

// Reconcile applies identity observations to stored records in one persisted
// mutation. Fallback records kept under the lobby or current nickname move to
// the player identifier key (the newer record wins when both exist), then the
// record's nickname follows the observed current nickname.
func (s *Store) Reconcile(ctx context.Context, moves []identity.Move) (identity.ReconcileResult, error) {
	result := identity.ReconcileResult{}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	touched := make([]StorageKey, 0)
	changes := make([]Change, 0)
	for _, move := range moves {
		key, err := NewStorageKey(move.PlayerID)
		if err != nil {
			s.logger.Debug("reconcile move skipped", zap.String("player_id", move.PlayerID), zap.Error(err))
			continue
		}

		for _, nickname := range []string{move.LobbyNickname, move.CurrentNickname} {
			fallbackKey := StorageKey(strings.TrimSpace(nickname))
			if fallbackKey == "" || fallbackKey == key {
				continue
			}
			fallback, ok := s.records[fallbackKey]
			if !ok {
				continue
			}
			existing, exists := s.records[key]
			switch {
			case !exists:
				s.records[key] = fallback
			case fallback.Timestamp > existing.Timestamp:
				s.records[key] = fallback
				s.logDiscarded(key, fallbackKey, existing)
			default:
				s.logDiscarded(fallbackKey, key, fallback)
			}
			delete(s.records, fallbackKey)
			touched = append(touched, fallbackKey, key)
			changes = append(changes, Change{Key: key, Operation: OperationTypeRekey, Nickname: fallback.Nickname, AppliedAtMillis: now})
			result.Rekeyed++
		}

		record, ok := s.records[key]
		if !ok {
			continue
		}
		if moveCurrentNickname(&record, move.CurrentNickname) {
			s.records[key] = record
			touched = append(touched, key)
			changes = append(changes, Change{Key: key, Operation: OperationTypeRename, Nickname: record.Nickname, AppliedAtMillis: now})
			result.Renamed++
		}
	}

	if len(touched) == 0 {
		return result, nil
	}
	if err := s.persistLocked(ctx, opReconcile, touched, changes); err != nil {
		return result, err
	}
	return result, nil
}

// logDiscarded records a note dropped while folding a fallback record into its
// identifier key.
func (s *Store) logDiscarded(discardedKey, keptKey StorageKey, discarded Record) {
	s.logger.Warn("note discarded during rekey",
		zap.String("discarded_key", discardedKey.String()),
		zap.String("kept_key", keptKey.String()),
		zap.String("nickname", discarded.Nickname),
		zap.Int64("timestamp", discarded.Timestamp),
		zap.String("text", discarded.Text))
}

// moveCurrentNickname moves the stored nickname into PreviousNickname when the
// observed current nickname differs and reports whether the record changed.
func moveCurrentNickname(record *Record, current string) bool {
	current = strings.TrimSpace(current)
	if current == "" || record.Nickname == current {
		return false
	}
	record.PreviousNickname = record.Nickname
	record.Nickname = current
	return true
}
