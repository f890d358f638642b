package notes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// Repository persists the note collection.
type Repository interface {
	LoadNotes(ctx context.Context) (Collection, error)
	ApplyMutation(ctx context.Context, mutation Mutation) error
}

// Notifier is told which storage keys changed after a mutation was persisted.
type Notifier interface {
	NotesChanged(keys []StorageKey)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Repository Repository
	Resolver   *identity.Resolver
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	Notifier   Notifier
}

// Store is the in-memory note collection backed by a Repository. Every mutation
// updates memory first and then persists; a failed write leaves the memory state
// in place and keeps the touched keys dirty until the next successful write or Flush.
type Store struct {
	mu         sync.RWMutex
	records    Collection
	dirty      map[StorageKey]struct{}
	pending    []Change
	repository Repository
	resolver   *identity.Resolver
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	notifier   Notifier
}

// NewStore validates dependencies and returns an empty store. Call Load before use.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDeps, errMissingRepository)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDeps, errMissingResolver)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDeps, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		records:    make(Collection),
		dirty:      make(map[StorageKey]struct{}),
		repository: cfg.Repository,
		resolver:   cfg.Resolver,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		notifier:   cfg.Notifier,
	}, nil
}

// Load reads the persisted collection, upgrades legacy records and rebuilds the
// identity mapping. Records without text are dropped.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.repository.LoadNotes(ctx)
	if err != nil {
		s.logError(opLoad, reasonLoadFailed, err)
		return newServiceError(opLoad, reasonLoadFailed, err)
	}

	s.mu.Lock()
	s.records = make(Collection, len(loaded))
	touched := make([]StorageKey, 0)
	changes := make([]Change, 0)
	now := s.nowMillis()
	for key, record := range loaded {
		normalized, upgraded := normalizeRecord(key, record)
		if normalized.Text == "" {
			s.logger.Warn("dropping note without text", zap.String("key", key.String()))
			touched = append(touched, key)
			changes = append(changes, Change{Key: key, Operation: OperationTypeDelete, Nickname: normalized.Nickname, AppliedAtMillis: now})
			continue
		}
		s.records[key] = normalized
		if upgraded {
			touched = append(touched, key)
			changes = append(changes, Change{Key: key, Operation: OperationTypeUpgrade, Nickname: normalized.Nickname, AppliedAtMillis: now})
		}
	}
	var persistErr error
	if len(touched) > 0 {
		persistErr = s.persistLocked(ctx, opLoad, touched, changes)
	}
	count := len(s.records)
	s.mu.Unlock()

	s.resolver.RebuildFromNotes(s)
	s.logger.Info("notes loaded", zap.Int("count", count), zap.Int("upgraded", len(touched)))
	return persistErr
}

// NoteText returns the note for an identifier or nickname, or "" when none exists.
func (s *Store) NoteText(identifierOrNickname string) string {
	record, ok := s.Record(identifierOrNickname)
	if !ok {
		return ""
	}
	return record.Text
}

// Record returns the full record for an identifier or nickname. The mapped
// identifier is tried first, then the raw input as a fallback key.
func (s *Store) Record(identifierOrNickname string) (Record, bool) {
	entry, ok := s.Lookup(identifierOrNickname)
	return entry.Record, ok
}

// Lookup is Record plus the storage key the record was found under.
func (s *Store) Lookup(identifierOrNickname string) (Entry, bool) {
	lookup := strings.TrimSpace(identifierOrNickname)
	if lookup == "" {
		return Entry{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if identifier, ok := s.resolver.ResolveIdentifier(lookup); ok {
		if record, found := s.records[StorageKey(identifier)]; found {
			return Entry{Key: StorageKey(identifier), Record: record}, true
		}
	}
	record, found := s.records[StorageKey(lookup)]
	if !found {
		return Entry{}, false
	}
	return Entry{Key: StorageKey(lookup), Record: record}, true
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the collection.
func (s *Store) Records() Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone()
}

// List returns entries sorted by display nickname, filtered case-insensitively
// on key, nickname, previous nickname and text when query is not blank.
func (s *Store) List(query string) []Entry {
	term := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.records))
	for key, record := range s.records {
		if term != "" && !matchesQuery(key, record, term) {
			continue
		}
		entries = append(entries, Entry{Key: key, Record: record})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		left := strings.ToLower(entries[i].DisplayName())
		right := strings.ToLower(entries[j].DisplayName())
		if left != right {
			return left < right
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

func matchesQuery(key StorageKey, record Record, term string) bool {
	for _, candidate := range []string{key.String(), record.Nickname, record.PreviousNickname, record.Text} {
		if strings.Contains(strings.ToLower(candidate), term) {
			return true
		}
	}
	return false
}

// Save upserts or, for blank text, deletes the note of a player.
func (s *Store) Save(ctx context.Context, request SaveRequest) (SaveOutcome, error) {
	lobby := strings.TrimSpace(request.LobbyNickname)
	identifier := strings.TrimSpace(request.Identifier)
	current := strings.TrimSpace(request.CurrentNickname)
	text := strings.TrimSpace(request.Text)

	if lobby == "" && identifier == "" {
		return SaveOutcome{}, newServiceError(opSave, reasonInvalidInput, ErrInvalidInput)
	}
	if identifier == "" {
		if resolved, ok := s.resolver.ResolveIdentifier(lobby); ok {
			identifier = resolved
		}
	}
	rawKey := identifier
	if rawKey == "" {
		rawKey = lobby
	}
	key, err := NewStorageKey(rawKey)
	if err != nil {
		return SaveOutcome{}, newServiceError(opSave, reasonInvalidKey, err)
	}
	if current == "" && identifier != "" {
		if observed, ok := s.resolver.ResolveCurrentNickname(identifier); ok {
			current = observed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	touched := []StorageKey{key}
	changes := make([]Change, 0, 2)

	// A fallback record left under the lobby nickname is folded into the identifier key.
	fallbackKey := StorageKey(lobby)
	if lobby != "" && fallbackKey != key {
		if fallback, ok := s.records[fallbackKey]; ok {
			delete(s.records, fallbackKey)
			touched = append(touched, fallbackKey)
			changes = append(changes, Change{Key: fallbackKey, Operation: OperationTypeDelete, Nickname: fallback.Nickname, AppliedAtMillis: now})
		}
	}

	if text == "" {
		existing, existed := s.records[key]
		delete(s.records, key)
		s.resolver.Forget(lobby)
		if existed || len(changes) > 0 {
			changes = append(changes, Change{Key: key, Operation: OperationTypeDelete, Nickname: existing.Nickname, AppliedAtMillis: now})
			if err := s.persistLocked(ctx, opSave, touched, changes); err != nil {
				return SaveOutcome{Key: key, Deleted: true}, err
			}
		}
		return SaveOutcome{Key: key, Deleted: true}, nil
	}

	existing, existed := s.records[key]
	record := Record{
		Text:      text,
		Timestamp: now,
	}
	switch {
	case current != "" && lobby != "" && current != lobby:
		record.Nickname = current
		record.PreviousNickname = lobby
	case current != "":
		record.Nickname = current
		record.PreviousNickname = existing.PreviousNickname
	case lobby != "":
		record.Nickname = lobby
		record.PreviousNickname = existing.PreviousNickname
	case existed:
		record.Nickname = existing.Nickname
		record.PreviousNickname = existing.PreviousNickname
	default:
		record.Nickname = key.String()
	}
	if record.PreviousNickname == record.Nickname {
		record.PreviousNickname = ""
	}
	s.records[key] = record

	s.resolver.Bind(lobby, key.String())
	if record.Nickname != lobby {
		s.resolver.Bind(record.Nickname, key.String())
	}

	changes = append(changes, Change{Key: key, Operation: OperationTypeUpsert, Nickname: record.Nickname, AppliedAtMillis: now})
	if err := s.persistLocked(ctx, opSave, touched, changes); err != nil {
		return SaveOutcome{Key: key, Record: record}, err
	}
	return SaveOutcome{Key: key, Record: record}, nil
}

// Delete removes the note for nickname, trying the mapped identifier first.
// Nothing found is not an error.
func (s *Store) Delete(ctx context.Context, nickname string) (bool, error) {
	lookup := strings.TrimSpace(nickname)
	if lookup == "" {
		return false, nil
	}

	candidates := make([]StorageKey, 0, 2)
	if identifier, ok := s.resolver.ResolveIdentifier(lookup); ok {
		candidates = append(candidates, StorageKey(identifier))
	}
	candidates = append(candidates, StorageKey(lookup))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range candidates {
		record, ok := s.records[key]
		if !ok {
			continue
		}
		delete(s.records, key)
		s.resolver.Forget(lookup)
		change := Change{Key: key, Operation: OperationTypeDelete, Nickname: record.Nickname, AppliedAtMillis: s.nowMillis()}
		if err := s.persistLocked(ctx, opDelete, []StorageKey{key}, []Change{change}); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// Flush retries persisting keys left dirty by earlier failed writes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 && len(s.pending) == 0 {
		return nil
	}
	return s.persistLocked(ctx, opFlush, nil, nil)
}

// Dirty reports how many keys await persistence.
func (s *Store) Dirty() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}

// persistLocked writes the in-memory state of touched and previously dirty keys.
// Callers hold s.mu.
func (s *Store) persistLocked(ctx context.Context, operation string, touched []StorageKey, changes []Change) error {
	for _, key := range touched {
		s.dirty[key] = struct{}{}
	}
	for _, change := range changes {
		changeID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(operation, reasonIDFailed, err, zap.String("key", change.Key.String()))
			return newServiceError(operation, reasonIDFailed, err)
		}
		change.ChangeID = changeID
		s.pending = append(s.pending, change)
	}

	mutation := Mutation{
		Upserts: make(map[StorageKey]Record),
		Deletes: make([]StorageKey, 0),
		Changes: append([]Change(nil), s.pending...),
	}
	keys := make([]StorageKey, 0, len(s.dirty))
	for key := range s.dirty {
		keys = append(keys, key)
		if record, ok := s.records[key]; ok {
			mutation.Upserts[key] = record
		} else {
			mutation.Deletes = append(mutation.Deletes, key)
		}
	}

	if err := s.repository.ApplyMutation(ctx, mutation); err != nil {
		s.logError(operation, reasonPersistFailed, err, zap.Int("dirty", len(s.dirty)))
		return newServiceError(operation, reasonPersistFailed, err)
	}

	s.dirty = make(map[StorageKey]struct{})
	s.pending = nil
	if s.notifier != nil && len(keys) > 0 {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		s.notifier.NotesChanged(keys)
	}
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes store error", attrs...)
}
