package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"go.uber.org/zap"
)

var errRepositoryDown = errors.New("repository down")

type memoryRepository struct {
	mu        sync.Mutex
	records   Collection
	changes   []Change
	writes    int
	failWrite bool
}

func newMemoryRepository(seed Collection) *memoryRepository {
	if seed == nil {
		seed = Collection{}
	}
	return &memoryRepository{records: seed.Clone()}
}

func (r *memoryRepository) LoadNotes(context.Context) (Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Clone(), nil
}

func (r *memoryRepository) ApplyMutation(_ context.Context, mutation Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite {
		return errRepositoryDown
	}
	for key, record := range mutation.Upserts {
		r.records[key] = record
	}
	for _, key := range mutation.Deletes {
		delete(r.records, key)
	}
	r.changes = append(r.changes, mutation.Changes...)
	r.writes++
	return nil
}

func (r *memoryRepository) persisted(key StorageKey) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	return record, ok
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("change-%d", p.next), nil
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.current = c.current.Add(time.Millisecond)
	return c.current
}

type recordingNotifier struct {
	batches [][]StorageKey
}

func (n *recordingNotifier) NotesChanged(keys []StorageKey) {
	n.batches = append(n.batches, keys)
}

type storeFixture struct {
	store      *Store
	resolver   *identity.Resolver
	repository *memoryRepository
	notifier   *recordingNotifier
}

func newStoreFixture(t *testing.T, seed Collection) storeFixture {
	t.Helper()
	repository := newMemoryRepository(seed)
	resolver := identity.NewResolver(zap.NewNop())
	notifier := &recordingNotifier{}
	clock := &testClock{current: time.UnixMilli(1_700_000_000_000)}
	store, err := NewStore(StoreConfig{
		Repository: repository,
		Resolver:   resolver,
		IDProvider: &sequenceIDProvider{},
		Clock:      clock.Now,
		Logger:     zap.NewNop(),
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("failed to load store: %v", err)
	}
	return storeFixture{store: store, resolver: resolver, repository: repository, notifier: notifier}
}

func mustSave(t *testing.T, store *Store, request SaveRequest) SaveOutcome {
	t.Helper()
	outcome, err := store.Save(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	return outcome
}
