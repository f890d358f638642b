package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errWriteFailed = errors.New("disk full")

type memoryRepository struct {
	mu        sync.Mutex
	records   notes.Collection
	changes   []notes.Change
	settings  *settings.Settings
	failWrite bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{records: make(notes.Collection)}
}

func (r *memoryRepository) LoadNotes(context.Context) (notes.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.Clone(), nil
}

func (r *memoryRepository) ApplyMutation(_ context.Context, mutation notes.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite {
		return errWriteFailed
	}
	for key, record := range mutation.Upserts {
		r.records[key] = record
	}
	for _, key := range mutation.Deletes {
		delete(r.records, key)
	}
	r.changes = append(r.changes, mutation.Changes...)
	return nil
}

func (r *memoryRepository) RecentChanges(_ context.Context, limit int) ([]notes.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notes.Change, 0, len(r.changes))
	for index := len(r.changes) - 1; index >= 0; index-- {
		out = append(out, r.changes[index])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepository) LoadSettings(context.Context) (settings.Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return settings.Settings{}, false, nil
	}
	return *r.settings, true, nil
}

func (r *memoryRepository) SaveSettings(_ context.Context, value settings.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite {
		return errWriteFailed
	}
	r.settings = &value
	return nil
}

func (r *memoryRepository) setFailWrite(fail bool) {
	r.mu.Lock()
	r.failWrite = fail
	r.mu.Unlock()
}

type stubMatchLoader struct {
	batch   []identity.Observation
	players map[string]faceit.Player
	err     error
	calls   []string
}

func (s *stubMatchLoader) LoadMatchPlayers(_ context.Context, matchID string) ([]identity.Observation, error) {
	s.calls = append(s.calls, matchID)
	return s.batch, s.err
}

func (s *stubMatchLoader) FetchPlayer(_ context.Context, playerID string) (faceit.Player, error) {
	s.calls = append(s.calls, playerID)
	if s.err != nil {
		return faceit.Player{}, s.err
	}
	player, ok := s.players[playerID]
	if !ok {
		return faceit.Player{}, errors.New("player not found")
	}
	return player, nil
}

type stubTokenValidator struct {
	token string
}

func (s stubTokenValidator) ValidateRequest(r *http.Request) (string, error) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		return "", errors.New("unauthorized")
	}
	return "install-1", nil
}

type serverFixture struct {
	handler    http.Handler
	repository *memoryRepository
	store      *notes.Store
	resolver   *identity.Resolver
	dispatcher *RealtimeDispatcher
	matches    *stubMatchLoader
}

var fixtureNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func newServerFixture(t *testing.T, configure func(*Dependencies)) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repository := newMemoryRepository()
	resolver := identity.NewResolver(zap.NewNop())
	dispatcher := NewRealtimeDispatcher()
	store, err := notes.NewStore(notes.StoreConfig{
		Repository: repository,
		Resolver:   resolver,
		IDProvider: notes.NewUUIDProvider(),
		Clock:      func() time.Time { return fixtureNow },
		Notifier:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("failed to load store: %v", err)
	}
	settingsService, err := settings.NewService(context.Background(), repository, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build settings: %v", err)
	}

	matches := &stubMatchLoader{}
	deps := Dependencies{
		Notes:      store,
		Resolver:   resolver,
		Settings:   settingsService,
		Dispatcher: dispatcher,
		Matches:    matches,
		Changes:    repository,
		Clock:      func() time.Time { return fixtureNow },
		Logger:     zap.NewNop(),
	}
	if configure != nil {
		configure(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &serverFixture{
		handler:    handler,
		repository: repository,
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		matches:    matches,
	}
}

func (f *serverFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}
