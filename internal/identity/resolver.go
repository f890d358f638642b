// Package identity maps volatile display nicknames to durable player identifiers.
package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Observation is one entry of an identity batch from the external lookup.
// The batch is untrusted: entries missing PlayerID or LobbyNickname are skipped.
type Observation struct {
	PlayerID        string `json:"playerId"`
	LobbyNickname   string `json:"lobbyNickname"`
	CurrentNickname string `json:"currentNickname,omitempty"`
}

// Move asks the note directory to reconcile stored notes with an accepted observation.
type Move struct {
	PlayerID        string
	LobbyNickname   string
	CurrentNickname string
}

// ReconcileResult counts the note records touched by a reconcile pass.
type ReconcileResult struct {
	Renamed int
	Rekeyed int
}

// NoteDirectory is the view of the note store the resolver needs.
type NoteDirectory interface {
	// Nicknames returns storage key -> stored nickname for every record.
	Nicknames() map[string]string
	// Reconcile applies the moves to stored records and persists the result once.
	Reconcile(ctx context.Context, moves []Move) (ReconcileResult, error)
}

// IngestResult summarizes an Ingest call.
type IngestResult struct {
	Accepted int
	Skipped  int
	Renamed  int
	Rekeyed  int
}

// Snapshot is a copy of the resolver maps.
type Snapshot struct {
	NicknameToID        map[string]string `json:"nicknameToId"`
	IDToCurrentNickname map[string]string `json:"idToCurrentNickname"`
}

// Resolver holds nickname -> identifier and identifier -> current nickname maps.
// It is derived state: RebuildFromNotes recreates it from the note store at any time.
type Resolver struct {
	mu                  sync.RWMutex
	nicknameToID        map[string]string
	idToCurrentNickname map[string]string
	logger              *zap.Logger
}

// NewResolver constructs an empty resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		nicknameToID:        make(map[string]string),
		idToCurrentNickname: make(map[string]string),
		logger:              logger,
	}
}

// RebuildFromNotes replaces nicknameToID with stored nickname -> storage key.
// Keys are visited in sorted order and an identifier-keyed record wins over a
// fallback record that carries the same nickname, so repeated calls agree.
func (r *Resolver) RebuildFromNotes(dir NoteDirectory) {
	entries := map[string]string{}
	if dir != nil {
		entries = dir.Nicknames()
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rebuilt := make(map[string]string, len(keys))
	for _, key := range keys {
		nickname := strings.TrimSpace(entries[key])
		if nickname == "" {
			continue
		}
		existing, ok := rebuilt[nickname]
		if ok && existing != nickname {
			continue
		}
		if ok && key == nickname {
			continue
		}
		rebuilt[nickname] = key
	}

	r.mu.Lock()
	r.nicknameToID = rebuilt
	r.mu.Unlock()

	r.logger.Debug("identity mapping rebuilt", zap.Int("nicknames", len(rebuilt)))
}

// Ingest records the batch in the maps and asks dir to migrate affected notes.
// The resolver lock is released before dir is called.
func (r *Resolver) Ingest(ctx context.Context, dir NoteDirectory, batch []Observation) (IngestResult, error) {
	result := IngestResult{}
	moves := make([]Move, 0, len(batch))

	r.mu.Lock()
	for index, observation := range batch {
		playerID := strings.TrimSpace(observation.PlayerID)
		lobby := strings.TrimSpace(observation.LobbyNickname)
		current := strings.TrimSpace(observation.CurrentNickname)
		if playerID == "" || lobby == "" {
			result.Skipped++
			r.logger.Debug("identity observation skipped",
				zap.Int("index", index),
				zap.String("player_id", playerID),
				zap.String("lobby_nickname", lobby))
			continue
		}

		r.nicknameToID[lobby] = playerID
		if current != "" {
			r.idToCurrentNickname[playerID] = current
			if current != lobby {
				r.nicknameToID[current] = playerID
			}
		}
		result.Accepted++
		moves = append(moves, Move{
			PlayerID:        playerID,
			LobbyNickname:   lobby,
			CurrentNickname: current,
		})
	}
	r.mu.Unlock()

	if dir == nil || len(moves) == 0 {
		return result, nil
	}

	reconciled, err := dir.Reconcile(ctx, moves)
	result.Renamed = reconciled.Renamed
	result.Rekeyed = reconciled.Rekeyed
	if err != nil {
		r.logger.Error("identity reconcile failed", zap.Error(err), zap.Int("moves", len(moves)))
		return result, err
	}

	r.logger.Info("identity batch ingested",
		zap.Int("accepted", result.Accepted),
		zap.Int("skipped", result.Skipped),
		zap.Int("renamed", result.Renamed),
		zap.Int("rekeyed", result.Rekeyed))
	return result, nil
}

// ResolveIdentifier returns the identifier mapped to nickname.
func (r *Resolver) ResolveIdentifier(nickname string) (string, bool) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	identifier, ok := r.nicknameToID[nickname]
	return identifier, ok
}

// ResolveCurrentNickname returns the latest externally observed nickname for identifier.
func (r *Resolver) ResolveCurrentNickname(identifier string) (string, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	nickname, ok := r.idToCurrentNickname[identifier]
	return nickname, ok
}

// Bind maps nickname to key. Binding a nickname to itself marks it fallback-identified.
func (r *Resolver) Bind(nickname, key string) {
	nickname = strings.TrimSpace(nickname)
	key = strings.TrimSpace(key)
	if nickname == "" || key == "" {
		return
	}
	r.mu.Lock()
	r.nicknameToID[nickname] = key
	r.mu.Unlock()
}

// BindRecord maps the nickname of a stored record to its key. A fallback record
// (key equal to nickname) never replaces a mapping to an identifier.
func (r *Resolver) BindRecord(nickname, key string) {
	nickname = strings.TrimSpace(nickname)
	key = strings.TrimSpace(key)
	if nickname == "" || key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nicknameToID[nickname]; ok && key == nickname && existing != nickname {
		return
	}
	r.nicknameToID[nickname] = key
}

// Forget drops the mapping for nickname.
func (r *Resolver) Forget(nickname string) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return
	}
	r.mu.Lock()
	delete(r.nicknameToID, nickname)
	r.mu.Unlock()
}

// Snapshot copies both maps.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := Snapshot{
		NicknameToID:        make(map[string]string, len(r.nicknameToID)),
		IDToCurrentNickname: make(map[string]string, len(r.idToCurrentNickname)),
	}
	for nickname, identifier := range r.nicknameToID {
		snapshot.NicknameToID[nickname] = identifier
	}
	for identifier, nickname := range r.idToCurrentNickname {
		snapshot.IDToCurrentNickname[identifier] = nickname
	}
	return snapshot
}
