package notes

import (
	"errors"
	"fmt"
	"strings"
)

// OperationType enumerates the journaled note mutations.
type OperationType string

const (
	// OperationTypeUpsert records an insert or text update.
	OperationTypeUpsert OperationType = "upsert"
	// OperationTypeDelete records a removed note.
	OperationTypeDelete OperationType = "delete"
	// OperationTypeRename records a display nickname change observed by the resolver.
	OperationTypeRename OperationType = "rename"
	// OperationTypeRekey records a fallback-keyed note moved to its player identifier.
	OperationTypeRekey OperationType = "rekey"
	// OperationTypeImport records a note taken from an import document.
	OperationTypeImport OperationType = "import"
	// OperationTypeUpgrade records a legacy record rewritten in the current shape.
	OperationTypeUpgrade OperationType = "upgrade"
)

const maxKeyLength = 190

var (
	// ErrInvalidStorageKey indicates that a storage key is empty or exceeds storage bounds.
	ErrInvalidStorageKey = errors.New("notes: invalid storage key")
	// ErrInvalidInput indicates a save request without identifier and nickname.
	ErrInvalidInput = errors.New("notes: identifier or nickname required")
	// ErrInvalidRecord indicates a persisted or imported record that cannot be decoded.
	ErrInvalidRecord = errors.New("notes: invalid record")
)

// StorageKey is the key a note lives under: the player identifier when one is
// known, otherwise the nickname itself.
type StorageKey string

// NewStorageKey validates raw input and returns a StorageKey.
func NewStorageKey(rawInput string) (StorageKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidStorageKey)
	}
	if len(trimmed) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidStorageKey, maxKeyLength)
	}
	return StorageKey(trimmed), nil
}

// String returns the underlying key.
func (key StorageKey) String() string {
	return string(key)
}

// Record is the persisted note for one player.
type Record struct {
	Text             string `json:"text"`
	Nickname         string `json:"nickname"`
	PreviousNickname string `json:"previousNickname,omitempty"`
	Timestamp        int64  `json:"timestamp"`
}

// Collection maps storage keys to note records.
type Collection map[StorageKey]Record

// Clone returns a shallow copy safe to hand to callers.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for key, record := range c {
		out[key] = record
	}
	return out
}

// Entry pairs a record with its storage key for list views.
type Entry struct {
	Key    StorageKey
	Record Record
}

// DisplayName returns the nickname shown for the entry.
func (e Entry) DisplayName() string {
	if e.Record.Nickname != "" {
		return e.Record.Nickname
	}
	return e.Key.String()
}

// SaveRequest carries the arguments of a save from the UI.
type SaveRequest struct {
	LobbyNickname   string
	Text            string
	Identifier      string
	CurrentNickname string
}

// SaveOutcome reports where a save landed.
type SaveOutcome struct {
	Key     StorageKey
	Record  Record
	Deleted bool
}

// MergeResult counts the outcome of an import merge.
type MergeResult struct {
	Imported int
	Skipped  int
}

// Change is one entry of the append-only note journal.
type Change struct {
	ChangeID        string        `json:"changeId"`
	Key             StorageKey    `json:"key"`
	Operation       OperationType `json:"operation"`
	Nickname        string        `json:"nickname"`
	AppliedAtMillis int64         `json:"appliedAt"`
}

// Mutation is the unit handed to a Repository; it must be applied atomically
// where the backend supports it.
type Mutation struct {
	Upserts map[StorageKey]Record
	Deletes []StorageKey
	Changes []Change
}

// Empty reports whether the mutation carries no work.
func (m Mutation) Empty() bool {
	return len(m.Upserts) == 0 && len(m.Deletes) == 0 && len(m.Changes) == 0
}
