package database

import (
	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
)

// noteRow is the persisted form of a note record.
type noteRow struct {
	StorageKey       string `gorm:"column:storage_key;primaryKey;size:190;not null"`
	Text             string `gorm:"column:text;type:text;not null"`
	Nickname         string `gorm:"column:nickname;size:190;not null;default:'';index:idx_player_notes_nickname"`
	PreviousNickname string `gorm:"column:previous_nickname;size:190;not null;default:''"`
	TimestampMillis  int64  `gorm:"column:timestamp_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (noteRow) TableName() string {
	return "player_notes"
}

func newNoteRow(key notes.StorageKey, record notes.Record) noteRow {
	return noteRow{
		StorageKey:       key.String(),
		Text:             record.Text,
		Nickname:         record.Nickname,
		PreviousNickname: record.PreviousNickname,
		TimestampMillis:  record.Timestamp,
	}
}

func (row noteRow) record() notes.Record {
	return notes.Record{
		Text:             row.Text,
		Nickname:         row.Nickname,
		PreviousNickname: row.PreviousNickname,
		Timestamp:        row.TimestampMillis,
	}
}

// changeRow is one entry of the note change journal.
type changeRow struct {
	ChangeID        string              `gorm:"column:change_id;primaryKey;size:190;not null"`
	StorageKey      string              `gorm:"column:storage_key;size:190;not null;index:idx_note_changes_key"`
	Operation       notes.OperationType `gorm:"column:op;size:32;not null"`
	Nickname        string              `gorm:"column:nickname;size:190;not null;default:''"`
	AppliedAtMillis int64               `gorm:"column:applied_at_ms;not null;index:idx_note_changes_time"`
}

// TableName provides the explicit table binding for GORM.
func (changeRow) TableName() string {
	return "player_note_changes"
}

func newChangeRow(change notes.Change) changeRow {
	return changeRow{
		ChangeID:        change.ChangeID,
		StorageKey:      change.Key.String(),
		Operation:       change.Operation,
		Nickname:        change.Nickname,
		AppliedAtMillis: change.AppliedAtMillis,
	}
}

func (row changeRow) change() notes.Change {
	return notes.Change{
		ChangeID:        row.ChangeID,
		Key:             notes.StorageKey(row.StorageKey),
		Operation:       row.Operation,
		Nickname:        row.Nickname,
		AppliedAtMillis: row.AppliedAtMillis,
	}
}

// settingsRow stores a named JSON settings document.
type settingsRow struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (settingsRow) TableName() string {
	return "settings"
}
