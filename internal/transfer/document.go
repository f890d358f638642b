// Package transfer reads and writes the notes export document.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
)

// FormatVersion is written into every export.
const FormatVersion = "1.0"

var (
	// ErrInvalidDocument indicates a file that is not an export document.
	ErrInvalidDocument = errors.New("transfer: invalid file format")
	// ErrMissingNotes indicates an export without a notes object.
	ErrMissingNotes = errors.New("transfer: notes must be an object")
	// ErrInvalidColors indicates an export whose settings carry unusable note colors.
	ErrInvalidColors = errors.New("transfer: invalid note colors")
)

// Document is the export file.
type Document struct {
	Version    string           `json:"version"`
	ExportDate string           `json:"exportDate"`
	Notes      notes.Collection `json:"notes"`
	Settings   DocumentSettings `json:"settings"`
}

// DocumentSettings carries the exported preferences.
type DocumentSettings struct {
	Colors *settings.Colors `json:"colors,omitempty"`
}

// NoteStore is the part of the note store used by export and import.
type NoteStore interface {
	Records() notes.Collection
	MergeImport(ctx context.Context, imported notes.Collection) (notes.MergeResult, error)
}

// ColorStore is the part of the settings service used by export and import.
type ColorStore interface {
	Current() settings.Settings
	SetColors(ctx context.Context, colors settings.Colors) (settings.Settings, error)
}

// ImportResult reports what an import changed.
type ImportResult struct {
	notes.MergeResult
	ColorsApplied bool
}

// Build assembles an export document.
func Build(store NoteStore, colors ColorStore, exportedAt time.Time) Document {
	document := Document{
		Version:    FormatVersion,
		ExportDate: exportedAt.UTC().Format(time.RFC3339Nano),
		Notes:      store.Records(),
	}
	if colors != nil {
		current := colors.Current().Colors
		document.Settings.Colors = &current
	}
	return document
}

// FileName is the suggested download name for an export made at exportedAt.
func FileName(exportedAt time.Time) string {
	return fmt.Sprintf("faceit-notes-%s.json", exportedAt.UTC().Format("2006-01-02"))
}

// Encode writes the document as indented JSON.
func Encode(writer io.Writer, document Document) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(document)
}

type rawDocument struct {
	Version    string          `json:"version"`
	ExportDate string          `json:"exportDate"`
	Notes      json.RawMessage `json:"notes"`
	Settings   struct {
		Colors *settings.Colors `json:"colors"`
	} `json:"settings"`
}

// Decode parses an export document. The whole file is rejected when notes is
// missing or not an object or when the colors are invalid; individual note
// values may be legacy plain strings.
func Decode(reader io.Reader) (Document, error) {
	var raw rawDocument
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	trimmed := bytes.TrimSpace(raw.Notes)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, ErrMissingNotes
	}

	if raw.Settings.Colors != nil {
		if err := raw.Settings.Colors.Validate(); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidColors, err)
		}
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	collection := make(notes.Collection, len(values))
	for rawKey, value := range values {
		key, err := notes.NewStorageKey(rawKey)
		if err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		record, _, err := notes.DecodeRecord(key, value)
		if err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		collection[key] = record
	}

	return Document{
		Version:    raw.Version,
		ExportDate: raw.ExportDate,
		Notes:      collection,
		Settings:   DocumentSettings{Colors: raw.Settings.Colors},
	}, nil
}

// Import merges the document notes and applies its colors when present and valid.
func Import(ctx context.Context, document Document, store NoteStore, colors ColorStore) (ImportResult, error) {
	merged, err := store.MergeImport(ctx, document.Notes)
	result := ImportResult{MergeResult: merged}
	if err != nil {
		return result, err
	}
	if colors != nil && document.Settings.Colors != nil {
		if _, err := colors.SetColors(ctx, *document.Settings.Colors); err != nil {
			return result, err
		}
		result.ColorsApplied = true
	}
	return result, nil
}
