package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeRecord parses a stored note value and fills the fields legacy values
// lack. The boolean reports whether the value needed upgrading.
func DecodeRecord(key StorageKey, raw []byte) (Record, bool, error) {
	record, err := ParseRecord(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("%s: %w", key, err)
	}
	normalized, upgraded := normalizeRecord(key, record)
	return normalized, upgraded, nil
}

// ParseRecord parses a stored note value as is. Older extension builds stored
// the note as a bare JSON string, which becomes a record with only Text set.
func ParseRecord(raw []byte) (Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Record{}, fmt.Errorf("%w: empty value", ErrInvalidRecord)
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return Record{Text: text}, nil
	}

	var record Record
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return record, nil
}

// EncodeRecord renders a record in the persisted JSON shape.
func EncodeRecord(record Record) ([]byte, error) {
	return json.Marshal(record)
}

// normalizeRecord fills fields that legacy records lack. The nickname of a
// record without one is its key, which keeps fallback keys self-mapped.
func normalizeRecord(key StorageKey, record Record) (Record, bool) {
	changed := false
	text := strings.TrimSpace(record.Text)
	if text != record.Text {
		record.Text = text
		changed = true
	}
	nickname := strings.TrimSpace(record.Nickname)
	if nickname == "" {
		nickname = key.String()
	}
	if nickname != record.Nickname {
		record.Nickname = nickname
		changed = true
	}
	previous := strings.TrimSpace(record.PreviousNickname)
	if previous == record.Nickname {
		previous = ""
	}
	if previous != record.PreviousNickname {
		record.PreviousNickname = previous
		changed = true
	}
	if record.Timestamp < 0 {
		record.Timestamp = 0
		changed = true
	}
	return record, changed
}
