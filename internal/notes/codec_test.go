package notes

import (
	"errors"
	"testing"
)

func TestParseRecordKeepsValueAsIs(t *testing.T) {
	record, err := ParseRecord([]byte(`"  legacy  "`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Text != "  legacy  " || record.Nickname != "" {
		t.Fatalf("unexpected record %#v", record)
	}

	record, err = ParseRecord([]byte(`{"text":"t","nickname":"n","timestamp":7}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != (Record{Text: "t", Nickname: "n", Timestamp: 7}) {
		t.Fatalf("unexpected record %#v", record)
	}
}

func TestParseRecordRejectsInvalidValues(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "42", "[1]", `"unterminated`} {
		if _, err := ParseRecord([]byte(raw)); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected invalid record for %q, got %v", raw, err)
		}
	}
}

func TestDecodeRecordUpgradesLegacyValues(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     Record
		upgraded bool
	}{
		{name: "bare-string", raw: `" old "`, want: Record{Text: "old", Nickname: "bob"}, upgraded: true},
		{name: "missing-nickname", raw: `{"text":"x","timestamp":5}`, want: Record{Text: "x", Nickname: "bob", Timestamp: 5}, upgraded: true},
		{name: "previous-equals-current", raw: `{"text":"x","nickname":"bob","previousNickname":"bob"}`, want: Record{Text: "x", Nickname: "bob"}, upgraded: true},
		{name: "negative-timestamp", raw: `{"text":"x","nickname":"bob","timestamp":-3}`, want: Record{Text: "x", Nickname: "bob"}, upgraded: true},
		{name: "current", raw: `{"text":"x","nickname":"bobby","previousNickname":"bob","timestamp":9}`, want: Record{Text: "x", Nickname: "bobby", PreviousNickname: "bob", Timestamp: 9}, upgraded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, upgraded, err := DecodeRecord("bob", []byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if record != tt.want || upgraded != tt.upgraded {
				t.Fatalf("got %#v upgraded=%v", record, upgraded)
			}
		})
	}
}

func TestEncodeRecordOmitsEmptyPreviousNickname(t *testing.T) {
	encoded, err := EncodeRecord(Record{Text: "x", Nickname: "n", Timestamp: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(encoded) != `{"text":"x","nickname":"n","timestamp":1}` {
		t.Fatalf("unexpected encoding %s", encoded)
	}
}
