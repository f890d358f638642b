// Package render decides which player cards still need a note indicator.
package render

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// TooltipPreviewLimit bounds the hover preview of a note.
	TooltipPreviewLimit = 100
	// ListPreviewLimit bounds the preview shown in the popup list.
	ListPreviewLimit = 40

	ellipsis = "..."
)

// Preview truncates text to limit runes for display. Stored text is never truncated.
func Preview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + ellipsis
}

// Tracker remembers which page elements already carry an indicator.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// MarkSeen records elementID and reports whether it was new.
func (t *Tracker) MarkSeen(elementID string) bool {
	elementID = strings.TrimSpace(elementID)
	if elementID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[elementID]; ok {
		return false
	}
	t.seen[elementID] = struct{}{}
	return true
}


// Reset forgets every element, e.g. when the extension is re-enabled.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.seen = make(map[string]struct{})
	t.mu.Unlock()
}

// Len returns the number of tracked elements.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
