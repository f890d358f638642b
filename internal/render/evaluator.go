package render

import "strings"

// NoteLookup answers note queries by identifier or nickname.
type NoteLookup interface {
	NoteText(identifierOrNickname string) string
}

// IdentifierLookup resolves a nickname to a player identifier.
type IdentifierLookup interface {
	ResolveIdentifier(nickname string) (string, bool)
}

// Card is a player card found on the page by the content script.
type Card struct {
	ElementID string `json:"elementId"`
	Nickname  string `json:"nickname"`
	PlayerID  string `json:"playerId,omitempty"`
}

// Indicator tells the content script how to render the note button of a card.
type Indicator struct {
	ElementID string `json:"elementId"`
	Nickname  string `json:"nickname"`
	PlayerID  string `json:"playerId,omitempty"`
	HasNote   bool   `json:"hasNote"`
	Preview   string `json:"preview,omitempty"`
}

// Evaluator turns a page scan into indicators for cards not yet decorated.
type Evaluator struct {
	tracker *Tracker
	notes   NoteLookup
	ids     IdentifierLookup
}

// NewEvaluator wires an evaluator.
func NewEvaluator(tracker *Tracker, notes NoteLookup, ids IdentifierLookup) *Evaluator {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Evaluator{tracker: tracker, notes: notes, ids: ids}
}

// Tracker exposes the seen-element bookkeeping.
func (e *Evaluator) Tracker() *Tracker {
	return e.tracker
}

// Evaluate returns indicators for cards seen for the first time. Within one scan
// a nickname gets at most one indicator; cards without element id or nickname
// are ignored.
func (e *Evaluator) Evaluate(cards []Card) []Indicator {
	indicators := make([]Indicator, 0, len(cards))
	scanned := make(map[string]struct{}, len(cards))
	for _, card := range cards {
		nickname := strings.TrimSpace(card.Nickname)
		elementID := strings.TrimSpace(card.ElementID)
		if nickname == "" || elementID == "" {
			continue
		}
		if _, ok := scanned[nickname]; ok {
			continue
		}
		if !e.tracker.MarkSeen(elementID) {
			continue
		}
		scanned[nickname] = struct{}{}

		playerID := strings.TrimSpace(card.PlayerID)
		if playerID == "" && e.ids != nil {
			if resolved, ok := e.ids.ResolveIdentifier(nickname); ok && resolved != nickname {
				playerID = resolved
			}
		}

		lookup := nickname
		if playerID != "" {
			lookup = playerID
		}
		text := ""
		if e.notes != nil {
			text = e.notes.NoteText(lookup)
			if text == "" && lookup != nickname {
				text = e.notes.NoteText(nickname)
			}
		}

		indicators = append(indicators, Indicator{
			ElementID: elementID,
			Nickname:  nickname,
			PlayerID:  playerID,
			HasNote:   text != "",
			Preview:   Preview(text, TooltipPreviewLimit),
		})
	}
	return indicators
}
