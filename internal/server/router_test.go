package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
)

func decodeBody(t *testing.T, body string, target any) {
	t.Helper()
	if err := json.Unmarshal([]byte(body), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", body, err)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingNoteStore) {
		t.Fatalf("expected missing note store error, got %v", err)
	}
}

func TestSaveLookupAndDeleteNote(t *testing.T) {
	fixture := newServerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"alice","text":"  solid entry  "}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var saved struct {
		Key  string      `json:"key"`
		Note notePayload `json:"note"`
	}
	decodeBody(t, recorder.Body.String(), &saved)
	if saved.Key != "alice" || saved.Note.Text != "solid entry" {
		t.Fatalf("unexpected save response %#v", saved)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/lookup?nickname=alice", "")
	var lookup lookupResponsePayload
	decodeBody(t, recorder.Body.String(), &lookup)
	if !lookup.HasNote || lookup.Text != "solid entry" {
		t.Fatalf("unexpected lookup %#v", lookup)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/count", "")
	if strings.TrimSpace(recorder.Body.String()) != `{"count":1}` {
		t.Fatalf("unexpected count body %s", recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodDelete, "/notes/alice", "")
	if strings.TrimSpace(recorder.Body.String()) != `{"deleted":true}` {
		t.Fatalf("unexpected delete body %s", recorder.Body.String())
	}
	recorder = fixture.do(t, http.MethodDelete, "/notes/alice", "")
	if strings.TrimSpace(recorder.Body.String()) != `{"deleted":false}` {
		t.Fatalf("expected idempotent delete, got %s", recorder.Body.String())
	}
}

func TestSaveNoteRejectsMissingNickname(t *testing.T) {
	fixture := newServerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPut, "/notes", `{"text":"orphan"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
	var body map[string]string
	decodeBody(t, recorder.Body.String(), &body)
	if body["code"] != "notes.save.invalid_input" {
		t.Fatalf("unexpected code %q", body["code"])
	}
}

func TestSaveNoteReportsPersistFailure(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.repository.setFailWrite(true)

	recorder := fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"bob","text":"x"}`)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected server error, got %d", recorder.Code)
	}
	var body map[string]string
	decodeBody(t, recorder.Body.String(), &body)
	if body["code"] != "notes.save.persist_failed" {
		t.Fatalf("unexpected code %q", body["code"])
	}
}

func TestIngestIdentitiesMigratesFallbackNote(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"alice","text":"good"}`)

	recorder := fixture.do(t, http.MethodPost, "/identities",
		`{"players":[{"playerId":"P1","lobbyNickname":"alice","currentNickname":"alice2"},{"playerId":"","lobbyNickname":"ghost"}]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result ingestResponsePayload
	decodeBody(t, recorder.Body.String(), &result)
	if result.Accepted != 1 || result.Skipped != 1 || result.Rekeyed != 1 || result.Renamed != 1 {
		t.Fatalf("unexpected ingest result %#v", result)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/lookup?nickname=alice2", "")
	var lookup lookupResponsePayload
	decodeBody(t, recorder.Body.String(), &lookup)
	if lookup.PlayerID != "P1" || lookup.Note == nil || lookup.Note.Key != "P1" {
		t.Fatalf("expected note under identifier, got %#v", lookup)
	}
	if lookup.Note.Nickname != "alice2" || lookup.Note.PreviousNickname != "alice" {
		t.Fatalf("unexpected nicknames %#v", lookup.Note)
	}

	recorder = fixture.do(t, http.MethodGet, "/identities/alice", "")
	var resolved map[string]string
	decodeBody(t, recorder.Body.String(), &resolved)
	if resolved["playerId"] != "P1" || resolved["currentNickname"] != "alice2" {
		t.Fatalf("unexpected identity %#v", resolved)
	}

	recorder = fixture.do(t, http.MethodGet, "/identities/nobody", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", recorder.Code)
	}
}

func TestIngestIdentitiesSkipsMalformedEntries(t *testing.T) {
	fixture := newServerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/identities",
		`{"players":[{"playerId":"P1","lobbyNickname":"alice"},{"playerId":42,"lobbyNickname":"bob"},"junk"]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result ingestResponsePayload
	decodeBody(t, recorder.Body.String(), &result)
	if result.Accepted != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected ingest result %#v", result)
	}
	if id, ok := fixture.resolver.ResolveIdentifier("alice"); !ok || id != "P1" {
		t.Fatalf("expected valid entry to be ingested, got %q %v", id, ok)
	}
	if _, ok := fixture.resolver.ResolveIdentifier("bob"); ok {
		t.Fatalf("expected malformed entry to be ignored")
	}
}

func TestSyncMatch(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.matches.batch = []identity.Observation{{PlayerID: "P9", LobbyNickname: "zed", CurrentNickname: "zed"}}

	recorder := fixture.do(t, http.MethodPost, "/matches/1-abc-123/sync", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(fixture.matches.calls) != 1 || fixture.matches.calls[0] != "1-abc-123" {
		t.Fatalf("unexpected loader calls %#v", fixture.matches.calls)
	}
	if id, ok := fixture.resolver.ResolveIdentifier("zed"); !ok || id != "P9" {
		t.Fatalf("expected ingested mapping, got %q %v", id, ok)
	}

	recorder = fixture.do(t, http.MethodPost, "/matches/not-a-match/sync", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}

	fixture.matches.err = errors.New("proxy down")
	recorder = fixture.do(t, http.MethodPost, "/matches/1-abc-123/sync", "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway, got %d", recorder.Code)
	}
}

func TestRefreshPlayerRenamesStoredNote(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.matches.players = map[string]faceit.Player{"P5": {PlayerID: "P5", Nickname: "kim2", Country: "kr"}}
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"kim","playerId":"P5","text":"entry fragger"}`)

	recorder := fixture.do(t, http.MethodGet, "/players/P5", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var player playerResponsePayload
	decodeBody(t, recorder.Body.String(), &player)
	if player.Nickname != "kim2" || player.Country != "kr" || !player.HasNote || player.Note == nil {
		t.Fatalf("unexpected player response %#v", player)
	}
	if player.Note.Nickname != "kim2" || player.Note.PreviousNickname != "kim" {
		t.Fatalf("expected stored note to follow the rename, got %#v", player.Note)
	}
	if fixture.store.NoteText("kim2") != "entry fragger" {
		t.Fatalf("expected note reachable by current nickname")
	}

	recorder = fixture.do(t, http.MethodGet, "/players/P404", "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway, got %d", recorder.Code)
	}
}

func TestLookupNoteByProfileURL(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"déjà","text":"awper"}`)

	recorder := fixture.do(t, http.MethodGet, "/notes/lookup?profileUrl="+url.QueryEscape("https://www.faceit.com/en/players/d%C3%A9j%C3%A0"), "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var lookup lookupResponsePayload
	decodeBody(t, recorder.Body.String(), &lookup)
	if lookup.Nickname != "déjà" || !lookup.HasNote || lookup.Text != "awper" {
		t.Fatalf("unexpected lookup %#v", lookup)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/lookup?profileUrl="+url.QueryEscape("https://www.faceit.com/en/room/1-abc"), "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for non-profile url, got %d", recorder.Code)
	}
}

func TestListNotesFiltersByQuery(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"bob","text":"camper"}`)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"Alice","text":"entry fragger"}`)

	recorder := fixture.do(t, http.MethodGet, "/notes", "")
	var listed struct {
		Notes []notePayload `json:"notes"`
		Count int           `json:"count"`
	}
	decodeBody(t, recorder.Body.String(), &listed)
	if listed.Count != 2 || listed.Notes[0].Nickname != "Alice" {
		t.Fatalf("unexpected list %#v", listed)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes?q=CAMP", "")
	decodeBody(t, recorder.Body.String(), &listed)
	if listed.Count != 1 || listed.Notes[0].Key != "bob" {
		t.Fatalf("unexpected filtered list %#v", listed)
	}
}

func TestRecentChangesNewestFirst(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"bob","text":"one"}`)
	fixture.do(t, http.MethodDelete, "/notes/bob", "")

	recorder := fixture.do(t, http.MethodGet, "/changes?limit=1", "")
	var body struct {
		Changes []struct {
			Operation string `json:"operation"`
			Key       string `json:"key"`
		} `json:"changes"`
	}
	decodeBody(t, recorder.Body.String(), &body)
	if len(body.Changes) != 1 || body.Changes[0].Operation != "delete" || body.Changes[0].Key != "bob" {
		t.Fatalf("unexpected changes %#v", body.Changes)
	}

	recorder = fixture.do(t, http.MethodGet, "/changes?limit=abc", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestExportAndImport(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"bob","text":"one"}`)

	recorder := fixture.do(t, http.MethodGet, "/export", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Header().Get("Content-Disposition"), "faceit-notes-2026-10-17.json") {
		t.Fatalf("unexpected disposition %q", recorder.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(recorder.Body.String(), `"bob"`) {
		t.Fatalf("expected note in export: %s", recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodPost, "/import",
		`{"version":"1.0","notes":{"P2":{"text":"imported","nickname":"carol","timestamp":5},"dave":"legacy"},"settings":{"colors":{"noNote":"#000000","withNote":"#ffffff"}}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var result map[string]any
	decodeBody(t, recorder.Body.String(), &result)
	if result["imported"] != float64(2) || result["colorsApplied"] != true {
		t.Fatalf("unexpected import result %#v", result)
	}
	if fixture.store.NoteText("carol") != "imported" {
		t.Fatalf("expected imported note to resolve by nickname")
	}

	recorder = fixture.do(t, http.MethodPost, "/import",
		`{"notes":{"P3":{"text":"never","nickname":"erin","timestamp":9}},"settings":{"colors":{"noNote":"red","withNote":"#ffffff"}}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid colors, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if fixture.store.NoteText("P3") != "" || fixture.store.Count() != 3 {
		t.Fatalf("expected rejected import to leave notes untouched, count=%d", fixture.store.Count())
	}

	recorder = fixture.do(t, http.MethodPost, "/import", `{"notes":[]}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
	var rejected map[string]string
	decodeBody(t, recorder.Body.String(), &rejected)
	if rejected["code"] != "transfer.import.missing_notes" || !strings.HasPrefix(rejected["error"], "Invalid file format") {
		t.Fatalf("unexpected rejection %#v", rejected)
	}
}

func TestEvaluateAndResetRender(t *testing.T) {
	fixture := newServerFixture(t, nil)
	fixture.do(t, http.MethodPut, "/notes", `{"lobbyNickname":"alice","text":"good"}`)

	body := `{"cards":[{"elementId":"card-1","nickname":"alice"},{"elementId":"card-2","nickname":"bob"}]}`
	recorder := fixture.do(t, http.MethodPost, "/render/evaluate", body)
	var evaluated struct {
		Indicators []struct {
			ElementID string `json:"elementId"`
			HasNote   bool   `json:"hasNote"`
			Preview   string `json:"preview"`
		} `json:"indicators"`
	}
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 2 || !evaluated.Indicators[0].HasNote || evaluated.Indicators[1].HasNote {
		t.Fatalf("unexpected indicators %#v", evaluated.Indicators)
	}

	recorder = fixture.do(t, http.MethodPost, "/render/evaluate", body)
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 0 {
		t.Fatalf("expected decorated cards to be skipped, got %#v", evaluated.Indicators)
	}

	recorder = fixture.do(t, http.MethodPost, "/render/reset", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", recorder.Code)
	}
	recorder = fixture.do(t, http.MethodPost, "/render/evaluate", body)
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 2 {
		t.Fatalf("expected cards to be evaluated again after reset, got %#v", evaluated.Indicators)
	}
}

func TestUpdateSettings(t *testing.T) {
	fixture := newServerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPut, "/settings", `{"noteColors":{"noNote":"red","withNote":"#00ff00"}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodPut, "/settings", `{"noteColors":{"noNote":"#000000","withNote":"#000000"},"extensionEnabled":false}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var updated settingsPayload
	decodeBody(t, recorder.Body.String(), &updated)
	if updated.ExtensionEnabled || updated.NoteColors.WithNote != "#000000" || updated.HoverColor != "#262626" {
		t.Fatalf("unexpected settings %#v", updated)
	}

	recorder = fixture.do(t, http.MethodPut, "/settings", `{"resetColors":true}`)
	decodeBody(t, recorder.Body.String(), &updated)
	if updated.NoteColors.WithNote != "#4caf50" || updated.ExtensionEnabled {
		t.Fatalf("expected colors reset only, got %#v", updated)
	}
}

func TestToggleExtensionResetsRenderTracker(t *testing.T) {
	fixture := newServerFixture(t, nil)
	body := `{"cards":[{"elementId":"card-1","nickname":"alice"}]}`
	var evaluated struct {
		Indicators []json.RawMessage `json:"indicators"`
	}

	fixture.do(t, http.MethodPost, "/render/evaluate", body)
	recorder := fixture.do(t, http.MethodPost, "/render/evaluate", body)
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 0 {
		t.Fatalf("expected seen card to be skipped, got %d indicators", len(evaluated.Indicators))
	}

	fixture.do(t, http.MethodPut, "/settings", `{"extensionEnabled":false}`)
	fixture.do(t, http.MethodPut, "/settings", `{"extensionEnabled":true}`)

	recorder = fixture.do(t, http.MethodPost, "/render/evaluate", body)
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 1 {
		t.Fatalf("expected card to be evaluated again after re-enable, got %d indicators", len(evaluated.Indicators))
	}

	fixture.do(t, http.MethodPut, "/settings", `{"extensionEnabled":true}`)
	recorder = fixture.do(t, http.MethodPost, "/render/evaluate", body)
	decodeBody(t, recorder.Body.String(), &evaluated)
	if len(evaluated.Indicators) != 0 {
		t.Fatalf("expected unchanged enable flag to keep bookkeeping, got %d indicators", len(evaluated.Indicators))
	}
}

func TestAuthorizationRequiredWhenEnabled(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies) {
		deps.Tokens = stubTokenValidator{token: "good"}
	})

	if recorder := fixture.do(t, http.MethodGet, "/healthz", ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected open health check, got %d", recorder.Code)
	}
	if recorder := fixture.do(t, http.MethodGet, "/notes", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/notes", nil)
	request.Header.Set("Authorization", "Bearer good")
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected authorized request to pass, got %d", recorder.Code)
	}
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	fixture := newServerFixture(t, func(deps *Dependencies) {
		deps.AllowedOrigins = []string{"chrome-extension://*"}
	})

	request := httptest.NewRequest(http.MethodOptions, "/notes", nil)
	request.Header.Set("Origin", "chrome-extension://abcdef")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "chrome-extension://abcdef" {
		t.Fatalf("expected extension origin to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}

	request = httptest.NewRequest(http.MethodOptions, "/notes", nil)
	request.Header.Set("Origin", "https://evil.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	recorder = httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected foreign origin to be rejected")
	}
}
