package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/render"
	"github.com/MarcoPoloResearchLab/playernotes/internal/transfer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxImportBytes = 16 << 20

type notePayload struct {
	Key              string `json:"key"`
	Nickname         string `json:"nickname"`
	PreviousNickname string `json:"previousNickname,omitempty"`
	Text             string `json:"text"`
	Preview          string `json:"preview"`
	Timestamp        int64  `json:"timestamp"`
}

func newNotePayload(key notes.StorageKey, record notes.Record) notePayload {
	return notePayload{
		Key:              key.String(),
		Nickname:         record.Nickname,
		PreviousNickname: record.PreviousNickname,
		Text:             record.Text,
		Preview:          render.Preview(record.Text, render.ListPreviewLimit),
		Timestamp:        record.Timestamp,
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	entries := h.notes.List(c.Query("q"))
	payload := make([]notePayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, newNotePayload(entry.Key, entry.Record))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload, "count": len(payload)})
}

func (h *httpHandler) handleCountNotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.notes.Count()})
}

type lookupResponsePayload struct {
	Nickname        string       `json:"nickname"`
	PlayerID        string       `json:"playerId,omitempty"`
	CurrentNickname string       `json:"currentNickname,omitempty"`
	HasNote         bool         `json:"hasNote"`
	Text            string       `json:"text"`
	Note            *notePayload `json:"note,omitempty"`
}

func (h *httpHandler) handleLookupNote(c *gin.Context) {
	nickname := strings.TrimSpace(c.Query("nickname"))
	playerID := strings.TrimSpace(c.Query("playerId"))
	if profileURL := strings.TrimSpace(c.Query("profileUrl")); nickname == "" && profileURL != "" {
		if extracted, ok := faceit.ExtractPlayerNickname(profileURL); ok {
			nickname = strings.TrimSpace(extracted)
		}
	}
	if nickname == "" && playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname, playerId or profileUrl required", "code": "notes.lookup.invalid_input"})
		return
	}
	if playerID == "" {
		if resolved, ok := h.resolver.ResolveIdentifier(nickname); ok && resolved != nickname {
			playerID = resolved
		}
	}

	response := lookupResponsePayload{Nickname: nickname, PlayerID: playerID}
	if playerID != "" {
		if current, ok := h.resolver.ResolveCurrentNickname(playerID); ok {
			response.CurrentNickname = current
		}
	}

	lookup := nickname
	if playerID != "" {
		lookup = playerID
	}
	entry, found := h.notes.Lookup(lookup)
	if !found && lookup != nickname && nickname != "" {
		entry, found = h.notes.Lookup(nickname)
	}
	if found {
		payload := newNotePayload(entry.Key, entry.Record)
		response.HasNote = true
		response.Text = entry.Record.Text
		response.Note = &payload
	}
	c.JSON(http.StatusOK, response)
}

type saveRequestPayload struct {
	LobbyNickname   string `json:"lobbyNickname"`
	Text            string `json:"text"`
	PlayerID        string `json:"playerId"`
	CurrentNickname string `json:"currentNickname"`
}

func (h *httpHandler) handleSaveNote(c *gin.Context) {
	var request saveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "notes.save.invalid_request"})
		return
	}

	outcome, err := h.notes.Save(c.Request.Context(), notes.SaveRequest{
		LobbyNickname:   request.LobbyNickname,
		Text:            request.Text,
		Identifier:      request.PlayerID,
		CurrentNickname: request.CurrentNickname,
	})
	if err != nil {
		h.respondError(c, noteErrorStatus(err), "notes.save.failed", err)
		return
	}

	if outcome.Deleted {
		c.JSON(http.StatusOK, gin.H{"key": outcome.Key.String(), "deleted": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":     outcome.Key.String(),
		"deleted": false,
		"note":    newNotePayload(outcome.Key, outcome.Record),
	})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	deleted, err := h.notes.Delete(c.Request.Context(), c.Param("nickname"))
	if err != nil {
		h.respondError(c, noteErrorStatus(err), "notes.delete.failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleRecentChanges(c *gin.Context) {
	if h.changes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "change journal unavailable", "code": "notes.changes.unavailable"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": "notes.changes.invalid_limit"})
			return
		}
		limit = parsed
	}
	changes, err := h.changes.RecentChanges(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "notes.changes.load_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *httpHandler) handleExport(c *gin.Context) {
	exportedAt := h.clock()
	document := transfer.Build(h.notes, h.settings, exportedAt)

	var buffer bytes.Buffer
	if err := transfer.Encode(&buffer, document); err != nil {
		h.respondError(c, http.StatusInternalServerError, "transfer.export.encode_failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+transfer.FileName(exportedAt)+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", buffer.Bytes())
}

func (h *httpHandler) handleImport(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	document, err := transfer.Decode(body)
	if err != nil {
		h.logger.Warn("import rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file format: " + err.Error(), "code": importErrorCode(err)})
		return
	}

	result, err := transfer.Import(c.Request.Context(), document, h.notes, h.settings)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "transfer.import.failed", err)
		return
	}
	if result.ColorsApplied {
		h.dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventSettingsChanged})
	}
	c.JSON(http.StatusOK, gin.H{
		"imported":      result.Imported,
		"skipped":       result.Skipped,
		"colorsApplied": result.ColorsApplied,
	})
}

func importErrorCode(err error) string {
	switch {
	case errors.Is(err, transfer.ErrMissingNotes):
		return "transfer.import.missing_notes"
	case errors.Is(err, transfer.ErrInvalidColors):
		return "transfer.import.invalid_colors"
	}
	return "transfer.import.invalid_document"
}
