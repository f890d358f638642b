package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"github.com/MarcoPoloResearchLab/playernotes/internal/render"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ingestRequestPayload struct {
	Players []json.RawMessage `json:"players"`
}

type ingestResponsePayload struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
	Renamed  int `json:"renamed"`
	Rekeyed  int `json:"rekeyed"`
}

func newIngestResponse(result identity.IngestResult) ingestResponsePayload {
	return ingestResponsePayload{
		Accepted: result.Accepted,
		Skipped:  result.Skipped,
		Renamed:  result.Renamed,
		Rekeyed:  result.Rekeyed,
	}
}

func (h *httpHandler) handleIngestIdentities(c *gin.Context) {
	var request ingestRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "identity.ingest.invalid_request"})
		return
	}
	batch, malformed := h.decodeObservations(request.Players)
	result, err := h.resolver.Ingest(c.Request.Context(), h.notes, batch)
	result.Skipped += malformed
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "identity.ingest.failed", err)
		return
	}
	c.JSON(http.StatusOK, newIngestResponse(result))
}

// decodeObservations decodes each entry on its own so one malformed player
// does not discard the rest of the batch.
func (h *httpHandler) decodeObservations(entries []json.RawMessage) ([]identity.Observation, int) {
	batch := make([]identity.Observation, 0, len(entries))
	malformed := 0
	for index, entry := range entries {
		var observation identity.Observation
		if err := json.Unmarshal(entry, &observation); err != nil {
			malformed++
			h.logger.Debug("identity observation malformed", zap.Int("index", index), zap.Error(err))
			continue
		}
		batch = append(batch, observation)
	}
	return batch, malformed
}

func (h *httpHandler) handleResolveIdentity(c *gin.Context) {
	nickname := strings.TrimSpace(c.Param("nickname"))
	playerID, ok := h.resolver.ResolveIdentifier(nickname)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown nickname", "code": "identity.resolve.not_found"})
		return
	}
	response := gin.H{"nickname": nickname, "playerId": playerID}
	if current, found := h.resolver.ResolveCurrentNickname(playerID); found {
		response["currentNickname"] = current
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSyncMatch(c *gin.Context) {
	if h.matches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match lookup unavailable", "code": "identity.sync.unavailable"})
		return
	}
	matchID := strings.TrimSpace(c.Param("matchId"))
	if extracted, ok := faceit.ExtractMatchID("/room/" + matchID); !ok || extracted != matchID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id", "code": "identity.sync.invalid_match"})
		return
	}

	batch, err := h.matches.LoadMatchPlayers(c.Request.Context(), matchID)
	if err != nil {
		h.logger.Warn("match lookup failed", zap.String("match_id", matchID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "identity.sync.lookup_failed"})
		return
	}
	result, err := h.resolver.Ingest(c.Request.Context(), h.notes, batch)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "identity.sync.failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matchId": matchID, "players": len(batch), "result": newIngestResponse(result)})
}

type playerResponsePayload struct {
	PlayerID string       `json:"playerId"`
	Nickname string       `json:"nickname"`
	Avatar   string       `json:"avatar,omitempty"`
	Country  string       `json:"country,omitempty"`
	HasNote  bool         `json:"hasNote"`
	Note     *notePayload `json:"note,omitempty"`
}

// handleRefreshPlayer fetches a player by identifier and feeds the current
// nickname to the resolver so a stored note follows a rename.
func (h *httpHandler) handleRefreshPlayer(c *gin.Context) {
	if h.matches == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "player lookup unavailable", "code": "identity.player.unavailable"})
		return
	}
	playerID := strings.TrimSpace(c.Param("playerId"))
	player, err := h.matches.FetchPlayer(c.Request.Context(), playerID)
	if err != nil {
		h.logger.Warn("player lookup failed", zap.String("player_id", playerID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "identity.player.lookup_failed"})
		return
	}

	nickname := strings.TrimSpace(player.Nickname)
	if nickname != "" {
		observation := identity.Observation{PlayerID: playerID, LobbyNickname: nickname, CurrentNickname: nickname}
		if _, err := h.resolver.Ingest(c.Request.Context(), h.notes, []identity.Observation{observation}); err != nil {
			h.respondError(c, http.StatusInternalServerError, "identity.player.failed", err)
			return
		}
	}

	response := playerResponsePayload{
		PlayerID: playerID,
		Nickname: nickname,
		Avatar:   player.Avatar,
		Country:  player.Country,
	}
	if entry, found := h.notes.Lookup(playerID); found {
		payload := newNotePayload(entry.Key, entry.Record)
		response.HasNote = true
		response.Note = &payload
	}
	c.JSON(http.StatusOK, response)
}

type evaluateRequestPayload struct {
	Cards []render.Card `json:"cards"`
}

func (h *httpHandler) handleEvaluate(c *gin.Context) {
	var request evaluateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "render.evaluate.invalid_request"})
		return
	}
	indicators := h.evaluator.Evaluate(request.Cards)
	c.JSON(http.StatusOK, gin.H{"indicators": indicators})
}

func (h *httpHandler) handleResetRender(c *gin.Context) {
	h.evaluator.Tracker().Reset()
	c.Status(http.StatusNoContent)
}
