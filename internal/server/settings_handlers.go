package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"github.com/gin-gonic/gin"
)

type settingsPayload struct {
	NoteColors       settings.Colors `json:"noteColors"`
	HoverColor       string          `json:"hoverColor"`
	ExtensionEnabled bool            `json:"extensionEnabled"`
}

func newSettingsPayload(value settings.Settings) settingsPayload {
	return settingsPayload{
		NoteColors:       value.Colors,
		HoverColor:       value.Colors.HoverColor(),
		ExtensionEnabled: value.ExtensionEnabled,
	}
}

type settingsUpdatePayload struct {
	NoteColors       *settings.Colors `json:"noteColors"`
	ResetColors      bool             `json:"resetColors"`
	ExtensionEnabled *bool            `json:"extensionEnabled"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, newSettingsPayload(h.settings.Current()))
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	var request settingsUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "settings.update.invalid_request"})
		return
	}

	ctx := c.Request.Context()
	current := h.settings.Current()
	var err error
	switch {
	case request.ResetColors:
		current, err = h.settings.ResetColors(ctx)
	case request.NoteColors != nil:
		current, err = h.settings.SetColors(ctx, *request.NoteColors)
	}
	toggled := false
	if err == nil && request.ExtensionEnabled != nil {
		toggled = *request.ExtensionEnabled != current.ExtensionEnabled
		current, err = h.settings.SetEnabled(ctx, *request.ExtensionEnabled)
	}
	if err != nil {
		if errors.Is(err, settings.ErrInvalidColors) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "settings.update.invalid_colors"})
			return
		}
		h.respondError(c, http.StatusInternalServerError, "settings.update.persist_failed", err)
		return
	}

	// Enabling or disabling the extension starts indicator bookkeeping over.
	if toggled {
		h.evaluator.Tracker().Reset()
	}
	h.dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventSettingsChanged})
	c.JSON(http.StatusOK, newSettingsPayload(current))
}
