// Package server exposes the note service over HTTP for the extension.
package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/render"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const installSubjectContextKey = "playernotes_install"

var (
	errMissingNoteStore  = errors.New("note store dependency required")
	errMissingResolver   = errors.New("identity resolver dependency required")
	errMissingSettings   = errors.New("settings service dependency required")
	errMissingDispatcher = errors.New("realtime dispatcher dependency required")
)

// TokenValidator authenticates a request and returns the install subject.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (string, error)
}

// MatchLoader fetches match and player data from the match data proxy.
type MatchLoader interface {
	LoadMatchPlayers(ctx context.Context, matchID string) ([]identity.Observation, error)
	FetchPlayer(ctx context.Context, playerID string) (faceit.Player, error)
}

// ChangeLog reads the note change journal.
type ChangeLog interface {
	RecentChanges(ctx context.Context, limit int) ([]notes.Change, error)
}

// Dependencies wires the HTTP handler. Tokens, Matches and Changes are optional:
// without Tokens every route is open, without Matches or Changes the matching
// routes answer 503.
type Dependencies struct {
	Notes          *notes.Store
	Resolver       *identity.Resolver
	Settings       *settings.Service
	Evaluator      *render.Evaluator
	Dispatcher     *RealtimeDispatcher
	Tokens         TokenValidator
	Matches        MatchLoader
	Changes        ChangeLog
	AllowedOrigins []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Notes == nil {
		return nil, errMissingNoteStore
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = render.NewEvaluator(render.NewTracker(), deps.Notes, deps.Resolver)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: originMatcher(deps.AllowedOrigins),
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	handler := &httpHandler{
		notes:      deps.Notes,
		resolver:   deps.Resolver,
		settings:   deps.Settings,
		evaluator:  evaluator,
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		matches:    deps.Matches,
		changes:    deps.Changes,
		clock:      clock,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	if handler.tokens != nil {
		protected.Use(handler.authorizeRequest)
	}
	protected.GET("/notes", handler.handleListNotes)
	protected.GET("/notes/lookup", handler.handleLookupNote)
	protected.GET("/notes/count", handler.handleCountNotes)
	protected.PUT("/notes", handler.handleSaveNote)
	protected.DELETE("/notes/:nickname", handler.handleDeleteNote)
	protected.GET("/changes", handler.handleRecentChanges)

	protected.GET("/export", handler.handleExport)
	protected.POST("/import", handler.handleImport)

	protected.POST("/identities", handler.handleIngestIdentities)
	protected.GET("/identities/:nickname", handler.handleResolveIdentity)
	protected.POST("/matches/:matchId/sync", handler.handleSyncMatch)
	protected.GET("/players/:playerId", handler.handleRefreshPlayer)

	protected.POST("/render/evaluate", handler.handleEvaluate)
	protected.POST("/render/reset", handler.handleResetRender)

	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings", handler.handleUpdateSettings)

	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	notes      *notes.Store
	resolver   *identity.Resolver
	settings   *settings.Service
	evaluator  *render.Evaluator
	dispatcher *RealtimeDispatcher
	tokens     TokenValidator
	matches    MatchLoader
	changes    ChangeLog
	clock      func() time.Time
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "notes": h.notes.Count(), "trackedCards": h.evaluator.Tracker().Len()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.unauthorized"})
		return
	}
	c.Set(installSubjectContextKey, subject)
	c.Next()
}

type codedError interface {
	Code() string
}

// respondError maps service errors to a JSON body carrying a stable code.
func (h *httpHandler) respondError(c *gin.Context, status int, fallbackCode string, err error) {
	code := fallbackCode
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func noteErrorStatus(err error) int {
	switch {
	case errors.Is(err, notes.ErrInvalidInput), errors.Is(err, notes.ErrInvalidStorageKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func originMatcher(patterns []string) func(origin string) bool {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	return func(origin string) bool {
		for _, pattern := range patterns {
			if pattern == "*" || strings.EqualFold(pattern, origin) {
				return true
			}
			if matched, err := path.Match(pattern, origin); err == nil && matched {
				return true
			}
		}
		return false
	}
}
