// Package faceit talks to the match data proxy that supplies player identities.
package faceit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the public proxy used by the extension.
	DefaultBaseURL = "https://faceit-notes-api-proxy.vercel.app"
	defaultTimeout = 10 * time.Second
)

var (
	matchIDPattern  = regexp.MustCompile(`(?i)/room/(1-[a-f0-9-]+)`)
	playerPathRegex = regexp.MustCompile(`/players/([^/?]+)`)

	errMissingBaseURL  = errors.New("faceit: base url required")
	errMissingMatchID  = errors.New("faceit: match id required")
	errMissingPlayerID = errors.New("faceit: player id required")
	// ErrInvalidPayload indicates a proxy response without a players array.
	ErrInvalidPayload = errors.New("faceit: invalid payload")
)

// Player is a player entry as returned by the proxy.
type Player struct {
	PlayerID string          `json:"playerId"`
	Nickname string          `json:"nickname"`
	Avatar   string          `json:"avatar,omitempty"`
	Country  string          `json:"country,omitempty"`
	Games    json.RawMessage `json:"games,omitempty"`
}

// MatchPayload is the body of the match and match-stats endpoints.
type MatchPayload struct {
	MatchID string   `json:"matchId,omitempty"`
	Players []Player `json:"players"`
}

// ClientConfig configures the proxy client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client fetches match and player data from the proxy.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	rawBase := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBase == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("faceit: parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// FetchMatch returns match data with current nicknames.
func (c *Client) FetchMatch(ctx context.Context, matchID string) (MatchPayload, error) {
	return c.fetchMatchPayload(ctx, "/api/match", matchID)
}

// FetchMatchStats returns match stats with nicknames as they appeared in the lobby.
func (c *Client) FetchMatchStats(ctx context.Context, matchID string) (MatchPayload, error) {
	return c.fetchMatchPayload(ctx, "/api/match-stats", matchID)
}

// FetchPlayer returns a single player.
func (c *Client) FetchPlayer(ctx context.Context, playerID string) (Player, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Player{}, errMissingPlayerID
	}
	var player Player
	if err := c.getJSON(ctx, "/api/player", url.Values{"playerId": {playerID}}, &player); err != nil {
		return Player{}, err
	}
	return player, nil
}

// LoadMatchPlayers combines match stats (lobby nicknames) with match data
// (current nicknames) into an identity batch. The current nickname falls back
// to the lobby nickname when the match data lacks the player.
func (c *Client) LoadMatchPlayers(ctx context.Context, matchID string) ([]identity.Observation, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, errMissingMatchID
	}

	var stats, match MatchPayload
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		payload, err := c.FetchMatchStats(groupCtx, matchID)
		stats = payload
		return err
	})
	group.Go(func() error {
		payload, err := c.FetchMatch(groupCtx, matchID)
		match = payload
		return err
	})
	if err := group.Wait(); err != nil {
		c.logger.Warn("match players unavailable", zap.String("match_id", matchID), zap.Error(err))
		return nil, err
	}

	currentByID := make(map[string]string, len(match.Players))
	for _, player := range match.Players {
		currentByID[player.PlayerID] = player.Nickname
	}

	batch := make([]identity.Observation, 0, len(stats.Players))
	for _, player := range stats.Players {
		current := currentByID[player.PlayerID]
		if current == "" {
			current = player.Nickname
		}
		batch = append(batch, identity.Observation{
			PlayerID:        player.PlayerID,
			LobbyNickname:   player.Nickname,
			CurrentNickname: current,
		})
	}

	c.logger.Info("match players loaded",
		zap.String("match_id", matchID),
		zap.Int("lobby_players", len(stats.Players)),
		zap.Int("current_players", len(match.Players)))
	return batch, nil
}

func (c *Client) fetchMatchPayload(ctx context.Context, path, matchID string) (MatchPayload, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return MatchPayload{}, errMissingMatchID
	}
	var payload MatchPayload
	if err := c.getJSON(ctx, path, url.Values{"matchId": {matchID}}, &payload); err != nil {
		return MatchPayload{}, err
	}
	if payload.Players == nil {
		return MatchPayload{}, fmt.Errorf("%w: %s has no players", ErrInvalidPayload, path)
	}
	return payload, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("faceit: request %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("faceit: %s returned status %d", path, response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ExtractMatchID returns the match id of a match room URL.
func ExtractMatchID(rawURL string) (string, bool) {
	match := matchIDPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ExtractPlayerNickname returns the decoded nickname of a player profile URL.
func ExtractPlayerNickname(rawURL string) (string, bool) {
	match := playerPathRegex.FindStringSubmatch(rawURL)
	if match == nil {
		return "", false
	}
	nickname, err := url.PathUnescape(match[1])
	if err != nil {
		return "", false
	}
	return nickname, true
}
