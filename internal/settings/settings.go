// Package settings persists the extension preferences kept next to the notes.
package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

const (
	// DefaultNoNoteColor is the indicator color for players without a note.
	DefaultNoNoteColor = "#888888"
	// DefaultWithNoteColor is the indicator color for players with a note.
	DefaultWithNoteColor = "#4caf50"

	hoverLightenPercent = 15
)

var (
	hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

	errMissingRepository = errors.New("settings: repository is required")
	// ErrInvalidColors indicates colors that are not #rrggbb values.
	ErrInvalidColors = errors.New("settings: invalid colors")
)

// Colors are the indicator colors.
type Colors struct {
	NoNote   string `json:"noNote"`
	WithNote string `json:"withNote"`
}

// Validate checks that both colors are #rrggbb values.
func (c Colors) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.NoNote, validation.Required, validation.Match(hexColorPattern)),
		validation.Field(&c.WithNote, validation.Required, validation.Match(hexColorPattern)),
	)
}

// HoverColor is the with-note color lightened for hover states.
func (c Colors) HoverColor() string {
	lightened, err := LightenColor(c.WithNote, hoverLightenPercent)
	if err != nil {
		return c.WithNote
	}
	return lightened
}

// DefaultColors returns the stock palette.
func DefaultColors() Colors {
	return Colors{NoNote: DefaultNoNoteColor, WithNote: DefaultWithNoteColor}
}

// Settings is the persisted preference document.
type Settings struct {
	Colors           Colors `json:"noteColors"`
	ExtensionEnabled bool   `json:"extensionEnabled"`
}

// Defaults returns settings for a fresh install.
func Defaults() Settings {
	return Settings{Colors: DefaultColors(), ExtensionEnabled: true}
}

// Repository persists the settings document.
type Repository interface {
	// LoadSettings returns found=false when nothing was stored yet.
	LoadSettings(ctx context.Context) (Settings, bool, error)
	SaveSettings(ctx context.Context, value Settings) error
}

// Service caches settings in memory and writes through to the repository.
type Service struct {
	mu         sync.RWMutex
	current    Settings
	repository Repository
	logger     *zap.Logger
}

// NewService loads settings, falling back to defaults when none are stored.
func NewService(ctx context.Context, repository Repository, logger *zap.Logger) (*Service, error) {
	if repository == nil {
		return nil, errMissingRepository
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	current, found, err := repository.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w", err)
	}
	if !found {
		current = Defaults()
	}
	if err := current.Colors.Validate(); err != nil {
		logger.Warn("stored colors invalid, using defaults", zap.Error(err))
		current.Colors = DefaultColors()
	}
	return &Service{current: current, repository: repository, logger: logger}, nil
}

// Current returns the cached settings.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetColors validates and persists new colors.
func (s *Service) SetColors(ctx context.Context, colors Colors) (Settings, error) {
	if err := colors.Validate(); err != nil {
		return s.Current(), fmt.Errorf("%w: %v", ErrInvalidColors, err)
	}
	return s.update(ctx, func(value *Settings) { value.Colors = colors })
}

// ResetColors restores the stock palette.
func (s *Service) ResetColors(ctx context.Context) (Settings, error) {
	return s.update(ctx, func(value *Settings) { value.Colors = DefaultColors() })
}

// SetEnabled toggles the extension.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) (Settings, error) {
	return s.update(ctx, func(value *Settings) { value.ExtensionEnabled = enabled })
}

func (s *Service) update(ctx context.Context, apply func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	apply(&next)
	if err := s.repository.SaveSettings(ctx, next); err != nil {
		s.logger.Error("settings save failed", zap.Error(err))
		return s.current, fmt.Errorf("settings: save: %w", err)
	}
	s.current = next
	return next, nil
}

// LightenColor moves each channel of a #rrggbb color percent of the way to white.
func LightenColor(hex string, percent int) (string, error) {
	if !hexColorPattern.MatchString(hex) {
		return "", fmt.Errorf("settings: invalid color %q", hex)
	}
	channels := make([]string, 0, 3)
	for offset := 1; offset < 7; offset += 2 {
		value, err := strconv.ParseUint(hex[offset:offset+2], 16, 8)
		if err != nil {
			return "", err
		}
		lifted := int(value) + (255-int(value))*percent/100
		if lifted > 255 {
			lifted = 255
		}
		channels = append(channels, fmt.Sprintf("%02x", lifted))
	}
	return "#" + strings.Join(channels, ""), nil
}
