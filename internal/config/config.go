// Package config loads runtime configuration from flags, environment and config files.
package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "PLAYERNOTES"
	defaultHTTPAddress        = "127.0.0.1:8080"
	defaultDatabasePath       = "playernotes.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultStorageDriver      = "sqlite"
	defaultRedisURL           = "redis://127.0.0.1:6379/0"
	defaultRedisKey           = "playerNotes"
	defaultFaceitAPIBaseURL   = "https://faceit-notes-api-proxy.vercel.app"
	defaultFaceitTimeoutSecs  = 10
	defaultTokenTTLMinutes    = 60 * 24 * 30
	defaultAuthEnabled        = false
	defaultAllowedOriginsList = "chrome-extension://*"
)

// AppConfig captures runtime configuration for the service and CLI.
type AppConfig struct {
	HTTPAddress      string
	LogLevel         string
	LogFormat        string
	StorageDriver    string
	DatabasePath     string
	RedisURL         string
	RedisKey         string
	FaceitAPIBaseURL string
	FaceitTimeout    time.Duration
	AuthEnabled      bool
	SigningSecret    string
	TokenTTL         time.Duration
	AllowedOrigins   []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOriginsList)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.url", defaultRedisURL)
	configViper.SetDefault("redis.key", defaultRedisKey)
	configViper.SetDefault("faceit.api_base_url", defaultFaceitAPIBaseURL)
	configViper.SetDefault("faceit.timeout_seconds", defaultFaceitTimeoutSecs)
	configViper.SetDefault("auth.enabled", defaultAuthEnabled)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:         strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		LogFormat:        strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		StorageDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DatabasePath:     strings.TrimSpace(configViper.GetString("database.path")),
		RedisURL:         strings.TrimSpace(configViper.GetString("redis.url")),
		RedisKey:         strings.TrimSpace(configViper.GetString("redis.key")),
		FaceitAPIBaseURL: strings.TrimSpace(configViper.GetString("faceit.api_base_url")),
		FaceitTimeout:    time.Duration(configViper.GetInt("faceit.timeout_seconds")) * time.Second,
		AuthEnabled:      configViper.GetBool("auth.enabled"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AllowedOrigins:   splitList(configViper.GetString("http.allowed_origins")),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddress, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
		validation.Field(&c.StorageDriver, validation.Required, validation.In("sqlite", "redis")),
		validation.Field(&c.DatabasePath, validation.When(c.StorageDriver == "sqlite", validation.Required)),
		validation.Field(&c.RedisURL, validation.When(c.StorageDriver == "redis", validation.Required)),
		validation.Field(&c.FaceitAPIBaseURL, validation.Required),
		validation.Field(&c.FaceitTimeout, validation.Min(time.Second)),
		validation.Field(&c.SigningSecret, validation.When(c.AuthEnabled, validation.Required, validation.Length(16, 0))),
		validation.Field(&c.TokenTTL, validation.Min(time.Minute)),
	)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
