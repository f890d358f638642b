package main

import (
	"context"

	"github.com/MarcoPoloResearchLab/playernotes/internal/auth"
	"github.com/MarcoPoloResearchLab/playernotes/internal/config"
	"github.com/MarcoPoloResearchLab/playernotes/internal/database"
	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/identity"
	"github.com/MarcoPoloResearchLab/playernotes/internal/logging"
	"github.com/MarcoPoloResearchLab/playernotes/internal/notes"
	"github.com/MarcoPoloResearchLab/playernotes/internal/server"
	"github.com/MarcoPoloResearchLab/playernotes/internal/settings"
	"go.uber.org/zap"
)

// application holds the loaded services shared by the server and CLI commands.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	repository database.Repository
	resolver   *identity.Resolver
	store      *notes.Store
	settings   *settings.Service
	dispatcher *server.RealtimeDispatcher
}

func newApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	repository, err := database.Open(ctx, database.Options{
		Driver:     appConfig.StorageDriver,
		SQLitePath: appConfig.DatabasePath,
		RedisURL:   appConfig.RedisURL,
		RedisKey:   appConfig.RedisKey,
		Logger:     logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	resolver := identity.NewResolver(logger.Named("identity"))
	dispatcher := server.NewRealtimeDispatcher()
	store, err := notes.NewStore(notes.StoreConfig{
		Repository: repository,
		Resolver:   resolver,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger.Named("notes"),
		Notifier:   dispatcher,
	})
	if err != nil {
		_ = repository.Close()
		return nil, err
	}
	if err := store.Load(ctx); err != nil {
		// Upgrades that failed to persist stay dirty and are retried on the next write.
		logger.Warn("note store loaded with pending writes", zap.Error(err))
	}

	settingsService, err := settings.NewService(ctx, repository, logger.Named("settings"))
	if err != nil {
		_ = repository.Close()
		return nil, err
	}

	return &application{
		config:     appConfig,
		logger:     logger,
		repository: repository,
		resolver:   resolver,
		store:      store,
		settings:   settingsService,
		dispatcher: dispatcher,
	}, nil
}

func (a *application) matchClient() (*faceit.Client, error) {
	return faceit.NewClient(faceit.ClientConfig{
		BaseURL: a.config.FaceitAPIBaseURL,
		Timeout: a.config.FaceitTimeout,
		Logger:  a.logger.Named("faceit"),
	})
}

func (a *application) Close() {
	if err := a.repository.Close(); err != nil {
		a.logger.Warn("repository close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}
