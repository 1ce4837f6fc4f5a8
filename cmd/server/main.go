// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package main is the entry point for the Cinelog server.
//
// Cinelog is a self-hosted service that syncs movie watch history from
// Simkl (with Plex and Tautulli fallbacks), resolves every title against
// TMDB, reconciles the result into a local DuckDB library while preserving
// user edits, and exports Letterboxd-compatible CSV files.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML, CINELOG_* env)
//  2. Logging: zerolog per the logging section
//  3. BadgerDB: shared store for the OAuth credential and the resolver cache
//  4. DuckDB: the library store
//  5. Credential manager, sources, resolver, scheduler, exporter
//  6. Supervisor tree: sync layer (scheduler) and API layer (HTTP server)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server drains
// in-flight requests (10s timeout) and the scheduler joins its run loop
// before the databases close.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"

	"github.com/tomtom215/cinelog/internal/api"
	"github.com/tomtom215/cinelog/internal/auth"
	"github.com/tomtom215/cinelog/internal/config"
	"github.com/tomtom215/cinelog/internal/export"
	"github.com/tomtom215/cinelog/internal/library"
	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/models"
	"github.com/tomtom215/cinelog/internal/resolve"
	"github.com/tomtom215/cinelog/internal/source"
	"github.com/tomtom215/cinelog/internal/supervisor"
	"github.com/tomtom215/cinelog/internal/supervisor/services"
	"github.com/tomtom215/cinelog/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("primary_source", cfg.Source.Primary).
		Str("db_path", cfg.Database.Path).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("Starting Cinelog")

	// Shared BadgerDB for the OAuth credential and the resolver disk cache.
	badgerOpts := badger.DefaultOptions(cfg.Cache.Dir)
	badgerOpts.Logger = nil
	cacheDB, err := badger.Open(badgerOpts)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Cache.Dir).Msg("Failed to open cache store")
	}
	defer func() {
		if err := cacheDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache store")
		}
	}()

	store, err := library.Open(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open library database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing library database")
		}
	}()

	encryptor, err := auth.NewTokenEncryptor(cfg.Simkl.EncryptionKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid credential encryption key")
	}
	credentials := auth.NewCredentialStore(cacheDB, encryptor)
	oauthClient := auth.NewSimklOAuthClient(
		cfg.Simkl.ClientID,
		cfg.Simkl.ClientSecret,
		cfg.Simkl.AuthURL,
		cfg.Simkl.TokenURL,
	)
	authManager := auth.NewManager(auth.ManagerConfig{
		Provider:      models.ProviderSimkl,
		RefreshMargin: cfg.Simkl.RefreshMargin,
		CallbackPort:  cfg.Simkl.CallbackPort,
		AuthTimeout:   cfg.Simkl.AuthTimeout,
	}, credentials, oauthClient)

	chain := buildSourceChain(cfg, authManager)

	tmdb := resolve.NewTMDBClient(
		cfg.TMDB.BaseURL,
		cfg.TMDB.APIKey,
		cfg.TMDB.RequestsPerSecond,
		cfg.TMDB.Burst,
	)
	resolver := resolve.NewResolver(tmdb, cacheDB, cfg.Sync.ResolveWorkers)

	scheduler := syncer.New(chain, resolver, store, cfg.Sync.Interval)

	// A fresh authorization lifts the scheduler's suspension and queues a run.
	authManager.OnAuthorized(scheduler.Resume)

	exporter := export.NewExporter(afero.NewOsFs(), cfg.Export.OutputDir)

	handler := api.NewHandler(store, scheduler, authManager, exporter)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, &cfg.Server),
		ReadHeaderTimeout: cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddSyncService(services.NewSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service missed shutdown timeout")
		}
	}
	logging.Info().Msg("Cinelog stopped")
}

// buildSourceChain orders the sources with the configured primary first.
// Unconfigured fallbacks are skipped entirely rather than pinging a default
// endpoint that was never set up.
func buildSourceChain(cfg *config.Config, tokens source.TokenProvider) *source.Chain {
	policy := source.RetryPolicy{
		Attempts:  uint(cfg.Sync.RetryAttempts),
		BaseDelay: cfg.Sync.RetryBaseDelay,
		MaxDelay:  cfg.Sync.RetryMaxDelay,
	}

	available := map[string]source.Source{}
	available[string(models.ProviderSimkl)] = source.WithBreaker(
		source.NewSimklSource(cfg.Simkl.APIURL, cfg.Simkl.ClientID, tokens, policy))
	if cfg.Plex.Token != "" {
		available[string(models.ProviderPlex)] = source.NewPlexSource(cfg.Plex.URL, cfg.Plex.Token, policy)
	}
	if cfg.Tautulli.APIKey != "" {
		available[string(models.ProviderTautulli)] = source.NewTautulliSource(
			cfg.Tautulli.URL, cfg.Tautulli.APIKey, cfg.Tautulli.UserID, cfg.Tautulli.PageSize, policy)
	}

	order := []string{cfg.Source.Primary}
	for _, name := range []string{
		string(models.ProviderSimkl),
		string(models.ProviderPlex),
		string(models.ProviderTautulli),
	} {
		if name != cfg.Source.Primary {
			order = append(order, name)
		}
	}

	var sources []source.Source
	for _, name := range order {
		if s, ok := available[name]; ok {
			sources = append(sources, s)
		}
	}
	return source.NewChain(sources...)
}
