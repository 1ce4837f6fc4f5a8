// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package config loads and validates Cinelog configuration using Koanf v2
// with layered sources: built-in defaults, optional YAML file, environment
// variables (highest priority).
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Source   SourceConfig   `koanf:"source"`
	Simkl    SimklConfig    `koanf:"simkl"`
	Plex     PlexConfig     `koanf:"plex"`
	Tautulli TautulliConfig `koanf:"tautulli"`
	TMDB     TMDBConfig     `koanf:"tmdb"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Export   ExportConfig   `koanf:"export"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SourceConfig selects the active watch-history source. Exactly one source is
// active at a time; the others serve as manual fallbacks.
type SourceConfig struct {
	Primary string `koanf:"primary" validate:"required,oneof=simkl plex tautulli"`
}

// SimklConfig configures the primary aggregator source and its OAuth flow.
type SimklConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// API endpoints, overridable for testing against fakes.
	APIURL   string `koanf:"api_url" validate:"omitempty,url"`
	AuthURL  string `koanf:"auth_url" validate:"omitempty,url"`
	TokenURL string `koanf:"token_url" validate:"omitempty,url"`

	// CallbackPort is the local port of the short-lived OAuth callback
	// listener. Must differ from the dashboard port.
	CallbackPort int `koanf:"callback_port" validate:"gt=0,lte=65535"`

	// AuthTimeout bounds how long the callback listener waits for the
	// provider redirect before giving up.
	AuthTimeout time.Duration `koanf:"auth_timeout"`

	// RefreshMargin: refresh the access token when less than this remains
	// before expiry.
	RefreshMargin time.Duration `koanf:"refresh_margin"`

	// EncryptionKey is an optional base64 master key for encrypting the
	// persisted credential at rest. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`
}

// PlexConfig configures the Plex media-server fallback source.
type PlexConfig struct {
	URL   string `koanf:"url" validate:"omitempty,url"`
	Token string `koanf:"token"`
}

// TautulliConfig configures the Tautulli media-server fallback source.
type TautulliConfig struct {
	URL      string `koanf:"url" validate:"omitempty,url"`
	APIKey   string `koanf:"api_key"`
	UserID   int    `koanf:"user_id"`
	PageSize int    `koanf:"page_size" validate:"gt=0,lte=1000"`
}

// TMDBConfig configures the metadata-lookup service client.
type TMDBConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`

	// RequestsPerSecond and Burst feed the client-side rate limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gt=0"`
}

// DatabaseConfig configures the DuckDB library store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// CacheConfig configures the resolver cache (in-memory LRU over BadgerDB).
type CacheConfig struct {
	// Dir is the BadgerDB directory shared by the resolver cache and the
	// credential store.
	Dir     string `koanf:"dir" validate:"required"`
	LRUSize int    `koanf:"lru_size" validate:"gt=0"`
}

// SyncConfig configures the scheduler and pipeline behavior.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`

	// ResolveWorkers bounds concurrent TMDB lookups within one batch.
	ResolveWorkers int `koanf:"resolve_workers" validate:"gt=0,lte=32"`

	// Retry policy for transient source/lookup failures.
	RetryAttempts  int           `koanf:"retry_attempts" validate:"gt=0,lte=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// ExportConfig configures CSV export output.
type ExportConfig struct {
	OutputDir string `koanf:"output_dir" validate:"required"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	File   string `koanf:"file"`
	Caller bool   `koanf:"caller"`
}
