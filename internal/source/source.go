// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package source provides adapters for the external services that hold watch
// history: the Simkl aggregator (primary) and the Plex and Tautulli media
// servers (fallbacks). Each adapter normalizes provider records into
// models.RawEntry and owns its own pagination and rate-limit backoff.
package source

import (
	"context"
	"errors"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// ErrSourceUnavailable indicates a source could not be reached after
// exhausting retries, or its circuit breaker is open. The scheduler treats
// this as a partial-run failure.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source fetches raw watch history records from one external service.
//
// All fetch methods return the complete normalized result set for the
// account; pagination happens inside the adapter. Methods are safe for
// concurrent use.
type Source interface {
	Name() models.Provider

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error

	// FetchWatched returns all watched movies.
	FetchWatched(ctx context.Context) ([]models.RawEntry, error)

	// FetchRatings returns entries carrying user ratings. Sources whose
	// watched payload already embeds ratings may return an empty slice.
	FetchRatings(ctx context.Context) ([]models.RawEntry, error)

	// FetchWatchlist returns plan-to-watch entries. Sources without
	// watchlist support return an empty slice.
	FetchWatchlist(ctx context.Context) ([]models.RawEntry, error)
}

// Chain orders a primary source ahead of fallback sources.
type Chain struct {
	sources []Source
}

// NewChain creates a fallback chain. The first source is the primary.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// Select returns the first source that responds to a ping, falling back down
// the chain. Returns ErrSourceUnavailable when every source is unreachable.
// Every ping failure is kept in the joined error so the scheduler can still
// see a credential rejection behind a failed fallback.
func (c *Chain) Select(ctx context.Context) (Source, error) {
	var pingErrs error

	for i, s := range c.sources {
		if err := s.Ping(ctx); err != nil {
			logging.Warn().
				Err(err).
				Str("source", string(s.Name())).
				Msg("Source unreachable, trying next")
			pingErrs = errors.Join(pingErrs, err)

			if i+1 < len(c.sources) {
				metrics.SourceFallbacks.WithLabelValues(
					string(s.Name()), string(c.sources[i+1].Name())).Inc()
			}
			continue
		}
		return s, nil
	}

	if pingErrs != nil {
		return nil, errors.Join(ErrSourceUnavailable, pingErrs)
	}
	return nil, ErrSourceUnavailable
}

// Sources returns the chain members in priority order.
func (c *Chain) Sources() []Source {
	return c.sources
}
