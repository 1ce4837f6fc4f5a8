// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package syncer

import (
	"context"
	"errors"

	"github.com/tomtom215/cinelog/internal/auth"
	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
	"github.com/tomtom215/cinelog/internal/reconcile"
	"github.com/tomtom215/cinelog/internal/source"
)

// execute runs one pipeline pass, filling in the run summary. The returned
// flag tells the scheduler to suspend (credentials were rejected).
func (s *Scheduler) execute(ctx context.Context, run *models.SyncRun) bool {
	src, err := s.sources.Select(ctx)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		if errors.Is(err, auth.ErrReauthRequired) {
			logging.Warn().Err(err).Msg("Source selection rejected credentials, suspending")
			return true
		}
		logging.Error().Err(err).Msg("No source available")
		return false
	}
	run.Source = src.Name()

	entries, partial, suspend := s.fetchAll(ctx, src, run)
	if suspend {
		return true
	}
	if run.Status == models.RunFailed {
		return false
	}
	run.Counts.Fetched = len(entries)
	metrics.SyncEntriesFetched.WithLabelValues(string(src.Name())).Add(float64(len(entries)))

	resolved, err := s.resolver.ResolveAll(ctx, entries)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = "resolution aborted: " + err.Error()
		return false
	}

	snapshot, err := s.library.Snapshot(ctx)
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		return false
	}

	result := reconcile.Merge(resolved, snapshot, reconcile.Options{
		WatchlistAuthoritative: src.Name() == models.ProviderSimkl,
		Now:                    run.StartedAt,
	})
	run.Counts = result.Counts
	run.Counts.Fetched = len(entries)
	run.Ambiguous = result.Ambiguous
	run.NotFound = result.NotFound

	if err := s.library.UpsertBatch(ctx, result.Changes); err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		return false
	}
	metrics.SyncRecordsWritten.WithLabelValues("created").Add(float64(result.Counts.Created))
	metrics.SyncRecordsWritten.WithLabelValues("updated").Add(float64(result.Counts.Updated))
	metrics.SyncRecordsWritten.WithLabelValues("unchanged").Add(float64(result.Counts.Unchanged))

	if partial {
		run.Status = models.RunPartial
	} else {
		run.Status = models.RunSuccess
	}
	return false
}

// fetchAll pulls the watched, ratings, and watchlist feeds from the selected
// source. A feed failing with source unavailability marks the run partial and
// keeps what the other feeds returned; a credential rejection aborts.
func (s *Scheduler) fetchAll(ctx context.Context, src source.Source, run *models.SyncRun) (entries []models.RawEntry, partial, suspend bool) {
	feeds := []struct {
		name  string
		fetch func(context.Context) ([]models.RawEntry, error)
	}{
		{"watched", src.FetchWatched},
		{"ratings", src.FetchRatings},
		{"watchlist", src.FetchWatchlist},
	}

	fetchedAny := false
	for _, feed := range feeds {
		batch, err := feed.fetch(ctx)
		if err == nil {
			entries = append(entries, batch...)
			fetchedAny = true
			continue
		}

		if errors.Is(err, auth.ErrReauthRequired) {
			run.Status = models.RunFailed
			run.Error = feed.name + ": " + err.Error()
			logging.Warn().Err(err).Str("feed", feed.name).Msg("Credentials rejected mid-run, suspending")
			return nil, false, true
		}
		if errors.Is(err, source.ErrSourceUnavailable) {
			partial = true
			logging.Warn().Err(err).Str("feed", feed.name).Str("source", string(src.Name())).Msg("Feed unavailable, continuing with remaining feeds")
			continue
		}

		run.Status = models.RunFailed
		run.Error = feed.name + ": " + err.Error()
		return nil, false, false
	}

	if !fetchedAny && partial {
		run.Status = models.RunFailed
		run.Error = "all feeds unavailable"
	}
	return entries, partial, false
}
