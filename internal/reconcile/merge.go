// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package reconcile merges resolved source entries into the library. The
// merge is a pure function over an immutable snapshot: it computes the set
// of records to write and never touches storage itself.
package reconcile

import (
	"slices"
	"time"

	"github.com/tomtom215/cinelog/internal/models"
)

// Options tune a merge pass.
type Options struct {
	// WatchlistAuthoritative means the source reports watchlist membership
	// (Simkl does, media servers do not). When set, a movie present in the
	// feeds but absent from the watchlist feed has its sync-owned watchlist
	// flag cleared; otherwise the flag is left alone. Records absent from
	// every feed are never visited.
	WatchlistAuthoritative bool

	// Now stamps LastSyncedAt on changed records. Zero means time.Now.
	Now time.Time
}

// Result is the outcome of one merge pass. Changes holds only records that
// need writing; unchanged records are counted but omitted.
type Result struct {
	Changes   []*models.LibraryRecord
	Counts    models.RunCounts
	Ambiguous []models.ReviewItem
	NotFound  []models.ReviewItem
}

// Merge combines resolved entries per canonical id and reconciles them
// against the snapshot. Ambiguous and not-found entries are routed to the
// review lists and never merged. The snapshot is not mutated.
func Merge(entries []models.ResolvedEntry, snapshot map[int64]*models.LibraryRecord, opts Options) *Result {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := &Result{}
	result.Counts.Fetched = len(entries)

	combined := combine(entries, result)

	for _, c := range combined {
		existing, ok := snapshot[c.tmdbID]
		if !ok {
			result.Changes = append(result.Changes, c.newRecord(now))
			result.Counts.Created++
			continue
		}

		merged := c.mergeInto(existing, opts.WatchlistAuthoritative)
		if equivalent(merged, existing) {
			result.Counts.Unchanged++
			continue
		}
		merged.LastSyncedAt = now
		result.Changes = append(result.Changes, merged)
		result.Counts.Updated++
	}

	return result
}

// combined is the per-movie aggregate of the watched, ratings, and watchlist
// feeds within one run.
type combined struct {
	tmdbID    int64
	imdbID    string
	title     string
	year      *int
	directors []string
	posterURL string

	watched     bool
	watchedDate *time.Time
	rating      *float64
	rewatch     bool
	watchlist   bool
}

// combine groups resolved entries by canonical id, preserving first-seen
// order, and folds duplicate appearances (a movie in both the watched and
// ratings feeds) into one aggregate.
func combine(entries []models.ResolvedEntry, result *Result) []*combined {
	var order []*combined
	byID := make(map[int64]*combined)

	for i := range entries {
		entry := &entries[i]
		switch entry.Status {
		case models.StatusAmbiguous:
			result.Counts.Ambiguous++
			result.Ambiguous = append(result.Ambiguous, reviewItem(entry, "multiple candidates matched"))
			continue
		case models.StatusNotFound:
			result.Counts.NotFound++
			result.NotFound = append(result.NotFound, reviewItem(entry, "no candidate matched"))
			continue
		}
		result.Counts.Resolved++

		c, ok := byID[entry.CanonicalTMDBID]
		if !ok {
			c = &combined{tmdbID: entry.CanonicalTMDBID}
			byID[entry.CanonicalTMDBID] = c
			order = append(order, c)
		}
		c.fold(entry)
	}

	return order
}

func (c *combined) fold(entry *models.ResolvedEntry) {
	if c.title == "" {
		c.title = entry.Title
	}
	if c.imdbID == "" {
		c.imdbID = entry.CanonicalIMDbID
	}
	if c.year == nil {
		c.year = entry.Year
	}
	if len(c.directors) == 0 {
		c.directors = entry.Directors
	}
	if c.posterURL == "" {
		c.posterURL = entry.PosterURL
	}

	if entry.Watchlist {
		c.watchlist = true
		return
	}

	// Anything outside the watchlist feed is evidence the movie was
	// watched: the history feed carries a timestamp, the ratings feed
	// implies one (sources only accept ratings on watched titles).
	c.watched = true
	if entry.WatchedAt != nil && (c.watchedDate == nil || entry.WatchedAt.After(*c.watchedDate)) {
		d := entry.WatchedAt.UTC()
		c.watchedDate = &d
	}
	if entry.Rating != nil {
		c.rating = entry.Rating
	}
	if entry.Rewatch != nil && *entry.Rewatch {
		c.rewatch = true
	}
}

func (c *combined) newRecord(now time.Time) *models.LibraryRecord {
	return &models.LibraryRecord{
		TMDBID:        c.tmdbID,
		IMDbID:        c.imdbID,
		Title:         c.title,
		Year:          copyIntPtr(c.year),
		Directors:     slices.Clone(c.directors),
		PosterURL:     c.posterURL,
		Watched:       c.watched,
		Watchlist:     c.watchlist,
		WatchedDate:   copyTimePtr(c.watchedDate),
		Rating:        copyFloatPtr(c.rating),
		Rewatch:       c.rewatch,
		SourceOfTruth: models.SourceSync,
		LastSyncedAt:  now,
	}
}

// mergeInto applies the aggregate to a snapshot record, field by field.
// Fields the user has explicitly edited are preserved verbatim; everything
// else follows the source. Returns a fresh record; existing is untouched.
func (c *combined) mergeInto(existing *models.LibraryRecord, watchlistAuthoritative bool) *models.LibraryRecord {
	merged := existing.Clone()

	// Metadata comes from the resolver and is not user-editable.
	if c.title != "" {
		merged.Title = c.title
	}
	if c.imdbID != "" {
		merged.IMDbID = c.imdbID
	}
	if c.year != nil {
		merged.Year = copyIntPtr(c.year)
	}
	if len(c.directors) > 0 {
		merged.Directors = slices.Clone(c.directors)
	}
	if c.posterURL != "" {
		merged.PosterURL = c.posterURL
	}

	edited := func(f models.Field) bool {
		return merged.LocallyEdited && merged.FieldEdited(f)
	}

	// Watch history is append-only: sync sets watched and rewatch, never
	// clears them.
	if c.watched && !edited(models.FieldWatched) {
		merged.Watched = true
	}
	if c.rewatch && !edited(models.FieldRewatch) {
		merged.Rewatch = true
	}
	if c.watchedDate != nil && !edited(models.FieldWatchedDate) {
		merged.WatchedDate = copyTimePtr(c.watchedDate)
	}
	if c.rating != nil && !edited(models.FieldRating) {
		merged.Rating = copyFloatPtr(c.rating)
	}

	if !edited(models.FieldWatchlist) {
		if watchlistAuthoritative {
			merged.Watchlist = c.watchlist
		} else if c.watchlist {
			merged.Watchlist = true
		}
	}

	return merged
}

// equivalent compares the sync-relevant fields of two records, ignoring
// bookkeeping timestamps.
func equivalent(a, b *models.LibraryRecord) bool {
	return a.Title == b.Title &&
		a.IMDbID == b.IMDbID &&
		eqIntPtr(a.Year, b.Year) &&
		slices.Equal(a.Directors, b.Directors) &&
		a.PosterURL == b.PosterURL &&
		a.Watched == b.Watched &&
		a.Watchlist == b.Watchlist &&
		eqTimePtr(a.WatchedDate, b.WatchedDate) &&
		eqFloatPtr(a.Rating, b.Rating) &&
		a.Rewatch == b.Rewatch
}

func reviewItem(entry *models.ResolvedEntry, reason string) models.ReviewItem {
	return models.ReviewItem{Title: entry.Title, Year: entry.Year, Reason: reason}
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
