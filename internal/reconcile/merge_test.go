// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package reconcile

import (
	"testing"
	"time"

	"github.com/tomtom215/cinelog/internal/models"
)

var mergeNow = time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC)

func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }
func boolPtr(v bool) *bool           { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func resolvedEntry(tmdbID int64, title string, year int) models.ResolvedEntry {
	e := models.RawEntry{Title: title, Year: intPtr(year), Source: models.ProviderSimkl}
	out := e.Resolved()
	out.CanonicalTMDBID = tmdbID
	return out
}

func TestMerge_CreatesNewRecord(t *testing.T) {
	watched := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	entry := resolvedEntry(278, "The Shawshank Redemption", 1994)
	entry.CanonicalIMDbID = "tt0111161"
	entry.Directors = []string{"Frank Darabont"}
	entry.WatchedAt = timePtr(watched)
	entry.Rating = floatPtr(5.0)

	result := Merge([]models.ResolvedEntry{entry}, nil, Options{Now: mergeNow, WatchlistAuthoritative: true})

	if result.Counts.Created != 1 || result.Counts.Updated != 0 || result.Counts.Unchanged != 0 {
		t.Fatalf("counts = %+v", result.Counts)
	}
	if len(result.Changes) != 1 {
		t.Fatalf("changes = %d", len(result.Changes))
	}

	got := result.Changes[0]
	if got.TMDBID != 278 || got.IMDbID != "tt0111161" {
		t.Errorf("ids = %d/%q", got.TMDBID, got.IMDbID)
	}
	if !got.Watched || got.Watchlist {
		t.Errorf("watched=%v watchlist=%v", got.Watched, got.Watchlist)
	}
	if got.Rating == nil || *got.Rating != 5.0 {
		t.Errorf("rating = %v", got.Rating)
	}
	if got.SourceOfTruth != models.SourceSync {
		t.Errorf("source of truth = %s", got.SourceOfTruth)
	}
	if !got.LastSyncedAt.Equal(mergeNow) {
		t.Errorf("last synced = %v", got.LastSyncedAt)
	}
}

func TestMerge_CombinesFeedsForOneMovie(t *testing.T) {
	watched := resolvedEntry(949, "Heat", 1995)
	watched.WatchedAt = timePtr(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	watched.Rewatch = boolPtr(true)

	rated := resolvedEntry(949, "Heat", 1995)
	rated.Rating = floatPtr(4.5)

	result := Merge([]models.ResolvedEntry{watched, rated}, nil, Options{Now: mergeNow})

	if len(result.Changes) != 1 {
		t.Fatalf("duplicate canonical ids not combined: %d changes", len(result.Changes))
	}
	got := result.Changes[0]
	if !got.Watched || !got.Rewatch {
		t.Errorf("watched=%v rewatch=%v", got.Watched, got.Rewatch)
	}
	if got.Rating == nil || *got.Rating != 4.5 {
		t.Errorf("rating = %v", got.Rating)
	}
	if got.WatchedDate == nil || !got.WatchedDate.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("watched date = %v", got.WatchedDate)
	}
}

func TestMerge_RatedOnlyEntryCountsAsWatched(t *testing.T) {
	rated := resolvedEntry(278, "The Shawshank Redemption", 1994)
	rated.Rating = floatPtr(5.0)

	result := Merge([]models.ResolvedEntry{rated}, nil, Options{Now: mergeNow})

	if len(result.Changes) != 1 || !result.Changes[0].Watched {
		t.Fatal("rated entry should mark the movie watched")
	}
}

func TestMerge_UnchangedRecordProducesNoWrite(t *testing.T) {
	watched := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	entry := resolvedEntry(278, "The Shawshank Redemption", 1994)
	entry.WatchedAt = timePtr(watched)
	entry.Rating = floatPtr(5.0)

	first := Merge([]models.ResolvedEntry{entry}, nil, Options{Now: mergeNow, WatchlistAuthoritative: true})
	snapshot := map[int64]*models.LibraryRecord{278: first.Changes[0]}

	second := Merge([]models.ResolvedEntry{entry}, snapshot, Options{Now: mergeNow.Add(time.Hour), WatchlistAuthoritative: true})

	if second.Counts.Unchanged != 1 || second.Counts.Updated != 0 || second.Counts.Created != 0 {
		t.Fatalf("second pass counts = %+v, want idempotent", second.Counts)
	}
	if len(second.Changes) != 0 {
		t.Fatalf("second pass produced %d writes", len(second.Changes))
	}
}

func TestMerge_OverwritesUneditedRecord(t *testing.T) {
	existing := &models.LibraryRecord{
		TMDBID:        278,
		Title:         "The Shawshank Redemption",
		Year:          intPtr(1994),
		Watched:       true,
		Rating:        floatPtr(4.0),
		SourceOfTruth: models.SourceSync,
	}

	entry := resolvedEntry(278, "The Shawshank Redemption", 1994)
	entry.Rating = floatPtr(5.0)
	entry.WatchedAt = timePtr(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))

	result := Merge([]models.ResolvedEntry{entry}, map[int64]*models.LibraryRecord{278: existing}, Options{Now: mergeNow})

	if result.Counts.Updated != 1 {
		t.Fatalf("counts = %+v", result.Counts)
	}
	got := result.Changes[0]
	if got.Rating == nil || *got.Rating != 5.0 {
		t.Errorf("rating = %v, want source value 5.0", got.Rating)
	}
	// Snapshot input must not be mutated.
	if *existing.Rating != 4.0 {
		t.Error("snapshot record was mutated")
	}
}

func TestMerge_PreservesLocallyEditedFields(t *testing.T) {
	existing := &models.LibraryRecord{
		TMDBID:        278,
		Title:         "The Shawshank Redemption",
		Year:          intPtr(1994),
		Watched:       true,
		Rating:        floatPtr(3.5),
		Review:        "Overrated, fight me.",
		SourceOfTruth: models.SourceUser,
	}
	existing.MarkEdited(models.FieldRating, models.FieldReview)

	entry := resolvedEntry(278, "The Shawshank Redemption", 1994)
	entry.Rating = floatPtr(5.0)
	entry.WatchedAt = timePtr(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	entry.Directors = []string{"Frank Darabont"}

	result := Merge([]models.ResolvedEntry{entry}, map[int64]*models.LibraryRecord{278: existing}, Options{Now: mergeNow})

	if result.Counts.Updated != 1 {
		t.Fatalf("counts = %+v", result.Counts)
	}
	got := result.Changes[0]
	if got.Rating == nil || *got.Rating != 3.5 {
		t.Errorf("edited rating = %v, want preserved 3.5", got.Rating)
	}
	if got.Review != "Overrated, fight me." {
		t.Errorf("review = %q", got.Review)
	}
	// Unedited fields still follow the source.
	if got.WatchedDate == nil {
		t.Error("unedited watched date not updated")
	}
	if len(got.Directors) != 1 {
		t.Errorf("metadata not updated: %v", got.Directors)
	}
	if !got.LocallyEdited {
		t.Error("edit markers lost")
	}
}

func TestMerge_ExcludesAmbiguousAndNotFound(t *testing.T) {
	resolved := resolvedEntry(278, "The Shawshank Redemption", 1994)
	resolved.WatchedAt = timePtr(mergeNow)

	ambiguous := models.ResolvedEntry{
		RawEntry: models.RawEntry{Title: "Crash", Source: models.ProviderTautulli},
		Status:   models.StatusAmbiguous,
	}
	notFound := models.ResolvedEntry{
		RawEntry: models.RawEntry{Title: "Home Movie 2019", Year: intPtr(2019), Source: models.ProviderPlex},
		Status:   models.StatusNotFound,
	}

	result := Merge([]models.ResolvedEntry{resolved, ambiguous, notFound}, nil, Options{Now: mergeNow})

	if result.Counts.Fetched != 3 || result.Counts.Resolved != 1 ||
		result.Counts.Ambiguous != 1 || result.Counts.NotFound != 1 {
		t.Fatalf("counts = %+v", result.Counts)
	}
	if len(result.Changes) != 1 {
		t.Fatalf("changes = %d, excluded entries must not merge", len(result.Changes))
	}
	if len(result.Ambiguous) != 1 || result.Ambiguous[0].Title != "Crash" {
		t.Errorf("ambiguous review = %+v", result.Ambiguous)
	}
	if len(result.NotFound) != 1 || result.NotFound[0].Title != "Home Movie 2019" {
		t.Errorf("not found review = %+v", result.NotFound)
	}
}

func TestMerge_WatchlistClearing(t *testing.T) {
	existing := &models.LibraryRecord{
		TMDBID:        603,
		Title:         "The Matrix",
		Year:          intPtr(1999),
		Watchlist:     true,
		SourceOfTruth: models.SourceSync,
	}
	snapshot := map[int64]*models.LibraryRecord{603: existing}

	// The movie now shows up watched, no longer in the watchlist feed.
	entry := resolvedEntry(603, "The Matrix", 1999)
	entry.WatchedAt = timePtr(mergeNow)

	t.Run("authoritative source clears the flag", func(t *testing.T) {
		result := Merge([]models.ResolvedEntry{entry}, snapshot, Options{Now: mergeNow, WatchlistAuthoritative: true})
		if len(result.Changes) != 1 {
			t.Fatalf("changes = %d", len(result.Changes))
		}
		if result.Changes[0].Watchlist {
			t.Error("watchlist flag should clear when the feed is authoritative")
		}
	})

	t.Run("non-authoritative source leaves the flag", func(t *testing.T) {
		result := Merge([]models.ResolvedEntry{entry}, snapshot, Options{Now: mergeNow, WatchlistAuthoritative: false})
		if len(result.Changes) != 1 {
			t.Fatalf("changes = %d", len(result.Changes))
		}
		if !result.Changes[0].Watchlist {
			t.Error("watchlist flag should survive a source that cannot report it")
		}
	})
}

func TestMerge_SyncNeverClearsWatched(t *testing.T) {
	existing := &models.LibraryRecord{
		TMDBID:        949,
		Title:         "Heat",
		Year:          intPtr(1995),
		Watched:       true,
		Rewatch:       true,
		SourceOfTruth: models.SourceSync,
	}

	// Only a watchlist appearance this run.
	entry := resolvedEntry(949, "Heat", 1995)
	entry.Watchlist = true

	result := Merge([]models.ResolvedEntry{entry}, map[int64]*models.LibraryRecord{949: existing}, Options{Now: mergeNow, WatchlistAuthoritative: true})

	if len(result.Changes) != 1 {
		t.Fatalf("changes = %d", len(result.Changes))
	}
	got := result.Changes[0]
	if !got.Watched || !got.Rewatch {
		t.Errorf("watch history cleared: watched=%v rewatch=%v", got.Watched, got.Rewatch)
	}
	if !got.Watchlist {
		t.Error("watchlist membership not applied")
	}
}

func TestMerge_UniqueCanonicalIDs(t *testing.T) {
	entries := []models.ResolvedEntry{
		resolvedEntry(278, "The Shawshank Redemption", 1994),
		resolvedEntry(278, "The Shawshank Redemption", 1994),
		resolvedEntry(949, "Heat", 1995),
	}
	for i := range entries {
		entries[i].WatchedAt = timePtr(mergeNow)
	}

	result := Merge(entries, nil, Options{Now: mergeNow})

	if len(result.Changes) != 2 {
		t.Fatalf("changes = %d, want one record per canonical id", len(result.Changes))
	}
	seen := map[int64]bool{}
	for _, r := range result.Changes {
		if seen[r.TMDBID] {
			t.Errorf("duplicate record for tmdb_id %d", r.TMDBID)
		}
		seen[r.TMDBID] = true
	}
}
