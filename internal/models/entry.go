// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import (
	"fmt"
	"math"
	"time"
)

// Provider identifies a watch-history source.
type Provider string

const (
	ProviderSimkl    Provider = "simkl"
	ProviderPlex     Provider = "plex"
	ProviderTautulli Provider = "tautulli"
)

// RatingScale identifies the scale a source reports user ratings on.
type RatingScale int

const (
	// RatingScale10 is a 1-10 integer scale (Simkl, Plex).
	RatingScale10 RatingScale = 10

	// RatingScale5 is a 0.5-5.0 half-step scale (already normalized).
	RatingScale5 RatingScale = 5
)

// NormalizeRating converts a source rating to the canonical 0.5-5.0 scale,
// rounded to the nearest half step.
func NormalizeRating(value float64, scale RatingScale) float64 {
	if scale == RatingScale10 {
		value /= 2.0
	}
	return math.Round(value*2) / 2
}

// RawEntry is a source-native watch/rating/watchlist record normalized to a
// common shape. Entries are produced fresh each sync run and never persisted.
//
// External identifiers are optional and provider-dependent: Simkl usually
// carries both TMDB and IMDb ids, Plex carries whatever its metadata agent
// matched, and Tautulli carries none (resolution falls back to title+year).
type RawEntry struct {
	Title string `json:"title"`
	Year  *int   `json:"year,omitempty"`

	// External ids, zero or more, tagged by provider.
	TMDBID        *int64 `json:"tmdb_id,omitempty"`
	IMDbID        string `json:"imdb_id,omitempty"`
	MediaServerID string `json:"media_server_id,omitempty"`

	WatchedAt *time.Time `json:"watched_at,omitempty"`
	Rating    *float64   `json:"rating,omitempty"` // normalized 0.5-5.0
	Rewatch   *bool      `json:"rewatch,omitempty"`
	Watchlist bool       `json:"watchlist"`

	Source Provider `json:"source"`
}

// ResolutionStatus is the outcome of canonical identifier resolution.
type ResolutionStatus string

const (
	// StatusResolved means a single canonical TMDB id was determined.
	StatusResolved ResolutionStatus = "resolved"

	// StatusAmbiguous means multiple equal-confidence candidates matched and
	// no id was assigned. Ambiguous entries are routed to the manual-review
	// list and never merged into the library.
	StatusAmbiguous ResolutionStatus = "ambiguous"

	// StatusNotFound means no candidate matched (or lookups kept failing for
	// this entry). Not-found entries are reported but never merged.
	StatusNotFound ResolutionStatus = "not_found"
)

// ResolvedEntry is a RawEntry enriched with canonical identifiers and TMDB
// metadata. Passed from the resolver to the reconciliation engine; ephemeral.
type ResolvedEntry struct {
	RawEntry

	Status ResolutionStatus `json:"status"`

	// CanonicalTMDBID is required once Status is StatusResolved.
	CanonicalTMDBID int64  `json:"canonical_tmdb_id,omitempty"`
	CanonicalIMDbID string `json:"canonical_imdb_id,omitempty"`

	Directors []string `json:"directors,omitempty"`
	PosterURL string   `json:"poster_url,omitempty"`
}

// Resolved wraps the entry in a ResolvedEntry with StatusResolved. Canonical
// identifiers are filled in by the caller.
func (e RawEntry) Resolved() ResolvedEntry {
	return ResolvedEntry{RawEntry: e, Status: StatusResolved}
}

// Key returns a human-readable identity for review lists and logging.
func (e *RawEntry) Key() string {
	if e.Year != nil {
		return fmt.Sprintf("%s (%d)", e.Title, *e.Year)
	}
	return e.Title
}
