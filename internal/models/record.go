// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import (
	"slices"
	"time"
)

// SourceOfTruth marks who wrote a LibraryRecord last.
type SourceOfTruth string

const (
	SourceSync SourceOfTruth = "sync"
	SourceUser SourceOfTruth = "user"
)

// Field names a user-editable LibraryRecord attribute. The reconciliation
// engine preserves fields recorded in EditedFields verbatim; everything else
// is still updated from the source on the next run.
type Field string

const (
	FieldRating      Field = "rating"
	FieldWatchedDate Field = "watched_date"
	FieldRewatch     Field = "rewatch"
	FieldTags        Field = "tags"
	FieldReview      Field = "review"
	FieldWatchlist   Field = "watchlist"
	FieldWatched     Field = "watched"
)

// EditableFields lists every field the dashboard may edit.
var EditableFields = []Field{
	FieldRating, FieldWatchedDate, FieldRewatch,
	FieldTags, FieldReview, FieldWatchlist, FieldWatched,
}

// IsEditable reports whether f is a recognized editable field.
func IsEditable(f Field) bool {
	return slices.Contains(EditableFields, f)
}

// LibraryRecord is the persisted unit of the library. Exactly one record
// exists per canonical TMDB id. Records are created and mutated by sync runs
// or by dashboard edits; they are never deleted automatically.
type LibraryRecord struct {
	TMDBID    int64    `json:"tmdb_id"`
	IMDbID    string   `json:"imdb_id,omitempty"`
	Title     string   `json:"title"`
	Year      *int     `json:"year,omitempty"`
	Directors []string `json:"directors,omitempty"`
	PosterURL string   `json:"poster_url,omitempty"`

	// Watched and Watchlist are independent booleans: a film is both watched
	// and watchlisted only if the source reports both. Neither is inferred
	// from the other.
	Watched     bool       `json:"watched"`
	Watchlist   bool       `json:"watchlist"`
	WatchedDate *time.Time `json:"watched_date,omitempty"`
	Rating      *float64   `json:"rating,omitempty"`
	Rewatch     bool       `json:"rewatch"`
	Tags        []string   `json:"tags,omitempty"`
	Review      string     `json:"review,omitempty"`

	// LocallyEdited is set by a dashboard edit and cleared only by an
	// explicit user action, never by a sync. EditedFields records which
	// fields the user touched; those survive subsequent syncs verbatim.
	LocallyEdited bool          `json:"locally_edited"`
	EditedFields  []Field       `json:"edited_fields,omitempty"`
	SourceOfTruth SourceOfTruth `json:"source_of_truth"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FieldEdited reports whether the user has explicitly edited f.
func (r *LibraryRecord) FieldEdited(f Field) bool {
	return slices.Contains(r.EditedFields, f)
}

// MarkEdited records a user edit of the given fields, deduplicating.
func (r *LibraryRecord) MarkEdited(fields ...Field) {
	for _, f := range fields {
		if !r.FieldEdited(f) {
			r.EditedFields = append(r.EditedFields, f)
		}
	}
	r.LocallyEdited = true
	r.SourceOfTruth = SourceUser
}

// ClearEdits removes all edit markers. This is the explicit user action that
// re-opens every field to sync overwrites.
func (r *LibraryRecord) ClearEdits() {
	r.EditedFields = nil
	r.LocallyEdited = false
}

// Clone returns a deep copy so merge computations never alias snapshot state.
func (r *LibraryRecord) Clone() *LibraryRecord {
	c := *r
	c.Directors = slices.Clone(r.Directors)
	c.Tags = slices.Clone(r.Tags)
	c.EditedFields = slices.Clone(r.EditedFields)
	if r.Year != nil {
		y := *r.Year
		c.Year = &y
	}
	if r.WatchedDate != nil {
		d := *r.WatchedDate
		c.WatchedDate = &d
	}
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	return &c
}
