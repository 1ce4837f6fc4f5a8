// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import (
	"testing"
	"time"
)

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		scale RatingScale
		want  float64
	}{
		{"ten scale max", 10, RatingScale10, 5},
		{"ten scale mid", 7, RatingScale10, 3.5},
		{"ten scale rounds to half", 9, RatingScale10, 4.5},
		{"ten scale low", 1, RatingScale10, 0.5},
		{"five scale passthrough", 4.5, RatingScale5, 4.5},
		{"five scale rounds", 4.3, RatingScale5, 4.5},
		{"five scale rounds down", 4.2, RatingScale5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRating(tt.value, tt.scale); got != tt.want {
				t.Errorf("NormalizeRating(%v, %d) = %v, want %v", tt.value, tt.scale, got, tt.want)
			}
		})
	}
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"non-expiring never refreshes", time.Time{}, time.Hour, false},
		{"well before expiry", now.Add(48 * time.Hour), time.Hour, false},
		{"inside margin", now.Add(30 * time.Minute), time.Hour, true},
		{"one second from expiry", now.Add(time.Second), time.Hour, true},
		{"already expired", now.Add(-time.Minute), time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credential{AccessToken: "tok", ExpiresAt: tt.expiresAt}
			if got := c.ExpiresWithin(now, tt.margin); got != tt.want {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkEditedDeduplicates(t *testing.T) {
	r := &LibraryRecord{TMDBID: 278}

	r.MarkEdited(FieldRating)
	r.MarkEdited(FieldRating, FieldTags)

	if len(r.EditedFields) != 2 {
		t.Fatalf("expected 2 edited fields, got %d: %v", len(r.EditedFields), r.EditedFields)
	}
	if !r.LocallyEdited {
		t.Error("MarkEdited should set LocallyEdited")
	}
	if r.SourceOfTruth != SourceUser {
		t.Errorf("SourceOfTruth = %q, want %q", r.SourceOfTruth, SourceUser)
	}
	if !r.FieldEdited(FieldRating) || !r.FieldEdited(FieldTags) {
		t.Error("edited fields not recorded")
	}
	if r.FieldEdited(FieldReview) {
		t.Error("review was never edited")
	}
}

func TestClearEdits(t *testing.T) {
	r := &LibraryRecord{TMDBID: 278}
	r.MarkEdited(FieldRating)
	r.ClearEdits()

	if r.LocallyEdited || len(r.EditedFields) != 0 {
		t.Errorf("ClearEdits left state behind: edited=%v fields=%v", r.LocallyEdited, r.EditedFields)
	}
}

func TestCloneIsDeep(t *testing.T) {
	year := 1994
	rating := 5.0
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	r := &LibraryRecord{
		TMDBID:      278,
		Title:       "The Shawshank Redemption",
		Year:        &year,
		Rating:      &rating,
		WatchedDate: &date,
		Directors:   []string{"Frank Darabont"},
		Tags:        []string{"prison"},
	}

	c := r.Clone()
	c.Directors[0] = "changed"
	c.Tags[0] = "changed"
	*c.Year = 2000
	*c.Rating = 1

	if r.Directors[0] != "Frank Darabont" || r.Tags[0] != "prison" {
		t.Error("Clone shares slice backing arrays")
	}
	if *r.Year != 1994 || *r.Rating != 5.0 {
		t.Error("Clone shares pointer fields")
	}
}

func TestRawEntryKey(t *testing.T) {
	year := 1994
	e := &RawEntry{Title: "The Shawshank Redemption", Year: &year}
	if got := e.Key(); got != "The Shawshank Redemption (1994)" {
		t.Errorf("Key() = %q", got)
	}

	e2 := &RawEntry{Title: "Solaris"}
	if got := e2.Key(); got != "Solaris" {
		t.Errorf("Key() without year = %q", got)
	}
}
