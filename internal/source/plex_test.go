// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newPlexTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Plex-Token"); got != "plex-token" {
			t.Errorf("X-Plex-Token = %q", got)
		}
		switch r.URL.Path {
		case "/identity":
			io.WriteString(w, `{"MediaContainer":{"machineIdentifier":"abc"}}`)
		case "/library/sections":
			io.WriteString(w, `{"MediaContainer":{"Directory":[
				{"key":"1","type":"movie","title":"Movies"},
				{"key":"2","type":"show","title":"TV"}
			]}}`)
		case "/library/sections/1/all":
			io.WriteString(w, `{"MediaContainer":{"Metadata":[
				{
					"ratingKey":"11","title":"The Shawshank Redemption","year":1994,
					"viewCount":1,"lastViewedAt":1705350600,"userRating":9,
					"Guid":[{"id":"imdb://tt0111161"},{"id":"tmdb://278"}]
				},
				{
					"ratingKey":"12","title":"Heat","year":1995,
					"viewCount":3,"lastViewedAt":1700000000,
					"guid":"com.plexapp.agents.themoviedb://949?lang=en"
				},
				{
					"ratingKey":"13","title":"Unwatched","year":2020,"viewCount":0
				}
			]}}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestPlexSource_FetchWatched(t *testing.T) {
	srv := newPlexTestServer(t)
	defer srv.Close()

	src := NewPlexSource(srv.URL, "plex-token", testPolicy())

	entries, err := src.FetchWatched(context.Background())
	if err != nil {
		t.Fatalf("FetchWatched: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (unwatched and TV excluded)", len(entries))
	}

	first := entries[0]
	if first.TMDBID == nil || *first.TMDBID != 278 {
		t.Errorf("TMDBID = %v, want 278 from modern Guid", first.TMDBID)
	}
	if first.IMDbID != "tt0111161" {
		t.Errorf("IMDbID = %q", first.IMDbID)
	}
	// Plex rating 9 on the 1-10 scale normalizes to 4.5.
	if first.Rating == nil || *first.Rating != 4.5 {
		t.Errorf("Rating = %v, want 4.5", first.Rating)
	}
	if first.Rewatch != nil {
		t.Error("single view should not be a rewatch")
	}

	second := entries[1]
	// Legacy agent guid parsing.
	if second.TMDBID == nil || *second.TMDBID != 949 {
		t.Errorf("legacy TMDBID = %v, want 949", second.TMDBID)
	}
	if second.Rewatch == nil || !*second.Rewatch {
		t.Error("viewCount 3 should mark a rewatch")
	}
}

func TestPlexSource_Ping(t *testing.T) {
	srv := newPlexTestServer(t)
	defer srv.Close()

	src := NewPlexSource(srv.URL, "plex-token", testPolicy())
	if err := src.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestParsePlexGUIDs(t *testing.T) {
	tests := []struct {
		name     string
		item     plexMetadata
		wantTMDB int64
		wantIMDb string
	}{
		{
			name: "modern guid list",
			item: plexMetadata{GUIDs: []struct {
				ID string `json:"id"`
			}{{ID: "tmdb://278"}, {ID: "imdb://tt0111161"}}},
			wantTMDB: 278,
			wantIMDb: "tt0111161",
		},
		{
			name:     "legacy themoviedb agent",
			item:     plexMetadata{GUID: "com.plexapp.agents.themoviedb://949?lang=en"},
			wantTMDB: 949,
		},
		{
			name:     "legacy imdb agent",
			item:     plexMetadata{GUID: "com.plexapp.agents.imdb://tt0078748?lang=en"},
			wantIMDb: "tt0078748",
		},
		{
			name: "no identifiers",
			item: plexMetadata{GUID: "plex://movie/5d776b59ad5437001f79c6f8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmdbID, imdbID := parsePlexGUIDs(tt.item)
			if tmdbID != tt.wantTMDB {
				t.Errorf("tmdbID = %d, want %d", tmdbID, tt.wantTMDB)
			}
			if imdbID != tt.wantIMDb {
				t.Errorf("imdbID = %q, want %q", imdbID, tt.wantIMDb)
			}
		})
	}
}

func TestChain_SelectFallsBack(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	up := newPlexTestServer(t)
	defer up.Close()

	primary := NewTautulliSource(down.URL, "key", 1, 100, testPolicy())
	fallback := NewPlexSource(up.URL, "plex-token", testPolicy())

	chain := NewChain(primary, fallback)
	selected, err := chain.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.Name() != fallback.Name() {
		t.Errorf("selected %q, want fallback %q", selected.Name(), fallback.Name())
	}
}

func TestChain_AllUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	chain := NewChain(
		NewTautulliSource(down.URL, "key", 1, 100, testPolicy()),
		NewPlexSource(down.URL, "tok", testPolicy()),
	)
	_, err := chain.Select(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}
