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

	"github.com/tomtom215/cinelog/internal/auth"
	"github.com/tomtom215/cinelog/internal/models"
)

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) GetValidToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

const simklWatchedFixture = `{
  "movies": [
    {
      "movie": {
        "title": "The Shawshank Redemption",
        "year": 1994,
        "ids": {"simkl": 12345, "imdb": "tt0111161", "tmdb": "278"}
      },
      "last_watched_at": "2024-01-15T20:30:00Z",
      "user_rating": 10
    },
    {
      "movie": {
        "title": "Heat",
        "year": 1995,
        "ids": {"simkl": 777, "tmdb": 949}
      },
      "watched_at": "2023-06-02T00:00:00Z"
    }
  ]
}`

func TestSimklSource_FetchWatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync/all-items/movies" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("simkl-api-key"); got != "client-id" {
			t.Errorf("simkl-api-key = %q", got)
		}
		io.WriteString(w, simklWatchedFixture)
	}))
	defer srv.Close()

	src := NewSimklSource(srv.URL, "client-id", &staticTokens{token: "test-token"}, testPolicy())

	entries, err := src.FetchWatched(context.Background())
	if err != nil {
		t.Fatalf("FetchWatched: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.Title != "The Shawshank Redemption" || first.Year == nil || *first.Year != 1994 {
		t.Errorf("unexpected first entry: %+v", first)
	}
	// "tmdb" arrives as a numeric string.
	if first.TMDBID == nil || *first.TMDBID != 278 {
		t.Errorf("TMDBID = %v, want 278", first.TMDBID)
	}
	if first.IMDbID != "tt0111161" {
		t.Errorf("IMDbID = %q", first.IMDbID)
	}
	// Simkl rating 10 on the 1-10 scale normalizes to 5.0.
	if first.Rating == nil || *first.Rating != 5.0 {
		t.Errorf("Rating = %v, want 5.0", first.Rating)
	}
	if first.WatchedAt == nil || first.WatchedAt.Format("2006-01-02") != "2024-01-15" {
		t.Errorf("WatchedAt = %v", first.WatchedAt)
	}
	if first.Source != models.ProviderSimkl {
		t.Errorf("Source = %q", first.Source)
	}

	second := entries[1]
	// "tmdb" as a JSON number also parses.
	if second.TMDBID == nil || *second.TMDBID != 949 {
		t.Errorf("second TMDBID = %v, want 949", second.TMDBID)
	}
	if second.Rating != nil {
		t.Errorf("second Rating = %v, want nil", second.Rating)
	}
	// Falls back to watched_at when last_watched_at is absent.
	if second.WatchedAt == nil {
		t.Error("second WatchedAt is nil")
	}
}

func TestSimklSource_FetchWatchlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync/all-items/movies/plantowatch" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"movies":[{"movie":{"title":"Dune","year":2021,"ids":{"tmdb":438631}},"added_at":"2024-02-01T00:00:00Z"}]}`)
	}))
	defer srv.Close()

	src := NewSimklSource(srv.URL, "client-id", &staticTokens{token: "t"}, testPolicy())

	entries, err := src.FetchWatchlist(context.Background())
	if err != nil {
		t.Fatalf("FetchWatchlist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !entries[0].Watchlist {
		t.Error("watchlist entry not flagged")
	}
}

func TestSimklSource_FetchRatings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync/ratings/movies" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"movies":[
			{"movie":{"title":"Heat","year":1995,"ids":{"tmdb":949}},"user_rating":9},
			{"movie":{"title":"Unrated","year":2000,"ids":{}}}
		]}`)
	}))
	defer srv.Close()

	src := NewSimklSource(srv.URL, "client-id", &staticTokens{token: "t"}, testPolicy())

	entries, err := src.FetchRatings(context.Background())
	if err != nil {
		t.Fatalf("FetchRatings: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (unrated items skipped)", len(entries))
	}
	if entries[0].Rating == nil || *entries[0].Rating != 4.5 {
		t.Errorf("Rating = %v, want 4.5", entries[0].Rating)
	}
}

func TestSimklSource_RevokedTokenMapsToReauth(t *testing.T) {
	// Simkl tokens carry no expiry, so revocation first surfaces as the
	// provider rejecting a token the manager still holds as valid.
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			src := NewSimklSource(srv.URL, "client-id", &staticTokens{token: "revoked"}, testPolicy())

			if err := src.Ping(context.Background()); !errors.Is(err, auth.ErrReauthRequired) {
				t.Errorf("Ping error = %v, want ErrReauthRequired", err)
			}
			_, err := src.FetchWatched(context.Background())
			if !errors.Is(err, auth.ErrReauthRequired) {
				t.Errorf("FetchWatched error = %v, want ErrReauthRequired", err)
			}
			if errors.Is(err, ErrSourceUnavailable) {
				t.Error("token rejection must not be classified as source unavailability")
			}
		})
	}
}

func TestChain_KeepsCredentialRejectionBehindFallback(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	chain := NewChain(
		NewSimklSource(rejecting.URL, "client-id", &staticTokens{token: "revoked"}, testPolicy()),
		NewTautulliSource(down.URL, "key", 1, 100, testPolicy()),
	)

	_, err := chain.Select(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
	// The fallback failing must not mask the primary's credential rejection.
	if !errors.Is(err, auth.ErrReauthRequired) {
		t.Errorf("expected ErrReauthRequired preserved in joined error, got %v", err)
	}
}

func TestSimklSource_ServerErrorIsNotReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewSimklSource(srv.URL, "client-id", &staticTokens{token: "t"}, testPolicy())

	_, err := src.FetchWatched(context.Background())
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if errors.Is(err, auth.ErrReauthRequired) {
		t.Errorf("server error misclassified as credential rejection: %v", err)
	}
}

func TestSimklSource_AuthErrorPropagates(t *testing.T) {
	authErr := errors.New("re-authorization required")
	src := NewSimklSource("http://unused", "client-id", &staticTokens{err: authErr}, testPolicy())

	_, err := src.FetchWatched(context.Background())
	if !errors.Is(err, authErr) {
		t.Errorf("expected auth error to propagate, got %v", err)
	}
	if errors.Is(err, ErrSourceUnavailable) {
		t.Error("auth failure must not be classified as source unavailability")
	}
}
