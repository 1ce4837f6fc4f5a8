// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinelog/internal/auth"
	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/models"
)

// TokenProvider hands out a currently valid bearer token.
// Implemented by the auth.Manager.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// SimklSource fetches watch history from the Simkl aggregator API.
// All requests carry the OAuth bearer token plus the simkl-api-key header.
type SimklSource struct {
	apiURL   string
	clientID string
	tokens   TokenProvider
	client   *apiClient
}

// NewSimklSource creates the Simkl adapter.
func NewSimklSource(apiURL, clientID string, tokens TokenProvider, policy RetryPolicy) *SimklSource {
	return &SimklSource{
		apiURL:   apiURL,
		clientID: clientID,
		tokens:   tokens,
		client:   newAPIClient(30*time.Second, policy),
	}
}

func (s *SimklSource) Name() models.Provider {
	return models.ProviderSimkl
}

// simklID unmarshals Simkl id values that arrive as either a JSON number or
// a numeric string.
type simklID int64

func (id *simklID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	s := string(data)
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("parse simkl id %q: %w", str, err)
		}
		*id = simklID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = simklID(n)
	return nil
}

// simklItem is one element of the "movies" array in Simkl sync responses.
type simklItem struct {
	Movie struct {
		Title string `json:"title"`
		Year  *int   `json:"year"`
		IDs   struct {
			Simkl simklID `json:"simkl"`
			IMDb  string  `json:"imdb"`
			TMDB  simklID `json:"tmdb"`
		} `json:"ids"`
	} `json:"movie"`
	LastWatchedAt string   `json:"last_watched_at"`
	WatchedAt     string   `json:"watched_at"`
	AddedAt       string   `json:"added_at"`
	RatedAt       string   `json:"rated_at"`
	UserRating    *float64 `json:"user_rating"`
}

type simklMoviesResponse struct {
	Movies []simklItem `json:"movies"`
}

// Ping verifies connectivity and the bearer token against /users/settings.
func (s *SimklSource) Ping(ctx context.Context) error {
	return s.get(ctx, "/users/settings", nil)
}

// FetchWatched returns all watched movies, with embedded ratings normalized
// from Simkl's 1-10 scale.
func (s *SimklSource) FetchWatched(ctx context.Context) ([]models.RawEntry, error) {
	var resp simklMoviesResponse
	if err := s.get(ctx, "/sync/all-items/movies", &resp); err != nil {
		return nil, err
	}

	entries := make([]models.RawEntry, 0, len(resp.Movies))
	for _, item := range resp.Movies {
		entry := s.toEntry(item)
		entry.WatchedAt = parseSimklTime(item.LastWatchedAt, item.WatchedAt)
		entries = append(entries, entry)
	}

	logging.Info().Int("count", len(entries)).Msg("Fetched watched movies from Simkl")
	return entries, nil
}

// FetchRatings returns rated movies from /sync/ratings/movies.
func (s *SimklSource) FetchRatings(ctx context.Context) ([]models.RawEntry, error) {
	var resp simklMoviesResponse
	if err := s.get(ctx, "/sync/ratings/movies", &resp); err != nil {
		return nil, err
	}

	entries := make([]models.RawEntry, 0, len(resp.Movies))
	for _, item := range resp.Movies {
		if item.UserRating == nil {
			continue
		}
		entries = append(entries, s.toEntry(item))
	}

	logging.Info().Int("count", len(entries)).Msg("Fetched ratings from Simkl")
	return entries, nil
}

// FetchWatchlist returns plan-to-watch movies.
func (s *SimklSource) FetchWatchlist(ctx context.Context) ([]models.RawEntry, error) {
	var resp simklMoviesResponse
	if err := s.get(ctx, "/sync/all-items/movies/plantowatch", &resp); err != nil {
		return nil, err
	}

	entries := make([]models.RawEntry, 0, len(resp.Movies))
	for _, item := range resp.Movies {
		entry := s.toEntry(item)
		entry.Watchlist = true
		entries = append(entries, entry)
	}

	logging.Info().Int("count", len(entries)).Msg("Fetched watchlist from Simkl")
	return entries, nil
}

func (s *SimklSource) toEntry(item simklItem) models.RawEntry {
	entry := models.RawEntry{
		Title:  item.Movie.Title,
		Year:   item.Movie.Year,
		IMDbID: item.Movie.IDs.IMDb,
		Source: models.ProviderSimkl,
	}
	if item.Movie.IDs.TMDB != 0 {
		id := int64(item.Movie.IDs.TMDB)
		entry.TMDBID = &id
	}
	if item.Movie.IDs.Simkl != 0 {
		entry.MediaServerID = strconv.FormatInt(int64(item.Movie.IDs.Simkl), 10)
	}
	if item.UserRating != nil {
		rating := models.NormalizeRating(*item.UserRating, models.RatingScale10)
		entry.Rating = &rating
	}
	return entry
}

func (s *SimklSource) get(ctx context.Context, endpoint string, result any) error {
	token, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("simkl %s: %w", endpoint, err)
	}

	err = s.client.getJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+endpoint, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("simkl-api-key", s.clientID)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, result)

	// Simkl tokens do not expire on their own, so a revocation only shows up
	// here: the provider rejecting a token the manager still considers valid.
	var se *statusError
	if errors.As(err, &se) && (se.code == http.StatusUnauthorized || se.code == http.StatusForbidden) {
		return fmt.Errorf("%w: simkl %s rejected token (status %d)", auth.ErrReauthRequired, endpoint, se.code)
	}
	return err
}

// parseSimklTime returns the first parseable RFC 3339 timestamp.
func parseSimklTime(candidates ...string) *time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
