// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package resolve maps raw watch history entries to canonical TMDB ids.
// Resolution is cached in two tiers (in-memory LRU, Badger on disk) because
// title/year lookups are immutable facts.
package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cinelog/internal/metrics"
)

// posterBaseURL is the TMDB image CDN prefix for poster paths.
const posterBaseURL = "https://image.tmdb.org/t/p/w300"

// TMDBClient talks to The Movie Database API v3 with client-side rate
// limiting and bounded retry on transient failures.
type TMDBClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	retryAttempts  uint
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewTMDBClient creates a TMDB client limited to rps requests per second.
func NewTMDBClient(baseURL, apiKey string, rps float64, burst int) *TMDBClient {
	if rps <= 0 {
		rps = 4
	}
	if burst <= 0 {
		burst = 1
	}
	return &TMDBClient{
		baseURL:        baseURL,
		apiKey:         apiKey,
		http:           &http.Client{Timeout: 10 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		retryAttempts:  4,
		retryBaseDelay: 500 * time.Millisecond,
		retryMaxDelay:  8 * time.Second,
	}
}

// MovieResult is one candidate from /search/movie or /find.
type MovieResult struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	ReleaseDate   string `json:"release_date"`
	PosterPath    string `json:"poster_path"`
}

// Year returns the release year, or 0 when unknown.
func (r *MovieResult) Year() int {
	if len(r.ReleaseDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(r.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return y
}

// MovieDetails is the /movie/{id} payload with external ids and credits
// appended.
type MovieDetails struct {
	MovieResult
	ExternalIDs struct {
		IMDbID string `json:"imdb_id"`
	} `json:"external_ids"`
	Credits struct {
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
}

// Directors extracts director names from the credits crew list.
func (d *MovieDetails) Directors() []string {
	var names []string
	for _, member := range d.Credits.Crew {
		if member.Job == "Director" {
			names = append(names, member.Name)
		}
	}
	return names
}

// PosterURL returns the full CDN URL for the poster, or empty.
func (d *MovieResult) PosterURL() string {
	if d.PosterPath == "" {
		return ""
	}
	return posterBaseURL + d.PosterPath
}

// MovieDetails fetches full details with external ids and credits appended.
func (c *TMDBClient) MovieDetails(ctx context.Context, tmdbID int64) (*MovieDetails, error) {
	params := url.Values{}
	params.Set("append_to_response", "external_ids,credits")

	var details MovieDetails
	endpoint := fmt.Sprintf("/movie/%d", tmdbID)
	if err := c.get(ctx, endpoint, params, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// FindByIMDbID looks a movie up by its IMDb id.
// Returns nil without error when TMDB knows no such movie.
func (c *TMDBClient) FindByIMDbID(ctx context.Context, imdbID string) (*MovieResult, error) {
	params := url.Values{}
	params.Set("external_source", "imdb_id")

	var resp struct {
		MovieResults []MovieResult `json:"movie_results"`
	}
	if err := c.get(ctx, "/find/"+url.PathEscape(imdbID), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.MovieResults) == 0 {
		return nil, nil
	}
	return &resp.MovieResults[0], nil
}

// SearchMovie searches by title, optionally constrained by year.
func (c *TMDBClient) SearchMovie(ctx context.Context, title string, year *int) ([]MovieResult, error) {
	params := url.Values{}
	params.Set("query", title)
	if year != nil {
		params.Set("year", strconv.Itoa(*year))
	}

	var resp struct {
		Results []MovieResult `json:"results"`
	}
	if err := c.get(ctx, "/search/movie", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// notFoundError marks a 404 from TMDB; it is not retryable.
type notFoundError struct{ endpoint string }

func (e *notFoundError) Error() string { return "tmdb: " + e.endpoint + " not found" }

func (c *TMDBClient) get(ctx context.Context, endpoint string, params url.Values, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	return retry.Do(
		func() error {
			if err := c.wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err // transport error, retryable
			}
			defer resp.Body.Close()

			metrics.TMDBRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			switch {
			case resp.StatusCode == http.StatusOK:
				if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
					return retry.Unrecoverable(fmt.Errorf("decode tmdb response: %w", err))
				}
				return nil
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(&notFoundError{endpoint: endpoint})
			case resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("tmdb rate limited")
			default:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("tmdb %s returned %d: %s", endpoint, resp.StatusCode, string(body))
			}
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryBaseDelay),
		retry.MaxDelay(c.retryMaxDelay),
		retry.MaxJitter(c.retryBaseDelay/2),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
}

// wait blocks on the local rate limiter, counting actual delays.
func (c *TMDBClient) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("tmdb rate limiter rejected reservation")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	metrics.TMDBRateLimitWaits.Inc()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
