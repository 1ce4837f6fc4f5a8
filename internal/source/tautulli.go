// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/models"
)

// TautulliSource fetches playback history from a Tautulli server.
// Tautulli carries neither TMDB/IMDb ids, user ratings, nor a watchlist;
// entries are resolved later by title and year.
type TautulliSource struct {
	baseURL  string
	apiKey   string
	userID   int
	pageSize int
	client   *apiClient
}

// NewTautulliSource creates the Tautulli adapter.
func NewTautulliSource(baseURL, apiKey string, userID, pageSize int, policy RetryPolicy) *TautulliSource {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &TautulliSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		userID:   userID,
		pageSize: pageSize,
		client:   newAPIClient(30*time.Second, policy),
	}
}

func (t *TautulliSource) Name() models.Provider {
	return models.ProviderTautulli
}

// tautulliResponse is the common wrapper around every Tautulli API payload.
type tautulliResponse[T any] struct {
	Response struct {
		Result  string  `json:"result"`
		Message *string `json:"message"`
		Data    T       `json:"data"`
	} `json:"response"`
}

type tautulliHistoryData struct {
	RecordsFiltered int                  `json:"recordsFiltered"`
	Data            []tautulliHistoryRow `json:"data"`
}

type tautulliHistoryRow struct {
	MediaType string `json:"media_type"`
	Title     string `json:"title"`
	Year      any    `json:"year"` // Tautulli returns int or ""
	Stopped   int64  `json:"stopped"`
	RatingKey any    `json:"rating_key"`
}

// Ping verifies connectivity with the arnold command.
func (t *TautulliSource) Ping(ctx context.Context) error {
	var resp tautulliResponse[any]
	if err := t.makeRequest(ctx, "arnold", nil, &resp); err != nil {
		return fmt.Errorf("ping tautulli: %w", err)
	}
	return nil
}

// FetchWatched pages through get_history and deduplicates to the most recent
// watch per movie. A movie watched more than once is flagged as a rewatch.
func (t *TautulliSource) FetchWatched(ctx context.Context) ([]models.RawEntry, error) {
	var all []models.RawEntry

	start := 0
	for {
		params := url.Values{}
		params.Set("user_id", strconv.Itoa(t.userID))
		params.Set("media_type", "movie")
		params.Set("start", strconv.Itoa(start))
		params.Set("length", strconv.Itoa(t.pageSize))

		var resp tautulliResponse[tautulliHistoryData]
		if err := t.makeRequest(ctx, "get_history", params, &resp); err != nil {
			return nil, err
		}

		page := resp.Response.Data.Data
		if len(page) == 0 {
			break
		}

		for _, row := range page {
			if row.MediaType != "movie" {
				continue
			}
			entry := models.RawEntry{
				Title:  row.Title,
				Year:   parseTautulliYear(row.Year),
				Source: models.ProviderTautulli,
			}
			if key := anyToString(row.RatingKey); key != "" {
				entry.MediaServerID = key
			}
			if row.Stopped > 0 {
				at := time.Unix(row.Stopped, 0).UTC()
				entry.WatchedAt = &at
			}
			all = append(all, entry)
		}

		start += t.pageSize
		if start >= resp.Response.Data.RecordsFiltered {
			break
		}
	}

	deduped := dedupeWatches(all)
	logging.Info().
		Int("fetched", len(all)).
		Int("unique", len(deduped)).
		Msg("Fetched watched movies from Tautulli")
	return deduped, nil
}

// FetchRatings returns an empty slice; Tautulli has no user ratings.
func (t *TautulliSource) FetchRatings(ctx context.Context) ([]models.RawEntry, error) {
	return []models.RawEntry{}, nil
}

// FetchWatchlist returns an empty slice; Tautulli has no watchlist.
func (t *TautulliSource) FetchWatchlist(ctx context.Context) ([]models.RawEntry, error) {
	return []models.RawEntry{}, nil
}

// dedupeWatches keeps the most recent watch per movie. Movies with multiple
// watches get Rewatch set. Output order follows first appearance in the
// history, which Tautulli returns newest first.
func dedupeWatches(entries []models.RawEntry) []models.RawEntry {
	type group struct {
		order   int
		watches []models.RawEntry
	}

	groups := make(map[string]*group)
	for _, e := range entries {
		key := strings.ToLower(e.Key())
		g, ok := groups[key]
		if !ok {
			g = &group{order: len(groups)}
			groups[key] = g
		}
		g.watches = append(g.watches, e)
	}

	result := make([]models.RawEntry, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.watches, func(i, j int) bool {
			return laterWatch(g.watches[i].WatchedAt, g.watches[j].WatchedAt)
		})
		latest := g.watches[0]
		if len(g.watches) > 1 {
			rewatch := true
			latest.Rewatch = &rewatch
		}
		result[g.order] = latest
	}
	return result
}

// laterWatch orders timestamps newest first, nil last.
func laterWatch(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func (t *TautulliSource) makeRequest(ctx context.Context, cmd string, params url.Values, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", t.apiKey)
	params.Set("cmd", cmd)

	reqURL := fmt.Sprintf("%s/api/v2?%s", t.baseURL, params.Encode())

	err := t.client.getJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	}, result)
	if err != nil {
		return fmt.Errorf("%s request: %w", cmd, err)
	}

	return validateTautulliResult(result, cmd)
}

// validateTautulliResult checks the response.result field on the typed wrapper.
func validateTautulliResult(result any, cmd string) error {
	type resulter interface{ resultStatus() (string, *string) }
	if r, ok := result.(resulter); ok {
		status, message := r.resultStatus()
		if status != "success" {
			msg := "unknown error"
			if message != nil {
				msg = *message
			}
			return fmt.Errorf("%s request failed: %s", cmd, msg)
		}
	}
	return nil
}

func (r *tautulliResponse[T]) resultStatus() (string, *string) {
	return r.Response.Result, r.Response.Message
}

// parseTautulliYear handles Tautulli's habit of returning year as a number
// or an empty string.
func parseTautulliYear(v any) *int {
	switch y := v.(type) {
	case float64:
		if y > 0 {
			year := int(y)
			return &year
		}
	case string:
		if n, err := strconv.Atoi(y); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

func anyToString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatInt(int64(s), 10)
	}
	return ""
}
