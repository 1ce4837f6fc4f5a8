// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/models"
)

// PlexSource fetches watched movies directly from a Plex Media Server.
// Plex exposes TMDB/IMDb ids through item GUIDs, user ratings on a 1-10
// scale, and view counts that indicate rewatches. It has no watchlist on the
// server API.
type PlexSource struct {
	baseURL string
	token   string
	client  *apiClient
}

// NewPlexSource creates the Plex adapter.
func NewPlexSource(baseURL, token string, policy RetryPolicy) *PlexSource {
	return &PlexSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  newAPIClient(30*time.Second, policy),
	}
}

func (p *PlexSource) Name() models.Provider {
	return models.ProviderPlex
}

type plexContainer[T any] struct {
	MediaContainer T `json:"MediaContainer"`
}

type plexDirectoryList struct {
	Directory []struct {
		Key   string `json:"key"`
		Type  string `json:"type"`
		Title string `json:"title"`
	} `json:"Directory"`
}

type plexMetadataList struct {
	Metadata []plexMetadata `json:"Metadata"`
}

type plexMetadata struct {
	RatingKey    string   `json:"ratingKey"`
	Title        string   `json:"title"`
	Year         *int     `json:"year"`
	ViewCount    int      `json:"viewCount"`
	LastViewedAt int64    `json:"lastViewedAt"`
	UserRating   *float64 `json:"userRating"`
	GUID         string   `json:"guid"`
	GUIDs        []struct {
		ID string `json:"id"`
	} `json:"Guid"`
}

// Ping verifies connectivity against the server identity endpoint.
func (p *PlexSource) Ping(ctx context.Context) error {
	if err := p.get(ctx, "/identity", nil); err != nil {
		return fmt.Errorf("ping plex: %w", err)
	}
	return nil
}

// FetchWatched walks every movie library section and returns items with at
// least one view. ViewCount above one marks a rewatch.
func (p *PlexSource) FetchWatched(ctx context.Context) ([]models.RawEntry, error) {
	var sections plexContainer[plexDirectoryList]
	if err := p.get(ctx, "/library/sections", &sections); err != nil {
		return nil, err
	}

	var entries []models.RawEntry
	for _, dir := range sections.MediaContainer.Directory {
		if dir.Type != "movie" {
			continue
		}

		var items plexContainer[plexMetadataList]
		path := fmt.Sprintf("/library/sections/%s/all?type=1", dir.Key)
		if err := p.get(ctx, path, &items); err != nil {
			return nil, err
		}

		for _, item := range items.MediaContainer.Metadata {
			if item.ViewCount < 1 {
				continue
			}
			entries = append(entries, p.toEntry(item))
		}
	}

	logging.Info().Int("count", len(entries)).Msg("Fetched watched movies from Plex")
	return entries, nil
}

// FetchRatings returns an empty slice; ratings arrive embedded in FetchWatched.
func (p *PlexSource) FetchRatings(ctx context.Context) ([]models.RawEntry, error) {
	return []models.RawEntry{}, nil
}

// FetchWatchlist returns an empty slice; the server API has no watchlist.
func (p *PlexSource) FetchWatchlist(ctx context.Context) ([]models.RawEntry, error) {
	return []models.RawEntry{}, nil
}

func (p *PlexSource) toEntry(item plexMetadata) models.RawEntry {
	entry := models.RawEntry{
		Title:         item.Title,
		Year:          item.Year,
		MediaServerID: item.RatingKey,
		Source:        models.ProviderPlex,
	}

	tmdbID, imdbID := parsePlexGUIDs(item)
	if tmdbID != 0 {
		entry.TMDBID = &tmdbID
	}
	entry.IMDbID = imdbID

	if item.LastViewedAt > 0 {
		at := time.Unix(item.LastViewedAt, 0).UTC()
		entry.WatchedAt = &at
	}
	if item.UserRating != nil {
		rating := models.NormalizeRating(*item.UserRating, models.RatingScale10)
		entry.Rating = &rating
	}
	if item.ViewCount > 1 {
		rewatch := true
		entry.Rewatch = &rewatch
	}

	return entry
}

var (
	legacyTMDBPattern = regexp.MustCompile(`themoviedb://(\d+)`)
	legacyIMDbPattern = regexp.MustCompile(`imdb://(tt\d+)`)
)

// parsePlexGUIDs extracts TMDB and IMDb ids from the modern Guid list, with
// a fallback to the legacy agent-style guid string.
func parsePlexGUIDs(item plexMetadata) (tmdbID int64, imdbID string) {
	for _, g := range item.GUIDs {
		switch {
		case strings.HasPrefix(g.ID, "tmdb://"):
			if n, err := strconv.ParseInt(strings.TrimPrefix(g.ID, "tmdb://"), 10, 64); err == nil {
				tmdbID = n
			}
		case strings.HasPrefix(g.ID, "imdb://"):
			imdbID = strings.TrimPrefix(g.ID, "imdb://")
		}
	}

	if tmdbID == 0 {
		if m := legacyTMDBPattern.FindStringSubmatch(item.GUID); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				tmdbID = n
			}
		}
	}
	if imdbID == "" {
		if m := legacyIMDbPattern.FindStringSubmatch(item.GUID); m != nil {
			imdbID = m[1]
		}
	}

	return tmdbID, imdbID
}

func (p *PlexSource) get(ctx context.Context, path string, result any) error {
	return p.client.getJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Plex-Token", p.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, result)
}
