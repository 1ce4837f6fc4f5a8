// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import "time"

// APIResponse is the common envelope for all dashboard API responses.
type APIResponse struct {
	Status   string      `json:"status"` // "success" or "error"
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing information for dashboard diagnostics.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MoviesPage is the paginated library listing returned by the movies endpoint.
type MoviesPage struct {
	Movies []*LibraryRecord `json:"movies"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// LibraryStats summarizes the library for the dashboard landing page.
type LibraryStats struct {
	TotalWatched       int            `json:"total_watched"`
	TotalWatchlist     int            `json:"total_watchlist"`
	AverageRating      float64        `json:"average_rating"`
	RatingDistribution map[string]int `json:"rating_distribution"`
	MoviesByYear       map[string]int `json:"movies_by_year"`
	MoviesByMonth      map[string]int `json:"movies_by_month"`
}
