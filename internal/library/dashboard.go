// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package library

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// DashboardStats computes the landing-page aggregates: totals, average
// rating, and the rating/year/month distributions.
func (s *Store) DashboardStats(ctx context.Context) (*models.LibraryStats, error) {
	start := time.Now()
	stats, err := s.dashboardStats(ctx)
	metrics.RecordDBQuery("dashboard_stats", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: dashboard stats: %w", ErrPersistence, err)
	}
	return stats, nil
}

func (s *Store) dashboardStats(ctx context.Context) (*models.LibraryStats, error) {
	stats := &models.LibraryStats{
		RatingDistribution: make(map[string]int),
		MoviesByYear:       make(map[string]int),
		MoviesByMonth:      make(map[string]int),
	}

	err := s.conn.QueryRowContext(ctx, `SELECT
		COUNT(*) FILTER (WHERE watched),
		COUNT(*) FILTER (WHERE watchlist),
		COALESCE(AVG(rating), 0)
	FROM library`).Scan(&stats.TotalWatched, &stats.TotalWatchlist, &stats.AverageRating)
	if err != nil {
		return nil, err
	}

	if err := s.groupCounts(ctx,
		`SELECT CAST(rating AS VARCHAR), COUNT(*) FROM library WHERE rating IS NOT NULL GROUP BY rating`,
		stats.RatingDistribution); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx,
		`SELECT CAST(year AS VARCHAR), COUNT(*) FROM library WHERE year IS NOT NULL AND watched GROUP BY year`,
		stats.MoviesByYear); err != nil {
		return nil, err
	}
	if err := s.groupCounts(ctx,
		`SELECT strftime(watched_date, '%Y-%m'), COUNT(*) FROM library WHERE watched_date IS NOT NULL GROUP BY 1`,
		stats.MoviesByMonth); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) groupCounts(ctx context.Context, query string, dest map[string]int) error {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dest[key] = count
	}
	return rows.Err()
}
