// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package export writes the library out as Letterboxd-compatible CSV files.
// The filesystem is abstracted behind afero so exports are testable without
// touching disk.
package export

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

const (
	WatchedFilename   = "letterboxd_watched.csv"
	WatchlistFilename = "letterboxd_watchlist.csv"
	ReviewFilename    = "unmatched.csv"
)

var watchedHeaders = []string{
	"imdbID", "tmdbID", "Title", "Year", "Directors",
	"WatchedDate", "Rating", "Rewatch", "Tags", "Review",
}

var watchlistHeaders = []string{
	"imdbID", "tmdbID", "Title", "Year", "Directors",
}

var reviewHeaders = []string{"Title", "Year", "Reason"}

// Exporter writes CSV exports into a single output directory.
type Exporter struct {
	fs  afero.Fs
	dir string
}

// NewExporter creates an exporter rooted at dir on the given filesystem.
func NewExporter(fs afero.Fs, dir string) *Exporter {
	return &Exporter{fs: fs, dir: dir}
}

// ExportWatched writes watched records in Letterboxd diary import format.
// Returns the output path and the number of data rows written.
func (e *Exporter) ExportWatched(records []*models.LibraryRecord) (string, int, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		if !r.Watched {
			continue
		}
		rows = append(rows, watchedRow(r))
	}
	path, err := e.writeCSV(WatchedFilename, watchedHeaders, rows)
	e.record("watched", len(rows), err)
	return path, len(rows), err
}

// ExportWatchlist writes watchlisted records in Letterboxd list import
// format.
func (e *Exporter) ExportWatchlist(records []*models.LibraryRecord) (string, int, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		if !r.Watchlist {
			continue
		}
		rows = append(rows, []string{
			r.IMDbID,
			strconv.FormatInt(r.TMDBID, 10),
			r.Title,
			yearString(r.Year),
			strings.Join(r.Directors, ", "),
		})
	}
	path, err := e.writeCSV(WatchlistFilename, watchlistHeaders, rows)
	e.record("watchlist", len(rows), err)
	return path, len(rows), err
}

// ExportUnmatched writes the review items the last sync run could not merge,
// for manual follow-up.
func (e *Exporter) ExportUnmatched(items []models.ReviewItem) (string, int, error) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Title, yearString(item.Year), item.Reason})
	}
	path, err := e.writeCSV(ReviewFilename, reviewHeaders, rows)
	e.record("unmatched", len(rows), err)
	return path, len(rows), err
}

func (e *Exporter) writeCSV(filename string, headers []string, rows [][]string) (string, error) {
	if err := e.fs.MkdirAll(e.dir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(e.dir, filename)
	f, err := e.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return "", fmt.Errorf("write headers: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}

	logging.Info().Str("path", path).Int("rows", len(rows)).Msg("CSV export written")
	return path, nil
}

func (e *Exporter) record(kind string, rows int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.ExportsTotal.WithLabelValues(kind, result).Inc()
	if err == nil {
		metrics.ExportRowsWritten.Add(float64(rows))
	}
}

func watchedRow(r *models.LibraryRecord) []string {
	rating := ""
	if r.Rating != nil {
		// Whole-number ratings print without a decimal point, matching
		// Letterboxd's own exports ("5", not "5.0").
		rating = strconv.FormatFloat(*r.Rating, 'f', -1, 64)
	}
	date := ""
	if r.WatchedDate != nil {
		date = r.WatchedDate.Format("2006-01-02")
	}

	return []string{
		r.IMDbID,
		strconv.FormatInt(r.TMDBID, 10),
		r.Title,
		yearString(r.Year),
		strings.Join(r.Directors, ", "),
		date,
		rating,
		strconv.FormatBool(r.Rewatch),
		strings.Join(r.Tags, ", "),
		r.Review,
	}
}

func yearString(year *int) string {
	if year == nil {
		return ""
	}
	return strconv.Itoa(*year)
}
