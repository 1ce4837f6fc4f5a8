// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// recordColumns is the column list shared by every SELECT, in scan order.
const recordColumns = `tmdb_id, imdb_id, title, year, directors, poster_url,
	watched, watchlist, watched_date, rating, rewatch, tags, review,
	locally_edited, edited_fields, source_of_truth,
	last_synced_at, created_at, updated_at`

// Upsert writes a record, keyed by canonical TMDB id. On conflict every
// column is replaced; the caller (the reconciliation engine) has already
// merged in any user-edited fields.
func (s *Store) Upsert(ctx context.Context, record *models.LibraryRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	err := s.upsertLocked(ctx, record)
	metrics.RecordDBQuery("upsert", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: upsert tmdb_id %d: %w", ErrPersistence, record.TMDBID, err)
	}
	return nil
}

// UpsertBatch writes records in one transaction. All-or-nothing: a failure
// rolls every record back so a partially merged batch never lands.
func (s *Store) UpsertBatch(ctx context.Context, records []*models.LibraryRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	err := s.upsertBatchLocked(ctx, records)
	metrics.RecordDBQuery("upsert_batch", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: upsert batch of %d: %w", ErrPersistence, len(records), err)
	}
	s.refreshSizeGauge(ctx)
	return nil
}

func (s *Store) upsertBatchLocked(ctx context.Context, records []*models.LibraryRecord) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, record := range records {
		if err := s.execUpsert(ctx, tx, record); err != nil {
			return fmt.Errorf("tmdb_id %d: %w", record.TMDBID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) upsertLocked(ctx context.Context, record *models.LibraryRecord) error {
	return s.execUpsert(ctx, s.conn, record)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execUpsert(ctx context.Context, e execer, record *models.LibraryRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	directors, err := marshalStrings(record.Directors)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(record.Tags)
	if err != nil {
		return err
	}
	editedFields, err := marshalFields(record.EditedFields)
	if err != nil {
		return err
	}

	query := `INSERT INTO library (
		tmdb_id, imdb_id, title, year, directors, poster_url,
		watched, watchlist, watched_date, rating, rewatch, tags, review,
		locally_edited, edited_fields, source_of_truth,
		last_synced_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tmdb_id) DO UPDATE SET
		imdb_id = EXCLUDED.imdb_id,
		title = EXCLUDED.title,
		year = EXCLUDED.year,
		directors = EXCLUDED.directors,
		poster_url = EXCLUDED.poster_url,
		watched = EXCLUDED.watched,
		watchlist = EXCLUDED.watchlist,
		watched_date = EXCLUDED.watched_date,
		rating = EXCLUDED.rating,
		rewatch = EXCLUDED.rewatch,
		tags = EXCLUDED.tags,
		review = EXCLUDED.review,
		locally_edited = EXCLUDED.locally_edited,
		edited_fields = EXCLUDED.edited_fields,
		source_of_truth = EXCLUDED.source_of_truth,
		last_synced_at = EXCLUDED.last_synced_at,
		updated_at = EXCLUDED.updated_at`

	_, err = e.ExecContext(ctx, query,
		record.TMDBID, nullString(record.IMDbID), record.Title, nullIntPtr(record.Year),
		directors, nullString(record.PosterURL),
		record.Watched, record.Watchlist, nullTimePtr(record.WatchedDate),
		nullFloatPtr(record.Rating), record.Rewatch, tags, nullString(record.Review),
		record.LocallyEdited, editedFields, string(record.SourceOfTruth),
		nullTime(record.LastSyncedAt), record.CreatedAt, record.UpdatedAt,
	)
	return err
}

// Get fetches one record by canonical TMDB id.
func (s *Store) Get(ctx context.Context, tmdbID int64) (*models.LibraryRecord, error) {
	start := time.Now()
	query := `SELECT ` + recordColumns + ` FROM library WHERE tmdb_id = ?`
	record, err := scanRecord(s.conn.QueryRowContext(ctx, query, tmdbID))
	metrics.RecordDBQuery("get", time.Since(start), err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tmdb_id %d", ErrNotFound, tmdbID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get tmdb_id %d: %w", ErrPersistence, tmdbID, err)
	}
	return record, nil
}

// ListFilter narrows and orders List results. Zero value lists everything
// sorted by most recently updated.
type ListFilter struct {
	Watched   *bool
	Watchlist *bool
	Search    string // case-insensitive substring of title
	Year      *int
	MinRating *float64
	Edited    *bool

	SortBy   string // title, year, rating, watched_date, updated_at
	SortDesc bool

	Limit  int
	Offset int
}

var sortColumns = map[string]string{
	"title":        "title",
	"year":         "year",
	"rating":       "rating",
	"watched_date": "watched_date",
	"updated_at":   "updated_at",
}

// List returns matching records plus the total match count before paging.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*models.LibraryRecord, int, error) {
	start := time.Now()
	records, total, err := s.list(ctx, filter)
	metrics.RecordDBQuery("list", time.Since(start), err)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list: %w", ErrPersistence, err)
	}
	return records, total, nil
}

func (s *Store) list(ctx context.Context, filter ListFilter) ([]*models.LibraryRecord, int, error) {
	var conditions []string
	var args []any

	if filter.Watched != nil {
		conditions = append(conditions, "watched = ?")
		args = append(args, *filter.Watched)
	}
	if filter.Watchlist != nil {
		conditions = append(conditions, "watchlist = ?")
		args = append(args, *filter.Watchlist)
	}
	if filter.Search != "" {
		conditions = append(conditions, "lower(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Year != nil {
		conditions = append(conditions, "year = ?")
		args = append(args, *filter.Year)
	}
	if filter.MinRating != nil {
		conditions = append(conditions, "rating >= ?")
		args = append(args, *filter.MinRating)
	}
	if filter.Edited != nil {
		conditions = append(conditions, "locally_edited = ?")
		args = append(args, *filter.Edited)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM library"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol, ok := sortColumns[filter.SortBy]
	if !ok {
		orderCol = "updated_at"
		filter.SortDesc = filter.SortBy == "" || filter.SortDesc
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	query := "SELECT " + recordColumns + " FROM library" + where +
		fmt.Sprintf(" ORDER BY %s %s NULLS LAST, tmdb_id ASC", orderCol, direction)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*models.LibraryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, rows.Err()
}

// Snapshot loads the whole library keyed by TMDB id. The reconciliation
// engine merges against this map and never mutates it.
func (s *Store) Snapshot(ctx context.Context) (map[int64]*models.LibraryRecord, error) {
	start := time.Now()
	records, _, err := s.list(ctx, ListFilter{})
	metrics.RecordDBQuery("snapshot", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrPersistence, err)
	}

	snapshot := make(map[int64]*models.LibraryRecord, len(records))
	for _, record := range records {
		snapshot[record.TMDBID] = record
	}
	return snapshot, nil
}

// ApplyEdit applies a dashboard edit to the named fields, marking them as
// locally edited so the next sync preserves them.
func (s *Store) ApplyEdit(ctx context.Context, tmdbID int64, mutate func(*models.LibraryRecord) error, fields ...models.Field) (*models.LibraryRecord, error) {
	for _, f := range fields {
		if !models.IsEditable(f) {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotEditable, f)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record, err := s.Get(ctx, tmdbID)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	record.MarkEdited(fields...)

	start := time.Now()
	err = s.upsertLocked(ctx, record)
	metrics.RecordDBQuery("edit", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: edit tmdb_id %d: %w", ErrPersistence, tmdbID, err)
	}
	return record, nil
}

// ClearEdits removes all edit markers from a record, re-opening every field
// to sync overwrites.
func (s *Store) ClearEdits(ctx context.Context, tmdbID int64) (*models.LibraryRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record, err := s.Get(ctx, tmdbID)
	if err != nil {
		return nil, err
	}
	record.ClearEdits()
	record.SourceOfTruth = models.SourceSync

	start := time.Now()
	err = s.upsertLocked(ctx, record)
	metrics.RecordDBQuery("clear_edits", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: clear edits tmdb_id %d: %w", ErrPersistence, tmdbID, err)
	}
	return record, nil
}

// Delete removes a record. Records are only deleted by explicit user action.
func (s *Store) Delete(ctx context.Context, tmdbID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	result, err := s.conn.ExecContext(ctx, `DELETE FROM library WHERE tmdb_id = ?`, tmdbID)
	metrics.RecordDBQuery("delete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: delete tmdb_id %d: %w", ErrPersistence, tmdbID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: tmdb_id %d", ErrNotFound, tmdbID)
	}
	s.refreshSizeGauge(ctx)
	return nil
}

// Stats summarizes the library for the dashboard.
type Stats struct {
	Total         int      `json:"total"`
	Watched       int      `json:"watched"`
	Watchlist     int      `json:"watchlist"`
	Rated         int      `json:"rated"`
	Rewatches     int      `json:"rewatches"`
	LocallyEdited int      `json:"locally_edited"`
	AverageRating *float64 `json:"average_rating,omitempty"`
}

// Stats computes aggregate library counts in one scan.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	start := time.Now()

	query := `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE watched),
		COUNT(*) FILTER (WHERE watchlist),
		COUNT(rating),
		COUNT(*) FILTER (WHERE rewatch),
		COUNT(*) FILTER (WHERE locally_edited),
		AVG(rating)
	FROM library`

	var stats Stats
	var avg sql.NullFloat64
	err := s.conn.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Watched, &stats.Watchlist,
		&stats.Rated, &stats.Rewatches, &stats.LocallyEdited, &avg,
	)
	metrics.RecordDBQuery("stats", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", ErrPersistence, err)
	}
	if avg.Valid {
		stats.AverageRating = &avg.Float64
	}

	metrics.LibrarySize.Set(float64(stats.Total))
	return &stats, nil
}

func (s *Store) refreshSizeGauge(ctx context.Context) {
	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM library`).Scan(&total); err == nil {
		metrics.LibrarySize.Set(float64(total))
	}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.LibraryRecord, error) {
	var record models.LibraryRecord
	var (
		imdbID, posterURL, review sql.NullString
		directors, tags, edited   sql.NullString
		year                      sql.NullInt64
		watchedDate, lastSynced   sql.NullTime
		rating                    sql.NullFloat64
		sourceOfTruth             string
	)

	err := row.Scan(
		&record.TMDBID, &imdbID, &record.Title, &year, &directors, &posterURL,
		&record.Watched, &record.Watchlist, &watchedDate, &rating, &record.Rewatch,
		&tags, &review, &record.LocallyEdited, &edited, &sourceOfTruth,
		&lastSynced, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.IMDbID = imdbID.String
	record.PosterURL = posterURL.String
	record.Review = review.String
	record.SourceOfTruth = models.SourceOfTruth(sourceOfTruth)
	if year.Valid {
		y := int(year.Int64)
		record.Year = &y
	}
	if watchedDate.Valid {
		t := watchedDate.Time.UTC()
		record.WatchedDate = &t
	}
	if lastSynced.Valid {
		record.LastSyncedAt = lastSynced.Time.UTC()
	}
	if rating.Valid {
		record.Rating = &rating.Float64
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	if err := unmarshalStrings(directors, &record.Directors); err != nil {
		return nil, fmt.Errorf("decode directors for tmdb_id %d: %w", record.TMDBID, err)
	}
	if err := unmarshalStrings(tags, &record.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for tmdb_id %d: %w", record.TMDBID, err)
	}
	if edited.Valid && edited.String != "" {
		if err := json.Unmarshal([]byte(edited.String), &record.EditedFields); err != nil {
			return nil, fmt.Errorf("decode edited_fields for tmdb_id %d: %w", record.TMDBID, err)
		}
	}
	return &record, nil
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalFields(fields []models.Field) (any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalStrings(col sql.NullString, dest *[]string) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTimePtr(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func nullTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return v.UTC()
}
