// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package api is the dashboard HTTP surface: library browsing and edits,
// sync control, OAuth management, and CSV export.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cinelog/internal/library"
	"github.com/tomtom215/cinelog/internal/models"
	"github.com/tomtom215/cinelog/internal/syncer"
)

// LibraryStore is the subset of the library store the handlers use.
type LibraryStore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, tmdbID int64) (*models.LibraryRecord, error)
	List(ctx context.Context, filter library.ListFilter) ([]*models.LibraryRecord, int, error)
	ApplyEdit(ctx context.Context, tmdbID int64, mutate func(*models.LibraryRecord) error, fields ...models.Field) (*models.LibraryRecord, error)
	ClearEdits(ctx context.Context, tmdbID int64) (*models.LibraryRecord, error)
	Delete(ctx context.Context, tmdbID int64) error
	DashboardStats(ctx context.Context) (*models.LibraryStats, error)
}

// SyncController exposes scheduler state and manual triggering.
type SyncController interface {
	State() syncer.State
	LastRun() *models.SyncRun
	TriggerSync() bool
}

// AuthController exposes the OAuth lifecycle of the primary source.
type AuthController interface {
	Status(ctx context.Context) (authorized bool, expiresAt time.Time, err error)
	StartAuthorization(ctx context.Context) (authURL string, err error)
	Deauthorize(ctx context.Context) error
}

// CSVExporter writes the Letterboxd-compatible export files.
type CSVExporter interface {
	ExportWatched(records []*models.LibraryRecord) (string, int, error)
	ExportWatchlist(records []*models.LibraryRecord) (string, int, error)
	ExportUnmatched(items []models.ReviewItem) (string, int, error)
}

// Handler holds the dependencies behind the HTTP endpoints.
type Handler struct {
	store     LibraryStore
	sync      SyncController
	auth      AuthController
	exporter  CSVExporter
	startedAt time.Time
}

// NewHandler wires the dashboard handlers.
func NewHandler(store LibraryStore, sync SyncController, auth AuthController, exporter CSVExporter) *Handler {
	return &Handler{
		store:     store,
		sync:      sync,
		auth:      auth,
		exporter:  exporter,
		startedAt: time.Now(),
	}
}

// Health reports liveness plus database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		dbStatus = err.Error()
		code = http.StatusServiceUnavailable
	}

	respondData(w, code, map[string]any{
		"status":         status,
		"database":       dbStatus,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}, started)
}

// Stats serves the dashboard landing-page aggregates.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	stats, err := h.store.DashboardStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STATS_FAILED", "failed to compute library stats", err)
		return
	}
	respondData(w, http.StatusOK, stats, started)
}

// Movies lists library records with filtering, sorting, and paging.
func (h *Handler) Movies(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	filter := library.ListFilter{
		Watched:   getBoolParam(r, "watched"),
		Watchlist: getBoolParam(r, "watchlist"),
		Edited:    getBoolParam(r, "edited"),
		Search:    r.URL.Query().Get("search"),
		SortBy:    r.URL.Query().Get("sort"),
		SortDesc:  r.URL.Query().Get("order") == "desc",
		Limit:     getIntParam(r, "limit", 50),
		Offset:    getIntParam(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if year := getIntParam(r, "year", 0); year > 0 {
		filter.Year = &year
	}
	if v := r.URL.Query().Get("min_rating"); v != "" {
		if minRating, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinRating = &minRating
		}
	}

	records, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list library", err)
		return
	}

	respondData(w, http.StatusOK, &models.MoviesPage{
		Movies: records,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, started)
}

// Movie fetches one record by TMDB id.
func (h *Handler) Movie(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tmdbID, ok := h.movieID(w, r)
	if !ok {
		return
	}

	record, err := h.store.Get(r.Context(), tmdbID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, record, started)
}

// movieEditRequest carries a partial update; only present fields are applied
// and marked as user edits.
type movieEditRequest struct {
	Rating      *float64  `json:"rating"`
	WatchedDate *string   `json:"watched_date"` // YYYY-MM-DD, empty clears
	Rewatch     *bool     `json:"rewatch"`
	Tags        *[]string `json:"tags"`
	Review      *string   `json:"review"`
	Watchlist   *bool     `json:"watchlist"`
	Watched     *bool     `json:"watched"`
}

// UpdateMovie applies a dashboard edit. Edited fields survive future syncs
// until the user clears them.
func (h *Handler) UpdateMovie(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tmdbID, ok := h.movieID(w, r)
	if !ok {
		return
	}

	var req movieEditRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed request body", err)
		return
	}

	var watchedDate *time.Time
	if req.WatchedDate != nil && *req.WatchedDate != "" {
		parsed, err := time.Parse("2006-01-02", *req.WatchedDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_DATE", "watched_date must be YYYY-MM-DD", err)
			return
		}
		watchedDate = &parsed
	}
	if req.Rating != nil && (*req.Rating < 0.5 || *req.Rating > 5.0) {
		respondError(w, http.StatusBadRequest, "INVALID_RATING", "rating must be between 0.5 and 5.0", nil)
		return
	}

	var fields []models.Field
	mutate := func(rec *models.LibraryRecord) error {
		if req.Rating != nil {
			rec.Rating = req.Rating
		}
		if req.WatchedDate != nil {
			rec.WatchedDate = watchedDate
		}
		if req.Rewatch != nil {
			rec.Rewatch = *req.Rewatch
		}
		if req.Tags != nil {
			rec.Tags = *req.Tags
		}
		if req.Review != nil {
			rec.Review = *req.Review
		}
		if req.Watchlist != nil {
			rec.Watchlist = *req.Watchlist
		}
		if req.Watched != nil {
			rec.Watched = *req.Watched
		}
		return nil
	}

	if req.Rating != nil {
		fields = append(fields, models.FieldRating)
	}
	if req.WatchedDate != nil {
		fields = append(fields, models.FieldWatchedDate)
	}
	if req.Rewatch != nil {
		fields = append(fields, models.FieldRewatch)
	}
	if req.Tags != nil {
		fields = append(fields, models.FieldTags)
	}
	if req.Review != nil {
		fields = append(fields, models.FieldReview)
	}
	if req.Watchlist != nil {
		fields = append(fields, models.FieldWatchlist)
	}
	if req.Watched != nil {
		fields = append(fields, models.FieldWatched)
	}
	if len(fields) == 0 {
		respondError(w, http.StatusBadRequest, "EMPTY_EDIT", "no editable fields in request", nil)
		return
	}

	record, err := h.store.ApplyEdit(r.Context(), tmdbID, mutate, fields...)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, record, started)
}

// ClearMovieEdits removes all edit markers from a record.
func (h *Handler) ClearMovieEdits(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tmdbID, ok := h.movieID(w, r)
	if !ok {
		return
	}

	record, err := h.store.ClearEdits(r.Context(), tmdbID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, record, started)
}

// DeleteMovie removes a record permanently.
func (h *Handler) DeleteMovie(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	tmdbID, ok := h.movieID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), tmdbID); err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"deleted": tmdbID}, started)
}

// SyncStatus reports the scheduler state and last run summary.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	respondData(w, http.StatusOK, map[string]any{
		"state":    h.sync.State(),
		"last_run": h.sync.LastRun(),
	}, started)
}

// TriggerSync requests an immediate sync run.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	triggered := h.sync.TriggerSync()
	code := http.StatusAccepted
	if !triggered {
		// Either coalesced into a pending run or refused while suspended.
		code = http.StatusConflict
	}
	respondData(w, code, map[string]any{
		"triggered": triggered,
		"state":     h.sync.State(),
	}, started)
}

// AuthStatus reports whether the primary source is authorized.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	authorized, expiresAt, err := h.auth.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AUTH_STATUS_FAILED", "failed to read credential state", err)
		return
	}

	data := map[string]any{"authorized": authorized}
	if authorized && !expiresAt.IsZero() {
		data["expires_at"] = expiresAt
	}
	respondData(w, http.StatusOK, data, started)
}

// StartAuth begins the OAuth flow and returns the consent URL.
func (h *Handler) StartAuth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	authURL, err := h.auth.StartAuthorization(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "AUTH_START_FAILED", "failed to start authorization", err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"auth_url": authURL}, started)
}

// Deauthorize discards the stored credential.
func (h *Handler) Deauthorize(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if err := h.auth.Deauthorize(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "DEAUTH_FAILED", "failed to remove credential", err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"authorized": false}, started)
}

// Export writes the CSV export files and reports what was written.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	records, _, err := h.store.List(r.Context(), library.ListFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to load library", err)
		return
	}

	watchedPath, watchedRows, err := h.exporter.ExportWatched(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to write watched export", err)
		return
	}
	watchlistPath, watchlistRows, err := h.exporter.ExportWatchlist(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to write watchlist export", err)
		return
	}

	data := map[string]any{
		"watched":   map[string]any{"path": watchedPath, "rows": watchedRows},
		"watchlist": map[string]any{"path": watchlistPath, "rows": watchlistRows},
	}

	// Unmatched entries from the last run, when there are any.
	if run := h.sync.LastRun(); run != nil {
		items := append(append([]models.ReviewItem{}, run.Ambiguous...), run.NotFound...)
		if len(items) > 0 {
			unmatchedPath, unmatchedRows, err := h.exporter.ExportUnmatched(items)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to write unmatched export", err)
				return
			}
			data["unmatched"] = map[string]any{"path": unmatchedPath, "rows": unmatchedRows}
		}
	}

	respondData(w, http.StatusOK, data, started)
}

func (h *Handler) movieID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tmdbID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || tmdbID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "movie id must be a positive integer", err)
		return 0, false
	}
	return tmdbID, true
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no such movie in the library", nil)
	case errors.Is(err, library.ErrFieldNotEditable):
		respondError(w, http.StatusBadRequest, "FIELD_NOT_EDITABLE", err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, "STORE_FAILED", "library operation failed", err)
	}
}
