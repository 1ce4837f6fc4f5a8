// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cinelog/internal/config"
	"github.com/tomtom215/cinelog/internal/metrics"
)

// NewRouter assembles the dashboard HTTP surface.
func NewRouter(handler *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	rateLimit := httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(requestMetrics)

		r.Get("/health", handler.Health)
		r.Get("/stats", handler.Stats)

		r.Route("/movies", func(r chi.Router) {
			r.Get("/", handler.Movies)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.Movie)
				r.Patch("/", handler.UpdateMovie)
				r.Delete("/", handler.DeleteMovie)
				r.Delete("/edits", handler.ClearMovieEdits)
			})
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", handler.SyncStatus)
			r.Post("/trigger", handler.TriggerSync)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", handler.AuthStatus)
			r.Post("/start", handler.StartAuth)
			r.Post("/deauthorize", handler.Deauthorize)
		})

		r.Post("/export", handler.Export)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records per-request counters and latency, labeled by the
// chi route pattern rather than the raw path to keep cardinality bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(started))
	})
}
