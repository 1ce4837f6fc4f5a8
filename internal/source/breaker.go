// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// BreakerSource wraps a Source with a circuit breaker so a failing provider
// is given time to recover instead of being hammered every sync run.
//
// The breaker uses real time for its interval and timeout calculations; the
// timing governs recovery, not data integrity. Tests should exercise the
// wrapped source directly.
type BreakerSource struct {
	inner Source
	cb    *gobreaker.CircuitBreaker[[]models.RawEntry]
	name  string
}

// WithBreaker wraps a source with circuit breaker protection.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 5 requests
func WithBreaker(inner Source) *BreakerSource {
	cbName := string(inner.Name()) + "-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[[]models.RawEntry](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().
					Str("source", cbName).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerSource{inner: inner, cb: cb, name: cbName}
}

func (b *BreakerSource) Name() models.Provider {
	return b.inner.Name()
}

func (b *BreakerSource) Ping(ctx context.Context) error {
	_, err := b.execute("ping", func() ([]models.RawEntry, error) {
		return nil, b.inner.Ping(ctx)
	})
	return err
}

func (b *BreakerSource) FetchWatched(ctx context.Context) ([]models.RawEntry, error) {
	return b.execute("fetch_watched", func() ([]models.RawEntry, error) {
		return b.inner.FetchWatched(ctx)
	})
}

func (b *BreakerSource) FetchRatings(ctx context.Context) ([]models.RawEntry, error) {
	return b.execute("fetch_ratings", func() ([]models.RawEntry, error) {
		return b.inner.FetchRatings(ctx)
	})
}

func (b *BreakerSource) FetchWatchlist(ctx context.Context) ([]models.RawEntry, error) {
	return b.execute("fetch_watchlist", func() ([]models.RawEntry, error) {
		return b.inner.FetchWatchlist(ctx)
	})
}

// execute runs one source call through the breaker and records metrics.
// A rejected call (open breaker) surfaces as ErrSourceUnavailable.
func (b *BreakerSource) execute(operation string, fn func() ([]models.RawEntry, error)) ([]models.RawEntry, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SourceRequestsTotal.WithLabelValues(string(b.inner.Name()), operation, "rejected").Inc()
			logging.Warn().Err(err).Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err.Error())
		}
		metrics.SourceRequestsTotal.WithLabelValues(string(b.inner.Name()), operation, "failure").Inc()
		return nil, err
	}

	metrics.SourceRequestsTotal.WithLabelValues(string(b.inner.Name()), operation, "success").Inc()
	return result, nil
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
