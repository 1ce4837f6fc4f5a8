// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package syncer orchestrates the sync pipeline: select a source, fetch the
// three feeds, resolve identifiers, merge into the library. A scheduler runs
// the pipeline periodically and on demand, with at most one run in flight.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
	"github.com/tomtom215/cinelog/internal/source"
)

// State is the scheduler's lifecycle state.
type State string

const (
	// StateIdle means the scheduler is waiting for the next tick or trigger.
	StateIdle State = "idle"

	// StateRunning means a sync run is in flight. Triggers arriving now are
	// coalesced into at most one follow-up run.
	StateRunning State = "running"

	// StateSuspended means runs are skipped until re-authorization. Entered
	// when a source rejects our credentials; left via Resume.
	StateSuspended State = "suspended"
)

var stateGaugeValues = map[State]float64{
	StateIdle:      0,
	StateRunning:   1,
	StateSuspended: 2,
}

// Resolver turns raw entries into canonically identified ones.
type Resolver interface {
	ResolveAll(ctx context.Context, entries []models.RawEntry) ([]models.ResolvedEntry, error)
}

// Library is the subset of the library store the pipeline needs.
type Library interface {
	Snapshot(ctx context.Context) (map[int64]*models.LibraryRecord, error)
	UpsertBatch(ctx context.Context, records []*models.LibraryRecord) error
}

// Scheduler runs the sync pipeline on an interval and on manual triggers.
type Scheduler struct {
	sources  *source.Chain
	resolver Resolver
	library  Library
	interval time.Duration

	mu       sync.RWMutex
	state    State
	lastRun  *models.SyncRun
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// trigger carries manual sync requests. Capacity 1: a request arriving
	// while one is already queued is coalesced, not queued again.
	trigger chan struct{}
}

// New creates a scheduler. It does not start until Start is called.
func New(sources *source.Chain, resolver Resolver, library Library, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	s := &Scheduler{
		sources:  sources,
		resolver: resolver,
		library:  library,
		interval: interval,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
	metrics.SchedulerState.Set(stateGaugeValues[StateIdle])
	return s
}

// Start launches the scheduler loop. ctx cancellation stops it, as does Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info().Dur("interval", s.interval).Msg("Sync scheduler started")
	return nil
}

// Stop shuts the loop down and waits for any in-flight run to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("Sync scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce(ctx, "interval")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

// TriggerSync requests a run as soon as possible. Returns false when the
// request was coalesced into an already pending one, or when suspended.
func (s *Scheduler) TriggerSync() bool {
	if s.State() == StateSuspended {
		logging.Warn().Msg("Sync trigger ignored, scheduler suspended pending re-authorization")
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		metrics.SyncTriggersCoalesced.Inc()
		logging.Debug().Msg("Sync trigger coalesced into pending run")
		return false
	}
}

// Resume leaves the suspended state and immediately requests a run. Intended
// to be wired to the auth manager's authorization hook.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StateSuspended {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	logging.Info().Msg("Scheduler resumed after re-authorization")
	s.TriggerSync()
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastRun returns the most recent run summary, or nil before the first run.
func (s *Scheduler) LastRun() *models.SyncRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.state == StateSuspended {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateRunning)
	s.mu.Unlock()

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logging.Info().Str("run_id", run.ID).Str("reason", reason).Msg("Sync run starting")

	suspend := s.execute(ctx, run)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	metrics.RecordSyncRun(string(run.Source), string(run.Status), run.Duration())

	s.mu.Lock()
	s.lastRun = run
	if suspend {
		s.setStateLocked(StateSuspended)
	} else {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()

	logging.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Dur("duration", run.Duration()).
		Int("fetched", run.Counts.Fetched).
		Int("created", run.Counts.Created).
		Int("updated", run.Counts.Updated).
		Int("ambiguous", run.Counts.Ambiguous).
		Int("not_found", run.Counts.NotFound).
		Msg("Sync run finished")
}

// setStateLocked transitions state; callers hold s.mu.
func (s *Scheduler) setStateLocked(state State) {
	s.state = state
	metrics.SchedulerState.Set(stateGaugeValues[state])
}
