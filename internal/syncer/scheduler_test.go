// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/cinelog/internal/auth"
	"github.com/tomtom215/cinelog/internal/models"
	"github.com/tomtom215/cinelog/internal/source"
)

type fakeSource struct {
	name models.Provider

	pingErr      error
	watched      []models.RawEntry
	watchedErr   error
	ratings      []models.RawEntry
	ratingsErr   error
	watchlist    []models.RawEntry
	watchlistErr error

	// blockFetch, when non-nil, makes FetchWatched wait until it closes.
	blockFetch chan struct{}
}

func (f *fakeSource) Name() models.Provider      { return f.name }
func (f *fakeSource) Ping(context.Context) error { return f.pingErr }

func (f *fakeSource) FetchWatched(ctx context.Context) ([]models.RawEntry, error) {
	if f.blockFetch != nil {
		select {
		case <-f.blockFetch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.watched, f.watchedErr
}

func (f *fakeSource) FetchRatings(context.Context) ([]models.RawEntry, error) {
	return f.ratings, f.ratingsErr
}

func (f *fakeSource) FetchWatchlist(context.Context) ([]models.RawEntry, error) {
	return f.watchlist, f.watchlistErr
}

type fakeResolver struct {
	err error
	// ids assigns canonical ids by title; unlisted titles come back not_found.
	ids map[string]int64
}

func (f *fakeResolver) ResolveAll(_ context.Context, entries []models.RawEntry) ([]models.ResolvedEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.ResolvedEntry, len(entries))
	for i, e := range entries {
		if id, ok := f.ids[e.Title]; ok {
			r := e.Resolved()
			r.CanonicalTMDBID = id
			out[i] = r
		} else {
			out[i] = models.ResolvedEntry{RawEntry: e, Status: models.StatusNotFound}
		}
	}
	return out, nil
}

type fakeLibrary struct {
	mu        sync.Mutex
	snapshot  map[int64]*models.LibraryRecord
	written   []*models.LibraryRecord
	upsertErr error
}

func (f *fakeLibrary) Snapshot(context.Context) (map[int64]*models.LibraryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return map[int64]*models.LibraryRecord{}, nil
	}
	return f.snapshot, nil
}

func (f *fakeLibrary) UpsertBatch(_ context.Context, records []*models.LibraryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.written = append(f.written, records...)
	return nil
}

func watchedEntry(title string, provider models.Provider) models.RawEntry {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return models.RawEntry{Title: title, WatchedAt: &at, Source: provider}
}

func newTestScheduler(src *fakeSource, resolver *fakeResolver, lib *fakeLibrary) *Scheduler {
	return New(source.NewChain(src), resolver, lib, time.Hour)
}

func TestRunOnce_Success(t *testing.T) {
	src := &fakeSource{
		name:    models.ProviderSimkl,
		watched: []models.RawEntry{watchedEntry("The Shawshank Redemption", models.ProviderSimkl)},
	}
	resolver := &fakeResolver{ids: map[string]int64{"The Shawshank Redemption": 278}}
	lib := &fakeLibrary{}
	s := newTestScheduler(src, resolver, lib)

	s.runOnce(context.Background(), "test")

	run := s.LastRun()
	if run == nil {
		t.Fatal("no run recorded")
	}
	if run.Status != models.RunSuccess {
		t.Fatalf("status = %s, error = %s", run.Status, run.Error)
	}
	if run.Source != models.ProviderSimkl {
		t.Errorf("source = %s", run.Source)
	}
	if run.Counts.Fetched != 1 || run.Counts.Created != 1 {
		t.Errorf("counts = %+v", run.Counts)
	}
	if len(lib.written) != 1 || lib.written[0].TMDBID != 278 {
		t.Errorf("written = %v", lib.written)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle after run", s.State())
	}
	if run.FinishedAt == nil {
		t.Error("finished timestamp not set")
	}
}

func TestRunOnce_AuthFailureSuspends(t *testing.T) {
	src := &fakeSource{
		name:       models.ProviderSimkl,
		watchedErr: fmt.Errorf("token refresh: %w", auth.ErrReauthRequired),
	}
	s := newTestScheduler(src, &fakeResolver{}, &fakeLibrary{})

	s.runOnce(context.Background(), "test")

	if s.State() != StateSuspended {
		t.Fatalf("state = %s, want suspended", s.State())
	}
	run := s.LastRun()
	if run.Status != models.RunFailed {
		t.Errorf("status = %s", run.Status)
	}

	// Triggers are refused while suspended; runs are skipped.
	if s.TriggerSync() {
		t.Error("trigger accepted while suspended")
	}
	s.runOnce(context.Background(), "test")
	if second := s.LastRun(); second.ID != run.ID {
		t.Error("a run executed while suspended")
	}
}

// TestRunOnce_RevokedProviderTokenSuspends drives a real Simkl adapter: the
// stored token is still handed out as valid (Simkl tokens never expire), but
// the provider answers 401. The run must end suspended, not idle.
func TestRunOnce_RevokedProviderTokenSuspends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	policy := source.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	simkl := source.NewSimklSource(srv.URL, "client-id", revokedTokens{}, policy)
	s := New(source.NewChain(simkl), &fakeResolver{}, &fakeLibrary{}, time.Hour)

	s.runOnce(context.Background(), "test")

	if s.State() != StateSuspended {
		t.Fatalf("state after provider rejected the token = %q, want %q", s.State(), StateSuspended)
	}
	run := s.LastRun()
	if run == nil || run.Status != models.RunFailed {
		t.Fatalf("run = %+v, want failed", run)
	}
	if s.TriggerSync() {
		t.Error("trigger accepted while suspended")
	}
}

// revokedTokens hands out a token the provider no longer accepts.
type revokedTokens struct{}

func (revokedTokens) GetValidToken(context.Context) (string, error) { return "revoked", nil }

func TestResume_LeavesSuspension(t *testing.T) {
	src := &fakeSource{
		name:       models.ProviderSimkl,
		watchedErr: fmt.Errorf("token refresh: %w", auth.ErrReauthRequired),
	}
	s := newTestScheduler(src, &fakeResolver{}, &fakeLibrary{})

	s.runOnce(context.Background(), "test")
	if s.State() != StateSuspended {
		t.Fatalf("state = %s", s.State())
	}

	src.watchedErr = nil
	s.Resume()
	if s.State() != StateIdle {
		t.Fatalf("state after resume = %s, want idle", s.State())
	}

	// Resume queues a trigger so sync restarts without waiting a full interval.
	select {
	case <-s.trigger:
	default:
		t.Error("resume did not queue a sync trigger")
	}
}

func TestRunOnce_PartialWhenFeedUnavailable(t *testing.T) {
	src := &fakeSource{
		name:       models.ProviderSimkl,
		watched:    []models.RawEntry{watchedEntry("Heat", models.ProviderSimkl)},
		ratingsErr: fmt.Errorf("fetch ratings: %w", source.ErrSourceUnavailable),
	}
	resolver := &fakeResolver{ids: map[string]int64{"Heat": 949}}
	lib := &fakeLibrary{}
	s := newTestScheduler(src, resolver, lib)

	s.runOnce(context.Background(), "test")

	run := s.LastRun()
	if run.Status != models.RunPartial {
		t.Fatalf("status = %s, want partial", run.Status)
	}
	// What the watched feed returned was still merged.
	if len(lib.written) != 1 {
		t.Errorf("written = %d records, want 1", len(lib.written))
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s", s.State())
	}
}

func TestRunOnce_AllSourcesDown(t *testing.T) {
	src := &fakeSource{name: models.ProviderSimkl, pingErr: errors.New("connection refused")}
	s := newTestScheduler(src, &fakeResolver{}, &fakeLibrary{})

	s.runOnce(context.Background(), "test")

	run := s.LastRun()
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, unavailability must not suspend", s.State())
	}
}

func TestRunOnce_PersistenceFailure(t *testing.T) {
	src := &fakeSource{
		name:    models.ProviderSimkl,
		watched: []models.RawEntry{watchedEntry("Heat", models.ProviderSimkl)},
	}
	resolver := &fakeResolver{ids: map[string]int64{"Heat": 949}}
	lib := &fakeLibrary{upsertErr: errors.New("disk full")}
	s := newTestScheduler(src, resolver, lib)

	s.runOnce(context.Background(), "test")

	run := s.LastRun()
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Error == "" {
		t.Error("error not recorded")
	}
}

func TestRunOnce_ReviewListsPopulated(t *testing.T) {
	src := &fakeSource{
		name: models.ProviderSimkl,
		watched: []models.RawEntry{
			watchedEntry("Heat", models.ProviderSimkl),
			watchedEntry("Home Movie 2019", models.ProviderSimkl),
		},
	}
	resolver := &fakeResolver{ids: map[string]int64{"Heat": 949}}
	s := newTestScheduler(src, resolver, &fakeLibrary{})

	s.runOnce(context.Background(), "test")

	run := s.LastRun()
	if run.Status != models.RunSuccess {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Counts.NotFound != 1 || len(run.NotFound) != 1 {
		t.Errorf("not found = %+v", run.NotFound)
	}
	if run.NotFound[0].Title != "Home Movie 2019" {
		t.Errorf("review item = %+v", run.NotFound[0])
	}
}

func TestTriggerSync_Coalesces(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{
		name:       models.ProviderSimkl,
		blockFetch: block,
	}
	s := newTestScheduler(src, &fakeResolver{}, &fakeLibrary{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		close(block)
		if err := s.Stop(); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	if !s.TriggerSync() {
		t.Fatal("first trigger refused")
	}

	// Wait for the loop to pick the trigger up and enter the run.
	deadline := time.After(2 * time.Second)
	for s.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatal("run never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// One follow-up can queue; everything past that coalesces.
	first := s.TriggerSync()
	second := s.TriggerSync()
	if !first {
		t.Error("follow-up trigger should queue")
	}
	if second {
		t.Error("trigger should coalesce while one is already queued")
	}
}

func TestStartTwice(t *testing.T) {
	src := &fakeSource{name: models.ProviderSimkl}
	s := newTestScheduler(src, &fakeResolver{}, &fakeLibrary{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second start should fail")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}
