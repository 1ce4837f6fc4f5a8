// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeScheduler struct {
	startErr error
	stopErr  error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (f *fakeScheduler) Start(context.Context) error {
	f.started.Store(true)
	return f.startErr
}

func (f *fakeScheduler) Stop() error {
	f.stopped.Store(true)
	return f.stopErr
}

func TestSchedulerService_Lifecycle(t *testing.T) {
	scheduler := &fakeScheduler{}
	svc := NewSchedulerService(scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give Serve a moment to start before canceling.
	deadline := time.Now().Add(2 * time.Second)
	for !scheduler.started.Load() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never started")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !scheduler.stopped.Load() {
		t.Error("Stop was not called on shutdown")
	}
}

func TestSchedulerService_StartFailure(t *testing.T) {
	scheduler := &fakeScheduler{startErr: errors.New("already running")}
	svc := NewSchedulerService(scheduler)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected error from failed start")
	}
	if scheduler.stopped.Load() {
		t.Error("Stop called after failed start")
	}
}

func TestSchedulerService_String(t *testing.T) {
	if got := NewSchedulerService(&fakeScheduler{}).String(); got != "sync-scheduler" {
		t.Errorf("String() = %q", got)
	}
}
