// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package services adapts Cinelog's Start/Stop components to suture's
// Serve(ctx) contract.
package services

import (
	"context"
	"fmt"
)

// StartStopper is the lifecycle shared by the sync scheduler and any other
// component that spawns its own goroutines behind Start and joins them in
// Stop.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService runs a StartStopper under supervision: Start on entry,
// block until the context ends, Stop on the way out.
type SchedulerService struct {
	scheduler StartStopper
	name      string
}

// NewSchedulerService wraps the sync scheduler for the supervisor tree.
func NewSchedulerService(scheduler StartStopper) *SchedulerService {
	return &SchedulerService{scheduler: scheduler, name: "sync-scheduler"}
}

// Serve implements suture.Service. A Start failure is returned immediately
// so suture applies its restart backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	<-ctx.Done()

	// Stop blocks until the scheduler's run loop has exited.
	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *SchedulerService) String() string {
	return s.name
}
