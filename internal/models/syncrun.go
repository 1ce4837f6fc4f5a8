// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import "time"

// RunStatus is the terminal status of a sync run.
type RunStatus string

const (
	// RunSuccess means every fetched entry was processed.
	RunSuccess RunStatus = "success"

	// RunPartial means the run was cut short (source unavailable) but
	// already-merged entries were kept.
	RunPartial RunStatus = "partial"

	// RunFailed means the run aborted without a usable result
	// (persistence failure, credential failure).
	RunFailed RunStatus = "failed"
)

// RunCounts summarizes per-entry outcomes of one reconciliation pass.
type RunCounts struct {
	Fetched   int `json:"fetched"`
	Resolved  int `json:"resolved"`
	Ambiguous int `json:"ambiguous"`
	NotFound  int `json:"not_found"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// SyncRun is the transient descriptor of one reconciliation pass. Only the
// most recent run's summary is retained, in memory, for dashboard display.
type SyncRun struct {
	ID         string     `json:"id"`
	Source     Provider   `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	Error      string     `json:"error,omitempty"`

	// Review lists for entries excluded from the merge.
	Ambiguous []ReviewItem `json:"ambiguous_entries,omitempty"`
	NotFound  []ReviewItem `json:"not_found_entries,omitempty"`
}

// ReviewItem identifies an entry excluded from the merge for manual follow-up.
type ReviewItem struct {
	Title  string `json:"title"`
	Year   *int   `json:"year,omitempty"`
	Reason string `json:"reason"`
}

// Duration returns the wall-clock duration of the run, or zero while running.
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
