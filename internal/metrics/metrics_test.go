// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSyncRun(t *testing.T) {
	before := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("simkl", "success"))

	RecordSyncRun("simkl", "success", 12*time.Second)

	after := testutil.ToFloat64(SyncRunsTotal.WithLabelValues("simkl", "success"))
	if after != before+1 {
		t.Errorf("sync_runs_total = %v, want %v", after, before+1)
	}

	if ts := testutil.ToFloat64(SyncLastSuccess); ts == 0 {
		t.Error("sync_last_success_timestamp not set on success")
	}
}

func TestRecordSyncRunFailureDoesNotTouchLastSuccess(t *testing.T) {
	SyncLastSuccess.Set(0)

	RecordSyncRun("simkl", "failed", time.Second)

	if ts := testutil.ToFloat64(SyncLastSuccess); ts != 0 {
		t.Errorf("sync_last_success_timestamp = %v, want 0 after failed run", ts)
	}
}

func TestRecordResolution(t *testing.T) {
	before := testutil.ToFloat64(ResolutionsTotal.WithLabelValues("resolved", "imdb_id"))

	RecordResolution("resolved", "imdb_id", 5*time.Millisecond)

	after := testutil.ToFloat64(ResolutionsTotal.WithLabelValues("resolved", "imdb_id"))
	if after != before+1 {
		t.Errorf("resolutions_total = %v, want %v", after, before+1)
	}
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantErrs  float64
	}{
		{name: "successful query", operation: "upsert", err: nil, wantErrs: 0},
		{name: "failed query", operation: "list", err: errors.New("constraint violation"), wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.operation))

			RecordDBQuery(tt.operation, 3*time.Millisecond, tt.err)

			after := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.operation))
			if after-before != tt.wantErrs {
				t.Errorf("duckdb_query_errors_total delta = %v, want %v", after-before, tt.wantErrs)
			}
		})
	}
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)

	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+1 {
		t.Errorf("api_active_requests = %v, want %v", got, base+1)
	}

	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("api_active_requests = %v, want %v", got, base)
	}
}
