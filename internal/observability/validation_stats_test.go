package observability

import (
	"sync"
	"testing"

	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/reconcile"
)

func TestRecordRunCounters(t *testing.T) {
	stats := NewValidationStats()

	stats.RecordRun("orders", reconcile.OutcomeUnchanged, expect.StatusPass, nil)
	stats.RecordRun("orders", reconcile.OutcomeEvolved, expect.StatusPass, nil)
	stats.RecordRun("orders", reconcile.OutcomeConflict, expect.StatusFail, []expect.Result{
		{ExpectationID: "a", Status: expect.StatusError},
		{ExpectationID: "b", Status: expect.StatusPass},
	})

	ds, ok := stats.DatasetSnapshot("orders")
	if !ok {
		t.Fatal("expected stats for orders")
	}
	if ds.Runs != 3 {
		t.Errorf("Runs = %d, want 3", ds.Runs)
	}
	if ds.Passed != 2 || ds.Failed != 1 {
		t.Errorf("Passed/Failed = %d/%d, want 2/1", ds.Passed, ds.Failed)
	}
	if ds.Evolved != 1 {
		t.Errorf("Evolved = %d, want 1", ds.Evolved)
	}
	if ds.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", ds.Conflicts)
	}
	if ds.ExpectationErrors != 1 {
		t.Errorf("ExpectationErrors = %d, want 1", ds.ExpectationErrors)
	}
	if ds.LastRunAt.IsZero() {
		t.Error("LastRunAt must be set")
	}
	if ds.LastConflictAt.IsZero() {
		t.Error("LastConflictAt must be set after a conflict")
	}
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	stats := NewValidationStats()
	stats.RecordRun("zebra", reconcile.OutcomeUnchanged, expect.StatusPass, nil)
	stats.RecordRun("alpha", reconcile.OutcomeUnchanged, expect.StatusPass, nil)

	snap := stats.Snapshot()
	if len(snap) != 2 || snap[0].Dataset != "alpha" || snap[1].Dataset != "zebra" {
		t.Errorf("Snapshot = %+v, want sorted by dataset", snap)
	}

	snap[0].Runs = 999
	if ds, _ := stats.DatasetSnapshot("alpha"); ds.Runs != 1 {
		t.Error("Snapshot must return copies, not live pointers")
	}
}

func TestDatasetSnapshotUnknown(t *testing.T) {
	stats := NewValidationStats()
	if _, ok := stats.DatasetSnapshot("nope"); ok {
		t.Error("unknown dataset must report ok=false")
	}
}

func TestRecordRunConcurrent(t *testing.T) {
	stats := NewValidationStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.RecordRun("orders", reconcile.OutcomeUnchanged, expect.StatusPass, nil)
			}
		}()
	}
	wg.Wait()

	ds, _ := stats.DatasetSnapshot("orders")
	if ds.Runs != 800 {
		t.Errorf("Runs = %d, want 800", ds.Runs)
	}
}
