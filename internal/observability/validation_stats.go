// Package observability provides per-dataset validation run counters for
// monitoring drift and quality trends.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/reconcile"
)

// ValidationStats tracks validation run counters per dataset.
type ValidationStats struct {
	mu       sync.RWMutex
	datasets map[string]*DatasetStats
}

// DatasetStats holds counters for one dataset.
type DatasetStats struct {
	Dataset           string
	Runs              int64
	Passed            int64
	Failed            int64
	Evolved           int64
	Conflicts         int64
	ExpectationErrors int64
	LastRunAt         time.Time
	LastConflictAt    time.Time
}

// NewValidationStats creates a new validation statistics tracker.
func NewValidationStats() *ValidationStats {
	return &ValidationStats{
		datasets: make(map[string]*DatasetStats),
	}
}

// RecordRun records the outcome of one validation run.
// This method is O(1) and thread-safe.
func (v *ValidationStats) RecordRun(dataset string, outcome reconcile.OutcomeKind, overall expect.Status, results []expect.Result) {
	v.mu.Lock()
	defer v.mu.Unlock()

	stats, exists := v.datasets[dataset]
	if !exists {
		stats = &DatasetStats{Dataset: dataset}
		v.datasets[dataset] = stats
	}

	now := time.Now()
	stats.Runs++
	stats.LastRunAt = now

	if overall == expect.StatusPass {
		stats.Passed++
	} else {
		stats.Failed++
	}

	switch outcome {
	case reconcile.OutcomeEvolved:
		stats.Evolved++
	case reconcile.OutcomeConflict:
		stats.Conflicts++
		stats.LastConflictAt = now
	}

	for _, res := range results {
		if res.Status == expect.StatusError {
			stats.ExpectationErrors++
		}
	}
}

// Snapshot returns a copy of all dataset stats sorted by dataset name.
func (v *ValidationStats) Snapshot() []DatasetStats {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]DatasetStats, 0, len(v.datasets))
	for _, s := range v.datasets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Dataset < out[j].Dataset
	})
	return out
}

// DatasetSnapshot returns a copy of one dataset's stats.
func (v *ValidationStats) DatasetSnapshot(dataset string) (DatasetStats, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	stats, exists := v.datasets[dataset]
	if !exists {
		return DatasetStats{}, false
	}
	return *stats, true
}
