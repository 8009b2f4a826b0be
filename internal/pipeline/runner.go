// Package pipeline orchestrates one validation run end to end: reconcile
// the observed schema, evaluate the dataset's expectations against the
// batch statistics, build the quality report, and archive the artifacts.
// A Runner holds no per-run state, so any number of batches may run in
// parallel; the registry serializes schema evolution per dataset.
package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/driftgate/driftgate/internal/archive"
	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/observability"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/internal/report"
	"github.com/driftgate/driftgate/internal/ruleset"
	"github.com/driftgate/driftgate/pkg/types"
)

// Runner wires the reconciler, expectation engine, rule store, archiver,
// and stats tracker into one validation pipeline.
type Runner struct {
	reconciler *reconcile.Reconciler
	engine     *expect.Engine
	rules      *ruleset.Store
	archiver   *archive.Archiver // nil disables archival
	stats      *observability.ValidationStats
}

// NewRunner creates a pipeline runner. The archiver may be nil when
// archival is disabled; stats may be nil when counters are not wanted.
func NewRunner(rec *reconcile.Reconciler, engine *expect.Engine, rules *ruleset.Store, arch *archive.Archiver, stats *observability.ValidationStats) *Runner {
	return &Runner{
		reconciler: rec,
		engine:     engine,
		rules:      rules,
		archiver:   arch,
		stats:      stats,
	}
}

// Run validates one batch. Registry errors (NOT_FOUND in particular)
// propagate as error values; reconciliation conflicts do not — they are
// data in the report, and expectations still evaluate against the
// last-known-good schema so a failing batch yields a complete report.
func (r *Runner) Run(ctx context.Context, dataset string, observed types.Schema, stats types.BatchStats) (report.QualityReport, error) {
	outcome, err := r.reconciler.Reconcile(ctx, dataset, observed)
	if err != nil {
		return report.QualityReport{}, err
	}

	exps := r.rules.RulesFor(dataset)
	results := r.engine.Evaluate(expect.Input{Schema: outcome.Schema, Stats: stats}, exps)

	rep := report.Build(dataset, outcome, results)

	r.archiveArtifacts(ctx, rep, outcome)
	if r.stats != nil {
		r.stats.RecordRun(dataset, outcome.Kind, rep.OverallStatus, results)
	}
	return rep, nil
}

// archiveArtifacts persists the report (and the migration record, when the
// run evolved the schema) on a best-effort basis.
func (r *Runner) archiveArtifacts(ctx context.Context, rep report.QualityReport, outcome reconcile.Outcome) {
	if r.archiver == nil {
		return
	}
	if _, err := r.archiver.ArchiveReport(ctx, rep); err != nil {
		log.Printf("[WARN] pipeline: failed to archive report %s for %s: %v", rep.ReportID, rep.Dataset, err)
	}
	if outcome.Kind == reconcile.OutcomeEvolved && outcome.Migration != nil {
		if _, err := r.archiver.ArchiveMigration(ctx, *outcome.Migration); err != nil {
			log.Printf("[WARN] pipeline: failed to archive migration v%d for %s: %v",
				outcome.Migration.ToVersion, rep.Dataset, err)
		}
	}
}

// Batch is one unit of work for RunAll.
type Batch struct {
	Dataset  string
	Observed types.Schema
	Stats    types.BatchStats
}

// RunResult pairs a batch's report with its error, in input order.
type RunResult struct {
	Report report.QualityReport
	Err    error
}

// RunAll validates batches with a bounded worker pool, e.g. the parallel
// partitions of one logical run. Results are returned in input order.
func (r *Runner) RunAll(ctx context.Context, batches []Batch, workers int) []RunResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	results := make([]RunResult, len(batches))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rep, err := r.Run(ctx, batches[idx].Dataset, batches[idx].Observed, batches[idx].Stats)
				results[idx] = RunResult{Report: rep, Err: err}
			}
		}()
	}

	for i := range batches {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
