// Package report assembles reconciliation outcomes and expectation results
// into the QualityReport handed to downstream consumers. A report is built
// once per run and never mutated afterwards.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/pkg/types"
)

// ReconciliationSummary captures the schema-reconciliation side of a run,
// with conflict reasons embedded verbatim so a failing batch still yields a
// complete, inspectable report.
type ReconciliationSummary struct {
	// Outcome is the reconciliation outcome kind.
	Outcome reconcile.OutcomeKind `json:"outcome"`

	// FromVersion is the schema version the batch was diffed against.
	FromVersion int `json:"from_version"`

	// ToVersion is the version the run evaluated under: the new version
	// when evolved, otherwise FromVersion.
	ToVersion int `json:"to_version"`

	// Diff is the computed evolution diff, when non-empty.
	Diff *types.EvolutionDiff `json:"diff,omitempty"`

	// Conflicts enumerates rejected changes, conflict outcomes only.
	Conflicts []reconcile.Conflict `json:"conflicts,omitempty"`
}

// QualityReport is the final structured result of one validation run.
type QualityReport struct {
	// ReportID uniquely identifies the report.
	ReportID string `json:"report_id"`

	// Dataset is the logical dataset name.
	Dataset string `json:"dataset"`

	// SchemaVersion is the schema version the expectations ran against.
	SchemaVersion int `json:"schema_version"`

	// Reconciliation summarizes the schema-reconciliation outcome.
	Reconciliation ReconciliationSummary `json:"reconciliation"`

	// Results holds one entry per configured expectation, in
	// configuration order.
	Results []expect.Result `json:"results"`

	// OverallStatus is pass iff reconciliation did not conflict and every
	// expectation passed; otherwise fail.
	OverallStatus expect.Status `json:"overall_status"`

	// GeneratedAt records when the report was built.
	GeneratedAt time.Time `json:"generated_at"`
}

// Build assembles the report for one run. A conflict outcome forces the
// overall status to fail regardless of expectation results, and any
// expectation result other than pass (fail or error alike) does the same.
func Build(dataset string, outcome reconcile.Outcome, results []expect.Result) QualityReport {
	summary := ReconciliationSummary{
		Outcome:   outcome.Kind,
		ToVersion: outcome.Schema.Version,
		Conflicts: outcome.Conflicts,
	}
	switch outcome.Kind {
	case reconcile.OutcomeEvolved:
		summary.FromVersion = outcome.Schema.Version - 1
	default:
		summary.FromVersion = outcome.Schema.Version
	}
	if !outcome.Diff.Empty() || len(outcome.Diff.Removed) > 0 {
		diff := outcome.Diff
		summary.Diff = &diff
	}

	overall := expect.StatusPass
	if outcome.Kind == reconcile.OutcomeConflict {
		overall = expect.StatusFail
	}
	for _, res := range results {
		if res.Status != expect.StatusPass {
			overall = expect.StatusFail
			break
		}
	}

	return QualityReport{
		ReportID:       uuid.New().String(),
		Dataset:        dataset,
		SchemaVersion:  outcome.Schema.Version,
		Reconciliation: summary,
		Results:        results,
		OverallStatus:  overall,
		GeneratedAt:    time.Now().UTC(),
	}
}

// Row is one line of the tabular rendering of a report.
type Row struct {
	Expectation string `json:"expectation"`
	Status      string `json:"status"`
}

// Rows renders the report as expectation/status pairs for plain-text
// display, with reconciliation surfaced as a leading row.
func (r QualityReport) Rows() []Row {
	rows := make([]Row, 0, len(r.Results)+1)

	reconStatus := "Passed"
	if r.Reconciliation.Outcome == reconcile.OutcomeConflict {
		reconStatus = "Failed"
	}
	rows = append(rows, Row{Expectation: "schema-reconciliation", Status: reconStatus})

	for _, res := range r.Results {
		status := "Failed"
		switch res.Status {
		case expect.StatusPass:
			status = "Passed"
		case expect.StatusError:
			status = "Error"
		}
		rows = append(rows, Row{Expectation: res.ExpectationID, Status: status})
	}
	return rows
}
