package report

import (
	"encoding/json"
	"testing"

	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/pkg/types"
)

func unchangedOutcome() reconcile.Outcome {
	return reconcile.Outcome{
		Kind: reconcile.OutcomeUnchanged,
		Schema: types.Schema{
			Dataset: "orders",
			Version: 3,
			Fields:  []types.Field{{Name: "id", Type: types.Integer()}},
		},
	}
}

func TestBuildAllPass(t *testing.T) {
	results := []expect.Result{
		{ExpectationID: "a", Status: expect.StatusPass},
		{ExpectationID: "b", Status: expect.StatusPass},
	}

	rep := Build("orders", unchangedOutcome(), results)

	if rep.OverallStatus != expect.StatusPass {
		t.Errorf("overall = %s, want pass", rep.OverallStatus)
	}
	if rep.ReportID == "" {
		t.Error("report must carry an ID")
	}
	if rep.SchemaVersion != 3 {
		t.Errorf("schema version = %d, want 3", rep.SchemaVersion)
	}
	if rep.Reconciliation.FromVersion != 3 || rep.Reconciliation.ToVersion != 3 {
		t.Errorf("reconciliation versions = %d->%d, want 3->3",
			rep.Reconciliation.FromVersion, rep.Reconciliation.ToVersion)
	}
	if rep.GeneratedAt.IsZero() {
		t.Error("report must carry a generation timestamp")
	}
}

func TestBuildFailingExpectationFailsOverall(t *testing.T) {
	results := []expect.Result{
		{ExpectationID: "a", Status: expect.StatusPass},
		{ExpectationID: "b", Status: expect.StatusFail},
	}
	rep := Build("orders", unchangedOutcome(), results)
	if rep.OverallStatus != expect.StatusFail {
		t.Errorf("overall = %s, want fail", rep.OverallStatus)
	}
}

func TestBuildErrorResultFailsOverall(t *testing.T) {
	results := []expect.Result{
		{ExpectationID: "a", Status: expect.StatusError},
	}
	rep := Build("orders", unchangedOutcome(), results)
	if rep.OverallStatus != expect.StatusFail {
		t.Errorf("overall = %s, an error result must fail the run", rep.OverallStatus)
	}
}

func TestBuildConflictFailsOverall(t *testing.T) {
	outcome := unchangedOutcome()
	outcome.Kind = reconcile.OutcomeConflict
	outcome.Conflicts = []reconcile.Conflict{
		{Code: reconcile.ConflictUnsafeTypeChange, Field: "amount", Detail: "narrowed"},
	}

	rep := Build("orders", outcome, []expect.Result{
		{ExpectationID: "a", Status: expect.StatusPass},
	})

	if rep.OverallStatus != expect.StatusFail {
		t.Errorf("overall = %s, a conflict must fail the run", rep.OverallStatus)
	}
	if len(rep.Reconciliation.Conflicts) != 1 {
		t.Error("conflict reasons must be embedded in the report")
	}
}

func TestBuildEvolvedVersions(t *testing.T) {
	outcome := unchangedOutcome()
	outcome.Kind = reconcile.OutcomeEvolved
	outcome.Schema.Version = 4
	outcome.Diff = types.EvolutionDiff{
		Added: []types.Field{{Name: "note", Type: types.Str(), Nullable: true}},
	}

	rep := Build("orders", outcome, nil)

	if rep.Reconciliation.FromVersion != 3 || rep.Reconciliation.ToVersion != 4 {
		t.Errorf("reconciliation versions = %d->%d, want 3->4",
			rep.Reconciliation.FromVersion, rep.Reconciliation.ToVersion)
	}
	if rep.Reconciliation.Diff == nil {
		t.Error("a material diff must be embedded in the report")
	}
	if rep.OverallStatus != expect.StatusPass {
		t.Errorf("overall = %s, an evolution with no expectations must pass", rep.OverallStatus)
	}
}

func TestReportJSONRoundTripPreservesOrder(t *testing.T) {
	results := []expect.Result{
		{ExpectationID: "z-last-configured-first", Status: expect.StatusPass},
		{ExpectationID: "a-first-configured-last", Status: expect.StatusFail, Message: "too few rows"},
		{ExpectationID: "m-middle", Status: expect.StatusError, Message: "no stats"},
	}
	rep := Build("orders", unchangedOutcome(), results)

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded QualityReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.ReportID != rep.ReportID || decoded.OverallStatus != rep.OverallStatus {
		t.Error("round trip must preserve identity and status")
	}
	if len(decoded.Results) != len(results) {
		t.Fatalf("decoded results = %d, want %d", len(decoded.Results), len(results))
	}
	for i := range results {
		if decoded.Results[i].ExpectationID != results[i].ExpectationID {
			t.Errorf("results[%d] = %s, want %s (configuration order)",
				i, decoded.Results[i].ExpectationID, results[i].ExpectationID)
		}
	}
}

func TestRows(t *testing.T) {
	results := []expect.Result{
		{ExpectationID: "ok", Status: expect.StatusPass},
		{ExpectationID: "bad", Status: expect.StatusFail},
		{ExpectationID: "broken", Status: expect.StatusError},
	}
	rep := Build("orders", unchangedOutcome(), results)

	rows := rep.Rows()
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4 (reconciliation + 3 results)", len(rows))
	}
	if rows[0].Expectation != "schema-reconciliation" || rows[0].Status != "Passed" {
		t.Errorf("leading row = %+v, want schema-reconciliation Passed", rows[0])
	}
	want := []string{"Passed", "Failed", "Error"}
	for i, status := range want {
		if rows[i+1].Status != status {
			t.Errorf("rows[%d].Status = %s, want %s", i+1, rows[i+1].Status, status)
		}
	}
}

func TestRowsConflictRow(t *testing.T) {
	outcome := unchangedOutcome()
	outcome.Kind = reconcile.OutcomeConflict

	rows := Build("orders", outcome, nil).Rows()
	if rows[0].Status != "Failed" {
		t.Errorf("reconciliation row status = %s, want Failed", rows[0].Status)
	}
}
