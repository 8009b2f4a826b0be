package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	apihttp "github.com/driftgate/driftgate/internal/api/http"
	"github.com/driftgate/driftgate/internal/archive"
	"github.com/driftgate/driftgate/internal/expect"
	"github.com/driftgate/driftgate/internal/observability"
	"github.com/driftgate/driftgate/internal/pipeline"
	"github.com/driftgate/driftgate/internal/reconcile"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/internal/report"
	"github.com/driftgate/driftgate/internal/ruleset"
	"github.com/driftgate/driftgate/internal/storage"
	"github.com/driftgate/driftgate/pkg/types"
)

// TestMain loads an optional .env so the postgres-backed test can pick up
// DRIFTGATE_TEST_PG_DSN without exporting it by hand.
func TestMain(m *testing.M) {
	_ = godotenv.Load()
	os.Exit(m.Run())
}

const rulesYAML = `rulesets:
  - dataset: orders
    expectations:
      - id: enough-rows
        kind: row_count
        params:
          min: 10
      - id: id-present
        kind: column_exists
        column: id
`

// env is one fully wired service instance over real components: a sqlite
// registry, a rule-set file on disk, a local archive, and the HTTP API
// served through the full middleware chain.
type env struct {
	server   *httptest.Server
	registry registry.Registry
	archiver *archive.Archiver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte(rulesYAML), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	rules, err := ruleset.Open(rulesPath)
	if err != nil {
		t.Fatalf("open rules: %v", err)
	}

	reg, err := registry.NewSQLiteRegistry(filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("open sqlite registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	store, err := storage.NewLocalStorage(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("open local storage: %v", err)
	}
	arch := archive.New(store, true)

	stats := observability.NewValidationStats()
	runner := pipeline.NewRunner(
		reconcile.New(reg, reconcile.DefaultPolicy()),
		expect.NewEngine(),
		rules,
		arch,
		stats,
	)

	wrap := apihttp.DefaultMiddleware()
	mux := http.NewServeMux()
	mux.Handle("/v1/validate", wrap(apihttp.NewValidateHandler(runner)))
	mux.Handle("/v1/datasets", wrap(apihttp.NewDatasetsHandler(reg)))
	mux.Handle("/v1/history", wrap(apihttp.NewHistoryHandler(reg)))
	mux.Handle("/v1/migrations", wrap(apihttp.NewMigrationsHandler(reg)))
	mux.Handle("/v1/stats", wrap(apihttp.NewStatsHandler(stats)))
	mux.Handle("/health", apihttp.NewHealthHandler("sqlite"))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &env{server: server, registry: reg, archiver: arch}
}

func (e *env) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s body: %v", path, err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read %s response: %v", path, err)
	}
	return resp, buf.Bytes()
}

func (e *env) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read %s response: %v", path, err)
	}
	return resp, buf.Bytes()
}

func ordersSchema() types.Schema {
	return types.Schema{
		Fields: []types.Field{
			{Name: "id", Type: types.Integer()},
			{Name: "amount", Type: types.Decimal(10, 2), Nullable: true},
			{Name: "status", Type: types.Str(), Nullable: true},
		},
	}
}

func passingStats() types.BatchStats {
	return types.BatchStats{
		RowCount:    250,
		ColumnOrder: []string{"id", "amount", "status"},
	}
}

func TestValidationLifecycle(t *testing.T) {
	e := newEnv(t)

	// Register the dataset's first schema version.
	resp, body := e.post(t, "/v1/datasets", apihttp.RegisterRequest{
		Dataset: "orders",
		Schema:  ordersSchema(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d: %s", resp.StatusCode, body)
	}

	// An identical batch validates as unchanged and passes.
	resp, body = e.post(t, "/v1/validate", apihttp.ValidateRequest{
		Dataset:        "orders",
		ObservedSchema: ordersSchema(),
		BatchStats:     passingStats(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d: %s", resp.StatusCode, body)
	}
	var rep report.QualityReport
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Reconciliation.Outcome != reconcile.OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", rep.Reconciliation.Outcome)
	}
	if rep.OverallStatus != expect.StatusPass {
		t.Errorf("overall = %s, want pass: %s", rep.OverallStatus, body)
	}
	if rep.SchemaVersion != 1 {
		t.Errorf("schema version = %d, want 1", rep.SchemaVersion)
	}

	// A batch with a safe widening and a new nullable column evolves the
	// schema to version 2.
	evolved := ordersSchema()
	evolved.Fields[1].Type = types.Str()
	evolved.Fields = append(evolved.Fields, types.Field{
		Name: "region", Type: types.Str(), Nullable: true,
	})
	resp, body = e.post(t, "/v1/validate", apihttp.ValidateRequest{
		Dataset:        "orders",
		ObservedSchema: evolved,
		BatchStats:     passingStats(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Reconciliation.Outcome != reconcile.OutcomeEvolved {
		t.Fatalf("outcome = %s, want evolved: %s", rep.Reconciliation.Outcome, body)
	}
	if rep.SchemaVersion != 2 {
		t.Errorf("schema version = %d, want 2", rep.SchemaVersion)
	}

	// A batch that narrows a column conflicts; the head stays at 2 and the
	// expectations still ran against the last good schema.
	conflicting := ordersSchema()
	conflicting.Fields[0].Type = types.Boolean()
	resp, body = e.post(t, "/v1/validate", apihttp.ValidateRequest{
		Dataset:        "orders",
		ObservedSchema: conflicting,
		BatchStats:     passingStats(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Reconciliation.Outcome != reconcile.OutcomeConflict {
		t.Fatalf("outcome = %s, want conflict: %s", rep.Reconciliation.Outcome, body)
	}
	if rep.OverallStatus != expect.StatusFail {
		t.Errorf("overall = %s, want fail", rep.OverallStatus)
	}
	if len(rep.Results) != 2 {
		t.Errorf("results = %d, expectations must run despite the conflict", len(rep.Results))
	}

	// History shows both versions, in order.
	resp, body = e.get(t, "/v1/history?dataset=orders")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d: %s", resp.StatusCode, body)
	}
	var history struct {
		Versions []types.Schema `json:"versions"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Versions) != 2 {
		t.Fatalf("history versions = %d, want 2", len(history.Versions))
	}
	head := history.Versions[1]
	if f, ok := head.FieldByName("amount", types.DefaultCompare()); !ok || f.Type.Kind != types.KindString {
		t.Errorf("head amount type = %+v, want the widened STRING", f)
	}
	if _, ok := head.FieldByName("region", types.DefaultCompare()); !ok {
		t.Error("head must carry the added region column")
	}

	// The migration log records the evolution.
	resp, body = e.get(t, "/v1/migrations?dataset=orders")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("migrations status = %d: %s", resp.StatusCode, body)
	}
	var migrations struct {
		Migrations []types.MigrationRecord `json:"migrations"`
	}
	if err := json.Unmarshal(body, &migrations); err != nil {
		t.Fatalf("decode migrations: %v", err)
	}
	if len(migrations.Migrations) != 1 {
		t.Fatalf("migrations = %d, want 1", len(migrations.Migrations))
	}
	if migrations.Migrations[0].FromVersion != 1 || migrations.Migrations[0].ToVersion != 2 {
		t.Errorf("migration = %d->%d, want 1->2",
			migrations.Migrations[0].FromVersion, migrations.Migrations[0].ToVersion)
	}

	// Stats counted all three runs and the one conflict.
	resp, body = e.get(t, "/v1/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d: %s", resp.StatusCode, body)
	}
	var stats struct {
		Datasets []observability.DatasetStats `json:"datasets"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats.Datasets) != 1 {
		t.Fatalf("stats datasets = %d, want 1", len(stats.Datasets))
	}
	ds := stats.Datasets[0]
	if ds.Runs != 3 || ds.Evolved != 1 || ds.Conflicts != 1 {
		t.Errorf("stats = %+v, want 3 runs, 1 evolved, 1 conflict", ds)
	}

	// Every run archived its report.
	paths, err := e.archiver.ListReports(context.Background(), "orders")
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(paths) != 3 {
		t.Errorf("archived reports = %d, want 3", len(paths))
	}
}

func TestValidateUnregisteredDataset(t *testing.T) {
	e := newEnv(t)

	resp, body := e.post(t, "/v1/validate", apihttp.ValidateRequest{
		Dataset:        "never-registered",
		ObservedSchema: ordersSchema(),
		BatchStats:     passingStats(),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", resp.StatusCode, body)
	}
	var errResp apihttp.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "NOT_FOUND" {
		t.Errorf("error code = %q, want NOT_FOUND", errResp.Code)
	}
	if errResp.RequestID == "" {
		t.Error("error response must carry a request ID")
	}
}

func TestRegistryStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "registry.db")
	ctx := context.Background()

	reg, err := registry.NewSQLiteRegistry(dbPath)
	if err != nil {
		t.Fatalf("open sqlite registry: %v", err)
	}
	if _, err := reg.Register(ctx, "orders", ordersSchema()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := reconcile.New(reg, reconcile.DefaultPolicy())
	evolved := ordersSchema()
	evolved.Fields = append(evolved.Fields, types.Field{
		Name: "region", Type: types.Str(), Nullable: true,
	})
	outcome, err := rec.Reconcile(ctx, "orders", evolved)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.Kind != reconcile.OutcomeEvolved {
		t.Fatalf("outcome = %s, want evolved", outcome.Kind)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := registry.NewSQLiteRegistry(dbPath)
	if err != nil {
		t.Fatalf("reopen sqlite registry: %v", err)
	}
	defer reopened.Close()

	cur, err := reopened.GetCurrent(ctx, "orders")
	if err != nil {
		t.Fatalf("GetCurrent after reopen: %v", err)
	}
	if cur.Version != 2 {
		t.Errorf("head after reopen = v%d, want v2", cur.Version)
	}
	migrations, err := reopened.Migrations(ctx, "orders")
	if err != nil {
		t.Fatalf("Migrations after reopen: %v", err)
	}
	if len(migrations) != 1 {
		t.Errorf("migrations after reopen = %d, want 1", len(migrations))
	}
}

// TestPostgresRegistry exercises the postgres backend against a real server
// when DRIFTGATE_TEST_PG_DSN is set, and is skipped otherwise.
func TestPostgresRegistry(t *testing.T) {
	dsn := os.Getenv("DRIFTGATE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DRIFTGATE_TEST_PG_DSN not set")
	}

	reg, err := registry.NewPostgresRegistry(dsn)
	if err != nil {
		t.Fatalf("open postgres registry: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	dataset := fmt.Sprintf("it-orders-%d", os.Getpid())
	if _, err := reg.Register(ctx, dataset, ordersSchema()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cur, err := reg.GetCurrent(ctx, dataset)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if cur.Version != 1 {
		t.Errorf("head = v%d, want v1", cur.Version)
	}
}
