package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/pkg/types"
)

// Postgres DDL mirrors the SQLite tables with native timestamp columns.
var postgresSchemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS schema_versions (
		dataset TEXT NOT NULL,
		version INTEGER NOT NULL,
		fields_json TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (dataset, version)
	)`,
	`CREATE TABLE IF NOT EXISTS migration_log (
		dataset TEXT NOT NULL,
		to_version INTEGER NOT NULL,
		from_version INTEGER NOT NULL,
		diff_json TEXT NOT NULL,
		decided_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (dataset, to_version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schema_versions_dataset ON schema_versions(dataset)`,
}

// PostgresRegistry implements Registry on PostgreSQL for shared
// deployments. Appends take a row-level lock on the dataset's head version
// via SELECT ... FOR UPDATE, so mutual exclusion is per dataset rather than
// per process; the composite primary key backstops any remaining race.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry connects to the given DSN and ensures the registry
// tables exist.
func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, stmt := range postgresSchemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: failed to initialize postgres schema: %w", err)
		}
	}
	return &PostgresRegistry{db: db}, nil
}

// GetCurrent returns the head schema version for a dataset.
func (r *PostgresRegistry) GetCurrent(ctx context.Context, dataset string) (types.Schema, error) {
	var version int
	var fieldsJSON string
	var createdAt time.Time

	err := r.db.QueryRowContext(ctx,
		`SELECT version, fields_json, created_at FROM schema_versions
		 WHERE dataset = $1 ORDER BY version DESC LIMIT 1`,
		dataset,
	).Scan(&version, &fieldsJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Schema{}, dgerrors.NewNotFound(dataset)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to get current schema for %q: %w", dataset, err)
	}

	return decodePostgresRow(dataset, version, fieldsJSON, createdAt)
}

// Register stores the first schema version for a dataset.
func (r *PostgresRegistry) Register(ctx context.Context, dataset string, schema types.Schema) (types.Schema, error) {
	if err := validateFirst(dataset, schema); err != nil {
		return types.Schema{}, err
	}

	stored := schema.Clone()
	stored.Dataset = dataset
	stored.Version = 1
	stored.Fields = types.WithOrdinals(stored.Fields)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(stored.Fields)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to marshal fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schema_versions (dataset, version, fields_json, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dataset, stored.Version, string(fieldsJSON), stored.Fingerprint().String(), stored.CreatedAt,
	)
	if err != nil {
		if isPGUniqueViolation(err) {
			return types.Schema{}, dgerrors.NewAlreadyExists(dataset)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to insert version 1: %w", err)
	}
	return stored, nil
}

// AppendVersion atomically appends a new schema version and its migration
// record inside one transaction holding the head row lock.
func (r *PostgresRegistry) AppendVersion(ctx context.Context, dataset string, next types.Schema, rec types.MigrationRecord) (types.Schema, error) {
	if err := validateAppend(dataset, next, rec); err != nil {
		return types.Schema{}, err
	}

	stored := next.Clone()
	stored.Dataset = dataset
	stored.Fields = types.WithOrdinals(stored.Fields)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	rec.Dataset = dataset
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = stored.CreatedAt
	}

	fieldsJSON, err := json.Marshal(stored.Fields)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to marshal fields: %w", err)
	}
	diffJSON, err := json.Marshal(rec.Diff)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to marshal diff: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the head row so concurrent appends for this dataset serialize
	// here; other datasets are unaffected.
	var head int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM schema_versions WHERE dataset = $1
		 ORDER BY version DESC LIMIT 1 FOR UPDATE`,
		dataset,
	).Scan(&head)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Schema{}, dgerrors.NewNotFound(dataset)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to lock head version: %w", err)
	}
	if stored.Version != head+1 {
		return types.Schema{}, dgerrors.NewVersionConflict(dataset, stored.Version, head)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_versions (dataset, version, fields_json, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dataset, stored.Version, string(fieldsJSON), stored.Fingerprint().String(), stored.CreatedAt,
	)
	if err != nil {
		if isPGUniqueViolation(err) {
			return types.Schema{}, dgerrors.NewVersionConflict(dataset, stored.Version, head)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to insert version %d: %w", stored.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO migration_log (dataset, to_version, from_version, diff_json, decided_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		dataset, rec.ToVersion, rec.FromVersion, string(diffJSON), rec.DecidedAt,
	)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to insert migration record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to commit version %d: %w", stored.Version, err)
	}
	return stored, nil
}

// History returns all schema versions for a dataset, ascending.
func (r *PostgresRegistry) History(ctx context.Context, dataset string) ([]types.Schema, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT version, fields_json, created_at FROM schema_versions
		 WHERE dataset = $1 ORDER BY version ASC`,
		dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list versions for %q: %w", dataset, err)
	}
	defer rows.Close()

	var history []types.Schema
	for rows.Next() {
		var version int
		var fieldsJSON string
		var createdAt time.Time
		if err := rows.Scan(&version, &fieldsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("registry: failed to scan version row: %w", err)
		}
		schema, err := decodePostgresRow(dataset, version, fieldsJSON, createdAt)
		if err != nil {
			return nil, err
		}
		history = append(history, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating versions: %w", err)
	}
	if len(history) == 0 {
		return nil, dgerrors.NewNotFound(dataset)
	}
	return history, nil
}

// Migrations returns the dataset's migration log, ascending by to-version.
func (r *PostgresRegistry) Migrations(ctx context.Context, dataset string) ([]types.MigrationRecord, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_versions WHERE dataset = $1", dataset,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("registry: failed to check dataset %q: %w", dataset, err)
	}
	if count == 0 {
		return nil, dgerrors.NewNotFound(dataset)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT to_version, from_version, diff_json, decided_at FROM migration_log
		 WHERE dataset = $1 ORDER BY to_version ASC`,
		dataset,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list migrations for %q: %w", dataset, err)
	}
	defer rows.Close()

	var records []types.MigrationRecord
	for rows.Next() {
		var rec types.MigrationRecord
		var diffJSON string
		var decidedAt time.Time
		if err := rows.Scan(&rec.ToVersion, &rec.FromVersion, &diffJSON, &decidedAt); err != nil {
			return nil, fmt.Errorf("registry: failed to scan migration row: %w", err)
		}
		if err := json.Unmarshal([]byte(diffJSON), &rec.Diff); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal diff for %q v%d: %w", dataset, rec.ToVersion, err)
		}
		rec.Dataset = dataset
		rec.DecidedAt = decidedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating migrations: %w", err)
	}
	return records, nil
}

// Datasets returns all registered dataset names, sorted.
func (r *PostgresRegistry) Datasets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT dataset FROM schema_versions ORDER BY dataset ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list datasets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("registry: failed to scan dataset name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating datasets: %w", err)
	}
	return names, nil
}

// Close closes the connection pool.
func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}

func decodePostgresRow(dataset string, version int, fieldsJSON string, createdAt time.Time) (types.Schema, error) {
	var fields []types.Field
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to unmarshal fields for %q v%d: %w", dataset, version, err)
	}
	return types.Schema{
		Dataset:   dataset,
		Version:   version,
		Fields:    fields,
		CreatedAt: createdAt.UTC(),
	}, nil
}

// isPGUniqueViolation reports whether the error is a unique constraint
// violation (SQLSTATE 23505) from the Postgres driver.
func isPGUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
