package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/pkg/types"
)

// SQLiteRegistry implements Registry using SQLite. A single write
// connection in WAL mode serializes all mutation; a read-only connection
// pool serves concurrent reads without blocking the writer. The composite
// primary key on (dataset, version) is the final arbiter of append races.
type SQLiteRegistry struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// NewSQLiteRegistry opens (or creates) a registry database at dbPath.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	r := &SQLiteRegistry{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := r.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: failed to initialize schema: %w", err)
	}

	return r, nil
}

// initSchema creates all required tables and indexes.
func (r *SQLiteRegistry) initSchema() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// GetCurrent returns the head schema version for a dataset.
func (r *SQLiteRegistry) GetCurrent(ctx context.Context, dataset string) (types.Schema, error) {
	var fieldsJSON string
	var version int
	var createdAtUnix int64

	err := r.readDB.QueryRowContext(ctx,
		`SELECT version, fields_json, created_at FROM schema_versions
		 WHERE dataset = ? ORDER BY version DESC LIMIT 1`,
		dataset,
	).Scan(&version, &fieldsJSON, &createdAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Schema{}, dgerrors.NewNotFound(dataset)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to get current schema for %q: %w", dataset, err)
	}

	return decodeSchemaRow(dataset, version, fieldsJSON, createdAtUnix)
}

// Register stores the first schema version for a dataset.
func (r *SQLiteRegistry) Register(ctx context.Context, dataset string, schema types.Schema) (types.Schema, error) {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_versions WHERE dataset = ?", dataset,
	).Scan(&count); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to check existing versions: %w", err)
	}
	if count > 0 {
		return types.Schema{}, dgerrors.NewAlreadyExists(dataset)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_versions (dataset, version, fields_json, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		dataset, stored.Version, string(fieldsJSON), stored.Fingerprint().String(), stored.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Schema{}, dgerrors.NewAlreadyExists(dataset)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to insert version 1: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to commit registration: %w", err)
	}
	return stored, nil
}

// AppendVersion atomically appends a new schema version and its migration
// record. Both rows land in one transaction or not at all.
func (r *SQLiteRegistry) AppendVersion(ctx context.Context, dataset string, next types.Schema, rec types.MigrationRecord) (types.Schema, error) {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_versions WHERE dataset = ?", dataset,
	).Scan(&head); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to read head version: %w", err)
	}
	if head == 0 {
		return types.Schema{}, dgerrors.NewNotFound(dataset)
	}
	if stored.Version != head+1 {
		return types.Schema{}, dgerrors.NewVersionConflict(dataset, stored.Version, head)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_versions (dataset, version, fields_json, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		dataset, stored.Version, string(fieldsJSON), stored.Fingerprint().String(), stored.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Schema{}, dgerrors.NewVersionConflict(dataset, stored.Version, head)
		}
		return types.Schema{}, fmt.Errorf("registry: failed to insert version %d: %w", stored.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO migration_log (dataset, to_version, from_version, diff_json, decided_at)
		 VALUES (?, ?, ?, ?, ?)`,
		dataset, rec.ToVersion, rec.FromVersion, string(diffJSON), rec.DecidedAt.Unix(),
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
func (r *SQLiteRegistry) History(ctx context.Context, dataset string) ([]types.Schema, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT version, fields_json, created_at FROM schema_versions
		 WHERE dataset = ? ORDER BY version ASC`,
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
		var createdAtUnix int64
		if err := rows.Scan(&version, &fieldsJSON, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("registry: failed to scan version row: %w", err)
		}
		schema, err := decodeSchemaRow(dataset, version, fieldsJSON, createdAtUnix)
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
func (r *SQLiteRegistry) Migrations(ctx context.Context, dataset string) ([]types.MigrationRecord, error) {
	// Existence check first so an empty log on a registered dataset is not
	// conflated with NOT_FOUND.
	var count int
	if err := r.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_versions WHERE dataset = ?", dataset,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("registry: failed to check dataset %q: %w", dataset, err)
	}
	if count == 0 {
		return nil, dgerrors.NewNotFound(dataset)
	}

	rows, err := r.readDB.QueryContext(ctx,
		`SELECT to_version, from_version, diff_json, decided_at FROM migration_log
		 WHERE dataset = ? ORDER BY to_version ASC`,
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
		var decidedAtUnix int64
		if err := rows.Scan(&rec.ToVersion, &rec.FromVersion, &diffJSON, &decidedAtUnix); err != nil {
			return nil, fmt.Errorf("registry: failed to scan migration row: %w", err)
		}
		if err := json.Unmarshal([]byte(diffJSON), &rec.Diff); err != nil {
			return nil, fmt.Errorf("registry: failed to unmarshal diff for %q v%d: %w", dataset, rec.ToVersion, err)
		}
		rec.Dataset = dataset
		rec.DecidedAt = time.Unix(decidedAtUnix, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating migrations: %w", err)
	}
	return records, nil
}

// Datasets returns all registered dataset names, sorted.
func (r *SQLiteRegistry) Datasets(ctx context.Context) ([]string, error) {
	rows, err := r.readDB.QueryContext(ctx,
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

// Close closes both database connections.
func (r *SQLiteRegistry) Close() error {
	var firstErr error
	if err := r.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// decodeSchemaRow rebuilds a Schema from its stored columns.
func decodeSchemaRow(dataset string, version int, fieldsJSON string, createdAtUnix int64) (types.Schema, error) {
	var fields []types.Field
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return types.Schema{}, fmt.Errorf("registry: failed to unmarshal fields for %q v%d: %w", dataset, version, err)
	}
	return types.Schema{
		Dataset:   dataset,
		Version:   version,
		Fields:    fields,
		CreatedAt: time.Unix(createdAtUnix, 0).UTC(),
	}, nil
}

// isUniqueViolation reports whether the error is a primary-key or unique
// constraint violation from the SQLite driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
