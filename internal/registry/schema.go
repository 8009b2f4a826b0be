package registry

// SQL schema definitions for the SQL-backed registries. The registry
// database holds two append-only tables: one for schema versions and one
// for the migration log. The composite primary keys double as the
// uniqueness constraints that arbitrate concurrent appends.

// CreateSchemaVersionsTableSQL creates the schema versions table. Each row
// is one immutable version of one dataset's schema, stored as JSON together
// with its structural fingerprint.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    dataset TEXT NOT NULL,
    version INTEGER NOT NULL,
    fields_json TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (dataset, version)
)`

// CreateMigrationLogTableSQL creates the migration log table. Each row
// records the diff that carried a dataset from one version to the next.
const CreateMigrationLogTableSQL = `
CREATE TABLE IF NOT EXISTS migration_log (
    dataset TEXT NOT NULL,
    to_version INTEGER NOT NULL,
    from_version INTEGER NOT NULL,
    diff_json TEXT NOT NULL,
    decided_at INTEGER NOT NULL,
    PRIMARY KEY (dataset, to_version)
)`

// CreateSchemaVersionsIndexSQL indexes dataset lookups for history scans.
const CreateSchemaVersionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_schema_versions_dataset ON schema_versions(dataset)`

// AllSchemaSQL returns all SQL statements needed to initialize a registry
// database.
func AllSchemaSQL() []string {
	return []string{
		CreateSchemaVersionsTableSQL,
		CreateMigrationLogTableSQL,
		CreateSchemaVersionsIndexSQL,
	}
}
