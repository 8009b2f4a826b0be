// Package registry provides the versioned schema registry: an append-only
// per-dataset log of schema versions plus the migration records that carried
// each dataset from one version to the next. The registry is the single
// source of mutable shared state in the system; all mutation is linearizable
// per dataset name.
package registry

import (
	"context"
	"fmt"

	"github.com/driftgate/driftgate/internal/config"
	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/pkg/types"
)

// Registry is the schema registry contract. Implementations must serialize
// Register and AppendVersion per dataset name so that concurrent evolutions
// against the same base version produce exactly one winner; the losers
// observe a VERSION_CONFLICT error and are expected to re-fetch and retry.
// Reads see consistent snapshots and never block writers indefinitely.
type Registry interface {
	// GetCurrent returns the head schema version for a dataset.
	// Fails with NOT_FOUND if the dataset was never registered.
	GetCurrent(ctx context.Context, dataset string) (types.Schema, error)

	// Register stores the first schema version for a dataset.
	// Fails with ALREADY_EXISTS if any version exists for that name.
	// The stored schema (version 1, ordinals assigned) is returned.
	Register(ctx context.Context, dataset string, schema types.Schema) (types.Schema, error)

	// AppendVersion atomically appends a new schema version together with
	// the migration record that produced it. next.Version must equal the
	// current head version + 1, else the call fails with VERSION_CONFLICT
	// and nothing is stored.
	AppendVersion(ctx context.Context, dataset string, next types.Schema, rec types.MigrationRecord) (types.Schema, error)

	// History returns all schema versions for a dataset in ascending
	// version order. Fails with NOT_FOUND for unregistered datasets.
	History(ctx context.Context, dataset string) ([]types.Schema, error)

	// Migrations returns the dataset's migration log in ascending
	// to-version order. An empty log is not an error for a registered
	// dataset that never evolved.
	Migrations(ctx context.Context, dataset string) ([]types.MigrationRecord, error)

	// Datasets returns the names of all registered datasets, sorted.
	Datasets(ctx context.Context) ([]string, error)

	// Close releases any resources held by the registry.
	Close() error
}

// Open creates a registry backend from configuration.
func Open(cfg config.RegistryConfig) (Registry, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryRegistry(), nil
	case config.BackendSQLite:
		return NewSQLiteRegistry(cfg.Path)
	case config.BackendPostgres:
		return NewPostgresRegistry(cfg.DSN)
	default:
		return nil, dgerrors.NewConfigError(fmt.Sprintf("unknown registry backend %q", cfg.Backend))
	}
}

// validateFirst checks a schema offered to Register. Version 0 means
// "assign 1"; an explicit version must be 1.
func validateFirst(dataset string, schema types.Schema) error {
	if dataset == "" {
		return dgerrors.New(dgerrors.ErrCategoryRegistry, dgerrors.CodeInvalidSchema, "dataset name is empty")
	}
	if schema.Version != 0 && schema.Version != 1 {
		return dgerrors.New(dgerrors.ErrCategoryRegistry, dgerrors.CodeInvalidSchema,
			fmt.Sprintf("first registration must be version 1, got %d", schema.Version))
	}
	if err := schema.Validate(); err != nil {
		return dgerrors.NewRegistryError(dgerrors.CodeInvalidSchema, "invalid schema", err)
	}
	return nil
}

// validateAppend checks a schema and migration record offered to
// AppendVersion, before any version comparison against the head.
func validateAppend(dataset string, next types.Schema, rec types.MigrationRecord) error {
	if dataset == "" {
		return dgerrors.New(dgerrors.ErrCategoryRegistry, dgerrors.CodeInvalidSchema, "dataset name is empty")
	}
	if err := next.Validate(); err != nil {
		return dgerrors.NewRegistryError(dgerrors.CodeInvalidSchema, "invalid schema", err)
	}
	if rec.ToVersion != next.Version || rec.FromVersion != next.Version-1 {
		return dgerrors.New(dgerrors.ErrCategoryRegistry, dgerrors.CodeInvalidSchema,
			fmt.Sprintf("migration record versions %d->%d do not match schema version %d",
				rec.FromVersion, rec.ToVersion, next.Version))
	}
	return nil
}
