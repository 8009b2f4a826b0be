package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/pkg/types"
)

// MemoryRegistry is an in-process registry backed by per-dataset append-only
// arenas. Version n lives at index n-1, so lookups never chase pointers.
// Mutual exclusion is per dataset: writes to different datasets proceed in
// parallel, writes to the same dataset are serialized, and readers share the
// dataset lock without blocking each other.
type MemoryRegistry struct {
	globalMu sync.RWMutex
	datasets map[string]*datasetLog
}

// datasetLog holds one dataset's version arena and migration log.
type datasetLog struct {
	mu         sync.RWMutex
	versions   []types.Schema
	migrations []types.MigrationRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		datasets: make(map[string]*datasetLog),
	}
}

// getLog returns the dataset's log, creating it if needed.
func (r *MemoryRegistry) getLog(dataset string) *datasetLog {
	r.globalMu.RLock()
	if log, exists := r.datasets[dataset]; exists {
		r.globalMu.RUnlock()
		return log
	}
	r.globalMu.RUnlock()

	r.globalMu.Lock()
	defer r.globalMu.Unlock()

	// Double-check after acquiring write lock
	if log, exists := r.datasets[dataset]; exists {
		return log
	}
	log := &datasetLog{}
	r.datasets[dataset] = log
	return log
}

// lookup returns the dataset's log without creating it.
func (r *MemoryRegistry) lookup(dataset string) (*datasetLog, bool) {
	r.globalMu.RLock()
	defer r.globalMu.RUnlock()
	log, ok := r.datasets[dataset]
	return log, ok
}

// GetCurrent returns the head schema version for a dataset.
func (r *MemoryRegistry) GetCurrent(ctx context.Context, dataset string) (types.Schema, error) {
	if err := ctx.Err(); err != nil {
		return types.Schema{}, err
	}

	log, ok := r.lookup(dataset)
	if !ok {
		return types.Schema{}, dgerrors.NewNotFound(dataset)
	}

	log.mu.RLock()
	defer log.mu.RUnlock()
	if len(log.versions) == 0 {
		return types.Schema{}, dgerrors.NewNotFound(dataset)
	}
	return log.versions[len(log.versions)-1].Clone(), nil
}

// Register stores the first schema version for a dataset.
func (r *MemoryRegistry) Register(ctx context.Context, dataset string, schema types.Schema) (types.Schema, error) {
	if err := ctx.Err(); err != nil {
		return types.Schema{}, err
	}
	if err := validateFirst(dataset, schema); err != nil {
		return types.Schema{}, err
	}

	log := r.getLog(dataset)
	log.mu.Lock()
	defer log.mu.Unlock()

	if len(log.versions) > 0 {
		return types.Schema{}, dgerrors.NewAlreadyExists(dataset)
	}

	stored := schema.Clone()
	stored.Dataset = dataset
	stored.Version = 1
	stored.Fields = types.WithOrdinals(stored.Fields)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	log.versions = append(log.versions, stored)
	return stored.Clone(), nil
}

// AppendVersion atomically appends a new schema version and its migration
// record. Exactly one of two concurrent appends against the same head wins.
func (r *MemoryRegistry) AppendVersion(ctx context.Context, dataset string, next types.Schema, rec types.MigrationRecord) (types.Schema, error) {
	if err := ctx.Err(); err != nil {
		return types.Schema{}, err
	}
	if err := validateAppend(dataset, next, rec); err != nil {
		return types.Schema{}, err
	}

	log, ok := r.lookup(dataset)
	if !ok {
		return types.Schema{}, dgerrors.NewNotFound(dataset)
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	if len(log.versions) == 0 {
		return types.Schema{}, dgerrors.NewNotFound(dataset)
	}
	head := log.versions[len(log.versions)-1].Version
	if next.Version != head+1 {
		return types.Schema{}, dgerrors.NewVersionConflict(dataset, next.Version, head)
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

	log.versions = append(log.versions, stored)
	log.migrations = append(log.migrations, rec)
	return stored.Clone(), nil
}

// History returns all schema versions for a dataset, ascending.
func (r *MemoryRegistry) History(ctx context.Context, dataset string) ([]types.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log, ok := r.lookup(dataset)
	if !ok {
		return nil, dgerrors.NewNotFound(dataset)
	}

	log.mu.RLock()
	defer log.mu.RUnlock()
	if len(log.versions) == 0 {
		return nil, dgerrors.NewNotFound(dataset)
	}

	out := make([]types.Schema, len(log.versions))
	for i, s := range log.versions {
		out[i] = s.Clone()
	}
	return out, nil
}

// Migrations returns the dataset's migration log, ascending by to-version.
func (r *MemoryRegistry) Migrations(ctx context.Context, dataset string) ([]types.MigrationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log, ok := r.lookup(dataset)
	if !ok {
		return nil, dgerrors.NewNotFound(dataset)
	}

	log.mu.RLock()
	defer log.mu.RUnlock()
	if len(log.versions) == 0 {
		return nil, dgerrors.NewNotFound(dataset)
	}

	out := make([]types.MigrationRecord, len(log.migrations))
	copy(out, log.migrations)
	return out, nil
}

// Datasets returns all registered dataset names, sorted.
func (r *MemoryRegistry) Datasets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.globalMu.RLock()
	names := make([]string, 0, len(r.datasets))
	for name, log := range r.datasets {
		log.mu.RLock()
		registered := len(log.versions) > 0
		log.mu.RUnlock()
		if registered {
			names = append(names, name)
		}
	}
	r.globalMu.RUnlock()

	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the in-memory backend.
func (r *MemoryRegistry) Close() error {
	return nil
}
