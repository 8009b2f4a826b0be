// Package reconcile implements the schema reconciliation engine: given an
// observed batch schema and the registry's current version for a dataset,
// it computes the evolution diff, decides whether the drift is safe to
// auto-merge, and either appends a new schema version or reports a
// conflict. Evolution is all-or-nothing per batch.
package reconcile

import (
	"context"
	"fmt"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/internal/registry"
	"github.com/driftgate/driftgate/pkg/types"
)

// OutcomeKind identifies the result of a reconciliation attempt.
type OutcomeKind string

const (
	// OutcomeUnchanged means the observed schema structurally equals the
	// current version; nothing was written.
	OutcomeUnchanged OutcomeKind = "unchanged"

	// OutcomeEvolved means the drift was safe and a new version was
	// appended to the registry.
	OutcomeEvolved OutcomeKind = "evolved"

	// OutcomeConflict means the drift was unsafe; the registry was not
	// touched.
	OutcomeConflict OutcomeKind = "conflict"
)

// ConflictCode identifies why a reconciliation was rejected.
type ConflictCode string

const (
	// ConflictNonNullableAddition is an added field that is neither
	// nullable nor carries a default value.
	ConflictNonNullableAddition ConflictCode = "NON_NULLABLE_ADDITION_WITHOUT_DEFAULT"

	// ConflictUnsafeTypeChange is a type change with no entry in the
	// widening matrix, including nullability tightening.
	ConflictUnsafeTypeChange ConflictCode = "UNSAFE_TYPE_CHANGE"

	// ConflictRequiredFieldRemoved is a non-nullable field missing from
	// the observed schema.
	ConflictRequiredFieldRemoved ConflictCode = "REQUIRED_FIELD_REMOVED"
)

// Conflict is one rejected change. A single batch may carry several;
// all are enumerated so the report explains every reason.
type Conflict struct {
	Code   ConflictCode `json:"code"`
	Field  string       `json:"field"`
	Detail string       `json:"detail"`
}

// Outcome is the result of one reconciliation attempt.
type Outcome struct {
	// Kind discriminates the result.
	Kind OutcomeKind `json:"kind"`

	// Schema is the reconciled schema: the current version for Unchanged
	// and Conflict, the newly appended version for Evolved.
	Schema types.Schema `json:"schema"`

	// Diff is the computed evolution diff. Populated for Evolved and
	// Conflict; for Unchanged it may still carry tolerated optional
	// removals.
	Diff types.EvolutionDiff `json:"diff"`

	// Migration is the appended migration record, Evolved only.
	Migration *types.MigrationRecord `json:"migration,omitempty"`

	// Conflicts enumerates every rejected change, Conflict only.
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Policy is the evolution policy applied during reconciliation.
type Policy struct {
	// CaseInsensitive folds field names before matching.
	CaseInsensitive bool

	// MaxRetries bounds re-fetch-and-retry attempts after a lost append
	// race.
	MaxRetries int
}

// DefaultPolicy returns the default evolution policy: case-sensitive
// exact-match field names, three append retries.
func DefaultPolicy() Policy {
	return Policy{CaseInsensitive: false, MaxRetries: 3}
}

func (p Policy) compareOptions() types.CompareOptions {
	return types.CompareOptions{IgnoreOrdinal: true, CaseInsensitive: p.CaseInsensitive}
}

// Reconciler reconciles observed batch schemas against the registry.
// It holds no per-run state and is safe for concurrent use.
type Reconciler struct {
	registry registry.Registry
	policy   Policy
}

// New creates a reconciler over the given registry.
func New(reg registry.Registry, policy Policy) *Reconciler {
	return &Reconciler{registry: reg, policy: policy}
}

// Reconcile compares the observed schema against the dataset's current
// version and applies the evolution policy. On a lost append race it
// re-fetches the new current schema and recomputes, up to the policy's
// retry budget. A NOT_FOUND registry error propagates: callers must
// register a dataset before reconciling against it.
func (r *Reconciler) Reconcile(ctx context.Context, dataset string, observed types.Schema) (Outcome, error) {
	if err := observed.Validate(); err != nil {
		return Outcome{}, dgerrors.NewRegistryError(dgerrors.CodeInvalidSchema, "invalid observed schema", err)
	}

	for attempt := 0; ; attempt++ {
		current, err := r.registry.GetCurrent(ctx, dataset)
		if err != nil {
			return Outcome{}, err
		}

		outcome := r.decide(current, observed)
		if outcome.Kind != OutcomeEvolved {
			return outcome, nil
		}

		appended, err := r.registry.AppendVersion(ctx, dataset, outcome.Schema, *outcome.Migration)
		if err == nil {
			outcome.Schema = appended
			return outcome, nil
		}
		if !dgerrors.IsVersionConflict(err) || attempt >= r.policy.MaxRetries {
			return Outcome{}, err
		}
		// Lost the race: another worker appended first. Re-fetch and
		// recompute against the new head.
	}
}

// decide computes the diff and the outcome against a fixed current schema,
// without touching the registry.
func (r *Reconciler) decide(current, observed types.Schema) Outcome {
	opts := r.policy.compareOptions()
	diff, conflicts := computeDiff(current, observed, opts)

	if len(conflicts) > 0 {
		return Outcome{
			Kind:      OutcomeConflict,
			Schema:    current,
			Diff:      diff,
			Conflicts: conflicts,
		}
	}

	if diff.Empty() {
		return Outcome{
			Kind:   OutcomeUnchanged,
			Schema: current,
			Diff:   diff,
		}
	}

	next := buildNextSchema(current, observed, opts)
	rec := types.MigrationRecord{
		Dataset:     current.Dataset,
		FromVersion: current.Version,
		ToVersion:   next.Version,
		Diff:        diff,
	}
	return Outcome{
		Kind:      OutcomeEvolved,
		Schema:    next,
		Diff:      diff,
		Migration: &rec,
	}
}

// computeDiff walks both schemas by field name. Physical column order never
// participates: a reordered batch with identical fields produces an empty
// diff.
func computeDiff(current, observed types.Schema, opts types.CompareOptions) (types.EvolutionDiff, []Conflict) {
	var diff types.EvolutionDiff
	var conflicts []Conflict

	currentByName := make(map[string]types.Field, len(current.Fields))
	for _, f := range current.Fields {
		currentByName[opts.FoldName(f.Name)] = f
	}
	observedNames := make(map[string]bool, len(observed.Fields))

	for _, obs := range observed.Fields {
		key := opts.FoldName(obs.Name)
		observedNames[key] = true

		cur, exists := currentByName[key]
		if !exists {
			// Addition: must be nullable or carry a default.
			if !obs.Nullable && !obs.HasDefault() {
				conflicts = append(conflicts, Conflict{
					Code:   ConflictNonNullableAddition,
					Field:  obs.Name,
					Detail: fmt.Sprintf("added field %q is non-nullable and has no default", obs.Name),
				})
			}
			diff.Added = append(diff.Added, obs.Clone())
			continue
		}

		// Nullability tightening is never safe: existing data may hold
		// NULLs the batch claims cannot exist.
		if cur.Nullable && !obs.Nullable {
			conflicts = append(conflicts, Conflict{
				Code:   ConflictUnsafeTypeChange,
				Field:  cur.Name,
				Detail: fmt.Sprintf("field %q changed from nullable to required", cur.Name),
			})
		} else if !cur.Nullable && obs.Nullable {
			diff.Relaxed = append(diff.Relaxed, cur.Name)
		}

		if !cur.Type.Equal(obs.Type) {
			if types.IsWidening(cur.Type, obs.Type) {
				if diff.TypeChanged == nil {
					diff.TypeChanged = make(map[string]types.TypeChange)
				}
				diff.TypeChanged[cur.Name] = types.TypeChange{From: cur.Type, To: obs.Type}
			} else {
				conflicts = append(conflicts, Conflict{
					Code:   ConflictUnsafeTypeChange,
					Field:  cur.Name,
					Detail: fmt.Sprintf("field %q cannot change from %s to %s", cur.Name, cur.Type, obs.Type),
				})
			}
		}
	}

	for _, cur := range current.Fields {
		if observedNames[opts.FoldName(cur.Name)] {
			continue
		}
		diff.Removed = append(diff.Removed, types.RemovedField{Name: cur.Name, Nullable: cur.Nullable})
		if !cur.Nullable {
			conflicts = append(conflicts, Conflict{
				Code:   ConflictRequiredFieldRemoved,
				Field:  cur.Name,
				Detail: fmt.Sprintf("required field %q is missing from the observed schema", cur.Name),
			})
		}
	}

	return diff, conflicts
}

// buildNextSchema merges a safe diff into the next version: fields follow
// the observed batch order with widened types applied, and optional fields
// the batch projected away are retained after them in their prior relative
// order. Only called when no conflicts were found.
func buildNextSchema(current, observed types.Schema, opts types.CompareOptions) types.Schema {
	currentByName := make(map[string]types.Field, len(current.Fields))
	for _, f := range current.Fields {
		currentByName[opts.FoldName(f.Name)] = f
	}
	observedNames := make(map[string]bool, len(observed.Fields))

	fields := make([]types.Field, 0, len(current.Fields)+len(observed.Fields))
	for _, obs := range observed.Fields {
		key := opts.FoldName(obs.Name)
		observedNames[key] = true

		cur, exists := currentByName[key]
		if !exists {
			fields = append(fields, obs.Clone())
			continue
		}
		merged := cur.Clone()
		if types.IsWidening(cur.Type, obs.Type) {
			merged.Type = obs.Clone().Type
		}
		merged.Nullable = cur.Nullable || obs.Nullable
		fields = append(fields, merged)
	}

	// Retained optional fields: present in current, projected away by the
	// batch.
	for _, cur := range current.Fields {
		if !observedNames[opts.FoldName(cur.Name)] {
			fields = append(fields, cur.Clone())
		}
	}

	return types.Schema{
		Dataset: current.Dataset,
		Version: current.Version + 1,
		Fields:  types.WithOrdinals(fields),
	}
}
