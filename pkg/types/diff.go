package types

import "time"

// TypeChange records a field's type transition between two schema versions.
type TypeChange struct {
	// From is the type in the older schema.
	From TypeTag `json:"from"`

	// To is the type in the newer schema.
	To TypeTag `json:"to"`
}

// RemovedField records a field present in the current schema but absent
// from the observed one. Nullability decides whether the removal is a
// tolerated projection or a conflict.
type RemovedField struct {
	// Name is the removed field's name.
	Name string `json:"name"`

	// Nullable is the removed field's nullability in the current schema.
	Nullable bool `json:"nullable"`
}

// EvolutionDiff is the field-level difference between a dataset's current
// schema and an observed one, computed fresh per reconciliation attempt.
type EvolutionDiff struct {
	// Added lists fields present only in the observed schema.
	Added []Field `json:"added,omitempty"`

	// TypeChanged maps field names to their type transitions.
	TypeChanged map[string]TypeChange `json:"type_changed,omitempty"`

	// Relaxed lists fields whose nullability loosened from required to
	// nullable.
	Relaxed []string `json:"relaxed,omitempty"`

	// Removed lists fields absent from the observed schema.
	Removed []RemovedField `json:"removed,omitempty"`
}

// Empty reports whether the diff carries no material change. Removals of
// nullable fields are recorded for audit but are immaterial: a batch that
// simply projects away an optional column does not evolve the schema.
func (d EvolutionDiff) Empty() bool {
	if len(d.Added) > 0 || len(d.TypeChanged) > 0 || len(d.Relaxed) > 0 {
		return false
	}
	for _, r := range d.Removed {
		if !r.Nullable {
			return false
		}
	}
	return true
}

// MigrationRecord is one entry of the registry's append-only migration
// log: the diff that carried a dataset from one version to the next.
type MigrationRecord struct {
	// Dataset is the logical dataset name.
	Dataset string `json:"dataset"`

	// FromVersion is the schema version the diff was computed against.
	FromVersion int `json:"from_version"`

	// ToVersion is the version the evolution produced.
	ToVersion int `json:"to_version"`

	// Diff is the field-level change set.
	Diff EvolutionDiff `json:"diff"`

	// DecidedAt records when the evolution decision was made.
	DecidedAt time.Time `json:"decided_at"`
}
