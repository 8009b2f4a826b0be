package types

// ColumnStats is the statistical summary of one column in a batch. Every
// statistic is optional: a nil pointer (or nil Min/Max) means the data-access
// collaborator did not compute it, which is distinct from a computed zero.
type ColumnStats struct {
	// NullCount is the number of NULL values observed in the column.
	NullCount *int64 `json:"null_count,omitempty"`

	// DistinctCount is the number of distinct values observed.
	DistinctCount *int64 `json:"distinct_count,omitempty"`

	// Min is the smallest observed value, for orderable column types.
	Min any `json:"min,omitempty"`

	// Max is the largest observed value, for orderable column types.
	Max any `json:"max,omitempty"`
}

// BatchStats is the pre-computed summary of a batch that expectation
// evaluation runs against. The core never reads raw records; whatever
// engine produced the batch fulfils this contract.
type BatchStats struct {
	// RowCount is the number of records in the batch.
	RowCount int64 `json:"row_count"`

	// ColumnOrder lists the physical column names in batch order. May be
	// empty when the producer does not track physical layout.
	ColumnOrder []string `json:"column_order,omitempty"`

	// Columns maps column names to their per-column statistics.
	Columns map[string]ColumnStats `json:"columns,omitempty"`
}

// Column returns the stats for a named column and whether any were supplied.
func (b BatchStats) Column(name string) (ColumnStats, bool) {
	cs, ok := b.Columns[name]
	return cs, ok
}

// Int64Ptr returns a pointer to v, for building ColumnStats literals.
func Int64Ptr(v int64) *int64 { return &v }
