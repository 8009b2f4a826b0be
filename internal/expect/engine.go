// Package expect implements the expectation engine: a registry of per-kind
// evaluators that runs a declarative rule set against a reconciled schema
// and a batch's pre-computed statistics. Evaluation is a pure function over
// its inputs; the engine never reads raw records.
package expect

import (
	"fmt"

	"github.com/driftgate/driftgate/pkg/types"
)

// Kind identifies one of the closed set of expectation kinds.
type Kind string

const (
	KindColumnCount  Kind = "column_count"
	KindRowCount     Kind = "row_count"
	KindColumnExists Kind = "column_exists"
	KindColumnOrder  Kind = "column_order"
	KindValueRange   Kind = "value_range"
	KindUniqueness   Kind = "uniqueness"
)

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindColumnCount, KindRowCount, KindColumnExists, KindColumnOrder,
		KindValueRange, KindUniqueness:
		return true
	}
	return false
}

// Expectation is one declarative data-quality rule. Expectations are
// immutable configuration; the engine never modifies them.
type Expectation struct {
	// ID uniquely identifies the rule within its rule set.
	ID string `json:"id" yaml:"id"`

	// Kind selects the evaluator.
	Kind Kind `json:"kind" yaml:"kind"`

	// Column is the target column, for column-scoped kinds.
	Column string `json:"column,omitempty" yaml:"column,omitempty"`

	// Params carries kind-specific parameters (min, max, expected).
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Status is the outcome of one evaluated expectation. Fail means the rule
// ran and the data violated it; Error means the rule could not run at all.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// Result is the outcome of evaluating one expectation. Created per
// evaluation and never mutated afterwards.
type Result struct {
	ExpectationID string `json:"expectation_id"`
	Status        Status `json:"status"`
	Observed      any    `json:"observed,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Input is what one evaluation runs against: the reconciled schema and the
// batch's statistical summary.
type Input struct {
	Schema types.Schema
	Stats  types.BatchStats
}

// Evaluator evaluates a single expectation against an input. Concrete
// rule-execution backends plug in behind this seam.
type Evaluator func(input Input, exp Expectation) Result

// Engine dispatches expectations to per-kind evaluators. The zero-state
// engine is stateless after construction and safe for unlimited concurrent
// Evaluate calls.
type Engine struct {
	evaluators map[Kind]Evaluator
}

// NewEngine creates an engine with the builtin evaluators installed.
func NewEngine() *Engine {
	e := &Engine{evaluators: make(map[Kind]Evaluator)}
	e.Register(KindColumnCount, evaluateColumnCount)
	e.Register(KindRowCount, evaluateRowCount)
	e.Register(KindColumnExists, evaluateColumnExists)
	e.Register(KindColumnOrder, evaluateColumnOrder)
	e.Register(KindValueRange, evaluateValueRange)
	e.Register(KindUniqueness, evaluateUniqueness)
	return e
}

// Register installs (or replaces) the evaluator for a kind. Intended for
// wiring alternative rule-execution backends; not safe to call concurrently
// with Evaluate.
func (e *Engine) Register(kind Kind, fn Evaluator) {
	e.evaluators[kind] = fn
}

// Evaluate runs every expectation in configuration order and returns one
// result per expectation, in that same order. A rule that cannot run yields
// an error-status result; evaluation never aborts early, so the output is
// always a complete sequence.
func (e *Engine) Evaluate(input Input, exps []Expectation) []Result {
	results := make([]Result, 0, len(exps))
	for _, exp := range exps {
		fn, ok := e.evaluators[exp.Kind]
		if !ok {
			results = append(results, Result{
				ExpectationID: exp.ID,
				Status:        StatusError,
				Message:       fmt.Sprintf("no evaluator registered for kind %q", exp.Kind),
			})
			continue
		}
		results = append(results, fn(input, exp))
	}
	return results
}
