// Package ruleset loads and validates declarative expectation rule sets
// from YAML configuration, and serves immutable per-dataset snapshots to
// pipeline runs, optionally hot-reloading when the file changes on disk.
package ruleset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/internal/expect"
)

// RuleSet is the ordered expectation list configured for one dataset.
type RuleSet struct {
	// Dataset is the logical dataset name the rules apply to.
	Dataset string `json:"dataset" yaml:"dataset"`

	// Expectations run in this order; reports preserve it.
	Expectations []expect.Expectation `json:"expectations" yaml:"expectations"`
}

// File is the top-level rule-set configuration document.
type File struct {
	RuleSets []RuleSet `json:"rulesets" yaml:"rulesets"`
}

// Load reads and validates a rule-set file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dgerrors.NewRulesetError(fmt.Sprintf("failed to read rule-set file %s", path), err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, dgerrors.NewRulesetError(fmt.Sprintf("failed to parse rule-set file %s", path), err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the document for duplicate dataset keys, duplicate
// expectation IDs, unknown kinds, and per-kind parameter problems.
func (f *File) Validate() error {
	datasets := make(map[string]bool, len(f.RuleSets))
	for _, rs := range f.RuleSets {
		if rs.Dataset == "" {
			return dgerrors.NewRulesetError("rule set has empty dataset name", nil)
		}
		if datasets[rs.Dataset] {
			return dgerrors.NewRulesetError(fmt.Sprintf("duplicate rule set for dataset %q", rs.Dataset), nil)
		}
		datasets[rs.Dataset] = true

		ids := make(map[string]bool, len(rs.Expectations))
		for _, exp := range rs.Expectations {
			if err := validateExpectation(rs.Dataset, exp, ids); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateExpectation(dataset string, exp expect.Expectation, ids map[string]bool) error {
	if exp.ID == "" {
		return dgerrors.NewRulesetError(fmt.Sprintf("dataset %q: expectation has empty id", dataset), nil)
	}
	if ids[exp.ID] {
		return dgerrors.NewRulesetError(fmt.Sprintf("dataset %q: duplicate expectation id %q", dataset, exp.ID), nil)
	}
	ids[exp.ID] = true

	if !exp.Kind.Valid() {
		return dgerrors.NewRulesetError(
			fmt.Sprintf("dataset %q: expectation %q has unknown kind %q", dataset, exp.ID, exp.Kind), nil)
	}

	switch exp.Kind {
	case expect.KindColumnExists, expect.KindValueRange, expect.KindUniqueness:
		if exp.Column == "" {
			return dgerrors.NewRulesetError(
				fmt.Sprintf("dataset %q: expectation %q (%s) requires a column", dataset, exp.ID, exp.Kind), nil)
		}
	case expect.KindColumnOrder:
		if _, ok := exp.Params["expected"]; !ok {
			return dgerrors.NewRulesetError(
				fmt.Sprintf("dataset %q: expectation %q (column_order) requires an expected sequence", dataset, exp.ID), nil)
		}
	}

	switch exp.Kind {
	case expect.KindColumnCount, expect.KindRowCount, expect.KindValueRange:
		if err := validateBounds(dataset, exp); err != nil {
			return err
		}
	}
	return nil
}

// validateBounds rejects rule sets whose min exceeds max, which would make
// the rule unsatisfiable.
func validateBounds(dataset string, exp expect.Expectation) error {
	_, hasMin := exp.Params["min"]
	_, hasMax := exp.Params["max"]
	if !hasMin && !hasMax {
		return dgerrors.NewRulesetError(
			fmt.Sprintf("dataset %q: expectation %q (%s) requires at least one of min, max", dataset, exp.ID, exp.Kind), nil)
	}
	lo, hasLo := numericParam(exp.Params, "min")
	hi, hasHi := numericParam(exp.Params, "max")
	if hasLo && hasHi && lo > hi {
		return dgerrors.NewRulesetError(
			fmt.Sprintf("dataset %q: expectation %q has min %v greater than max %v", dataset, exp.ID, lo, hi), nil)
	}
	return nil
}

func numericParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	// Non-numeric bounds (e.g. timestamps as strings) are legitimate for
	// value_range; skip the ordering check for them.
	return 0, false
}
