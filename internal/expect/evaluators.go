package expect

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/driftgate/driftgate/pkg/types"
)

// Builtin evaluators, one per expectation kind.

func evaluateColumnCount(input Input, exp Expectation) Result {
	// The batch's physical column list is authoritative when present;
	// otherwise fall back to the reconciled schema.
	count := int64(len(input.Stats.ColumnOrder))
	if len(input.Stats.ColumnOrder) == 0 {
		count = int64(len(input.Schema.Fields))
	}
	return checkBounds(exp, count, "column count")
}

func evaluateRowCount(input Input, exp Expectation) Result {
	return checkBounds(exp, input.Stats.RowCount, "row count")
}

func evaluateColumnExists(input Input, exp Expectation) Result {
	if exp.Column == "" {
		return errorResult(exp, "column_exists requires a column")
	}
	// Presence is a schema question, so a missing column is a Fail (the
	// rule ran, the schema lacks the column), never an Error.
	names := input.Schema.FieldNames()
	for _, name := range names {
		if name == exp.Column {
			return Result{
				ExpectationID: exp.ID,
				Status:        StatusPass,
				Observed:      name,
			}
		}
	}
	return Result{
		ExpectationID: exp.ID,
		Status:        StatusFail,
		Observed:      names,
		Message:       fmt.Sprintf("column %q not present in schema", exp.Column),
	}
}

func evaluateColumnOrder(input Input, exp Expectation) Result {
	expected, ok := stringSliceParam(exp.Params, "expected")
	if !ok {
		return errorResult(exp, "column_order requires an expected sequence")
	}
	actual := input.Stats.ColumnOrder
	if len(actual) == 0 {
		return errorResult(exp, "batch statistics carry no column order")
	}

	match := len(actual) == len(expected)
	if match {
		for i := range actual {
			if actual[i] != expected[i] {
				match = false
				break
			}
		}
	}
	if match {
		return Result{ExpectationID: exp.ID, Status: StatusPass, Observed: actual}
	}
	return Result{
		ExpectationID: exp.ID,
		Status:        StatusFail,
		Observed:      actual,
		Message:       fmt.Sprintf("column order %v does not match expected %v", actual, expected),
	}
}

func evaluateValueRange(input Input, exp Expectation) Result {
	if exp.Column == "" {
		return errorResult(exp, "value_range requires a column")
	}
	field, ok := input.Schema.FieldByName(exp.Column, types.DefaultCompare())
	if !ok {
		return errorResult(exp, fmt.Sprintf("column %q not present in schema", exp.Column))
	}
	if !field.Type.Kind.Orderable() {
		return errorResult(exp, fmt.Sprintf("column %q has non-orderable type %s", exp.Column, field.Type))
	}
	stats, ok := input.Stats.Column(exp.Column)
	if !ok {
		return errorResult(exp, fmt.Sprintf("no statistics supplied for column %q", exp.Column))
	}
	if stats.Min == nil || stats.Max == nil {
		return errorResult(exp, fmt.Sprintf("min/max statistics missing for column %q", exp.Column))
	}

	observed := map[string]any{"min": stats.Min, "max": stats.Max}

	lo, hasLo := exp.Params["min"]
	hi, hasHi := exp.Params["max"]
	if !hasLo && !hasHi {
		return errorResult(exp, "value_range requires at least one of min, max")
	}

	within := true
	var detail string
	if hasLo {
		cmp, err := compareValues(field.Type.Kind, stats.Min, lo)
		if err != nil {
			return errorResult(exp, err.Error())
		}
		if cmp < 0 {
			within = false
			detail = fmt.Sprintf("observed min %v below bound %v", stats.Min, lo)
		}
	}
	if within && hasHi {
		cmp, err := compareValues(field.Type.Kind, stats.Max, hi)
		if err != nil {
			return errorResult(exp, err.Error())
		}
		if cmp > 0 {
			within = false
			detail = fmt.Sprintf("observed max %v above bound %v", stats.Max, hi)
		}
	}

	if within {
		return Result{ExpectationID: exp.ID, Status: StatusPass, Observed: observed}
	}
	return Result{
		ExpectationID: exp.ID,
		Status:        StatusFail,
		Observed:      observed,
		Message:       detail,
	}
}

func evaluateUniqueness(input Input, exp Expectation) Result {
	if exp.Column == "" {
		return errorResult(exp, "uniqueness requires a column")
	}
	if _, ok := input.Schema.FieldByName(exp.Column, types.DefaultCompare()); !ok {
		return errorResult(exp, fmt.Sprintf("column %q not present in schema", exp.Column))
	}
	stats, ok := input.Stats.Column(exp.Column)
	if !ok {
		return errorResult(exp, fmt.Sprintf("no statistics supplied for column %q", exp.Column))
	}
	if stats.DistinctCount == nil {
		return errorResult(exp, fmt.Sprintf("distinct count missing for column %q", exp.Column))
	}

	distinct := *stats.DistinctCount
	if distinct == input.Stats.RowCount {
		return Result{ExpectationID: exp.ID, Status: StatusPass, Observed: distinct}
	}
	return Result{
		ExpectationID: exp.ID,
		Status:        StatusFail,
		Observed:      distinct,
		Message: fmt.Sprintf("column %q has %d distinct values across %d rows",
			exp.Column, distinct, input.Stats.RowCount),
	}
}

// checkBounds evaluates an integer observation against optional min/max
// params. At least one bound must be configured.
func checkBounds(exp Expectation, observed int64, what string) Result {
	lo, hasLo, err := intParam(exp.Params, "min")
	if err != nil {
		return errorResult(exp, err.Error())
	}
	hi, hasHi, err := intParam(exp.Params, "max")
	if err != nil {
		return errorResult(exp, err.Error())
	}
	if !hasLo && !hasHi {
		return errorResult(exp, fmt.Sprintf("%s expectation requires at least one of min, max", exp.Kind))
	}

	if hasLo && observed < lo {
		return Result{
			ExpectationID: exp.ID,
			Status:        StatusFail,
			Observed:      observed,
			Message:       fmt.Sprintf("%s %d below minimum %d", what, observed, lo),
		}
	}
	if hasHi && observed > hi {
		return Result{
			ExpectationID: exp.ID,
			Status:        StatusFail,
			Observed:      observed,
			Message:       fmt.Sprintf("%s %d above maximum %d", what, observed, hi),
		}
	}
	return Result{ExpectationID: exp.ID, Status: StatusPass, Observed: observed}
}

func errorResult(exp Expectation, message string) Result {
	return Result{ExpectationID: exp.ID, Status: StatusError, Message: message}
}

// intParam extracts an integer parameter, accepting the numeric types the
// YAML and JSON decoders produce.
func intParam(params map[string]any, key string) (int64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case float64:
		return int64(n), true, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parameter %q is not an integer: %v", key, v)
		}
		return parsed, true, nil
	default:
		return 0, false, fmt.Errorf("parameter %q is not an integer: %v", key, v)
	}
}

// stringSliceParam extracts a string sequence parameter.
func stringSliceParam(params map[string]any, key string) ([]string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false
	}
	switch seq := v.(type) {
	case []string:
		return seq, true
	case []any:
		out := make([]string, len(seq))
		for i, item := range seq {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// compareValues compares an observed statistic against a configured bound
// under the column's type: exact decimal arithmetic for DECIMAL, float64
// for INTEGER/FLOAT, lexical comparison for STRING and TIMESTAMP.
func compareValues(kind types.TypeKind, observed, bound any) (int, error) {
	switch kind {
	case types.KindDecimal:
		od, err := toDecimal(observed)
		if err != nil {
			return 0, fmt.Errorf("observed value %v is not decimal: %v", observed, err)
		}
		bd, err := toDecimal(bound)
		if err != nil {
			return 0, fmt.Errorf("bound %v is not decimal: %v", bound, err)
		}
		return od.Cmp(bd), nil
	case types.KindInteger, types.KindFloat:
		of, err := toFloat(observed)
		if err != nil {
			return 0, err
		}
		bf, err := toFloat(bound)
		if err != nil {
			return 0, err
		}
		switch {
		case of < bf:
			return -1, nil
		case of > bf:
			return 1, nil
		}
		return 0, nil
	case types.KindString, types.KindTimestamp:
		os := fmt.Sprint(observed)
		bs := fmt.Sprint(bound)
		switch {
		case os < bs:
			return -1, nil
		case os > bs:
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("type %s is not orderable", kind)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.NewFromString(fmt.Sprint(v))
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
