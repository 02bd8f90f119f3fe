// Package expr evaluates row-level boolean predicates without a full SQL
// engine, such as the one a partition-rewrite uses to keep/drop rows
// (e.g. `event != 'page_load'`). It has no row-transform evaluator; the
// row formatter is a Go FormatFunc. The analytic
// engine that runs true SQL (GROUP BY aggregation, joins) is the
// out-of-scope external collaborator spec.md §1 names; this package only
// covers what a single row, evaluated in isolation, needs.
package expr

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"icetable/pkg/icerrors"
	"icetable/pkg/types"
)

// Predicate compiles once and evaluates per row.
type Predicate struct {
	expr *govaluate.EvaluableExpression
	src  string
}

// CompilePredicate parses expression text once so repeated evaluation
// (once per row, per spec.md §6) doesn't re-parse.
func CompilePredicate(expression string) (*Predicate, error) {
	e, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", expression, err)
	}
	return &Predicate{expr: e, src: expression}, nil
}

// Keep evaluates the predicate against row's column values and reports
// whether the row should be kept. A non-boolean result or an evaluation
// error is reported as a PartitionFunctionError, since both arise from
// caller-supplied expression text.
func (p *Predicate) Keep(row types.Row) (bool, error) {
	params := toParameters(row)
	result, err := p.expr.Eval(params)
	if err != nil {
		return false, icerrors.PartitionFunctionError("expr", "eval", fmt.Errorf("%q: %w", p.src, err))
	}
	b, ok := result.(bool)
	if !ok {
		return false, icerrors.PartitionFunctionError("expr", "eval",
			fmt.Errorf("%q: expression did not evaluate to bool, got %T", p.src, result))
	}
	return b, nil
}

// toParameters flattens a Row into the map govaluate expects, unwrapping
// each Value to its native Go type.
func toParameters(row types.Row) map[string]interface{} {
	params := make(map[string]interface{}, len(row))
	for col, v := range row {
		switch v.Kind {
		case types.KindInt64:
			params[col] = float64(v.I) // govaluate's numeric type is float64
		case types.KindFloat64:
			params[col] = v.F
		case types.KindString:
			params[col] = v.S
		case types.KindBool:
			params[col] = v.B
		case types.KindRaw:
			params[col] = string(v.Raw)
		default:
			params[col] = nil
		}
	}
	return params
}

// FilterRows applies a compiled predicate to a row set, returning only the
// rows it keeps. Used by partition-rewrite's `_rows` virtual table filter.
func FilterRows(rows []types.Row, expression string) ([]types.Row, error) {
	pred, err := CompilePredicate(expression)
	if err != nil {
		return nil, err
	}
	out := make([]types.Row, 0, len(rows))
	for _, r := range rows {
		keep, err := pred.Keep(r)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, nil
}
