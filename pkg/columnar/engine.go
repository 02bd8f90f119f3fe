// Package columnar defines the columnar writer/reader contract the core
// consumes (spec.md §6's "columnar engine contract"): encode rows to an
// immutable file, decode a file back to rows, introspect its schema. The
// analytic query engine used for ad-hoc SQL is a separate, out-of-scope
// collaborator (spec.md §1) — this package only covers the row<->file
// boundary the Insert/Merge/Rewrite operators need directly.
package columnar

import (
	"icetable/pkg/codec"
	"icetable/pkg/types"
)

// Engine converts between in-memory rows and an encoded columnar file.
// Implementations never see object-store paths; Table reads/writes bytes
// through objectstore.Store and hands them to Engine.
type Engine interface {
	// Encode writes rows (which must already share a single schema) to a
	// new file's bytes, using the given compression algorithm. ArrowEngine
	// writes columns in ascending name order; the order in which columns
	// were first observed is not preserved.
	Encode(rows []types.Row, schema types.Schema, alg codec.Algorithm) ([]byte, error)

	// Decode parses a file's bytes back into rows and the schema observed
	// in that file.
	Decode(data []byte) ([]types.Row, types.Schema, error)

	// Schema introspects a file's column name -> type mapping without
	// materializing every row. No operator in this package calls it today
	// (Decode already returns the observed schema alongside the rows);
	// it's part of the contract for a caller that wants to inspect a data
	// file's columns without paying for a full decode.
	Schema(data []byte) (types.Schema, error)
}

// Concat reads every input file and returns the union of their rows, in
// file order then row order — the default merge behavior (spec.md §4.4)
// when no custom aggregation query is supplied. It's idempotent at the
// row level only when inputs are disjoint, per spec.md §4.4/§9.
func Concat(e Engine, files [][]byte) ([]types.Row, types.Schema, error) {
	var allRows []types.Row
	schema := types.Schema{}
	for _, data := range files {
		rows, s, err := e.Decode(data)
		if err != nil {
			return nil, nil, err
		}
		merged, err := types.UnionSchema(schema, s)
		if err != nil {
			return nil, nil, err
		}
		schema = merged
		allRows = append(allRows, rows...)
	}
	return allRows, schema, nil
}
