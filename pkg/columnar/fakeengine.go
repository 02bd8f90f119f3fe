package columnar

import (
	"encoding/json"
	"fmt"

	"icetable/pkg/codec"
	"icetable/pkg/types"
)

// FakeEngine is an in-memory stand-in for Engine, used by the table tests
// in place of ArrowEngine: it round-trips rows through JSON rather than
// actual Parquet, so tests assert on row-level semantics (partitioning,
// log folding, tombstone lifecycle) without depending on the columnar
// format itself. It still enforces the single-schema-per-file contract
// Encode documents, so it catches the same misuse ArrowEngine would.
type FakeEngine struct{}

type fakeFile struct {
	Schema types.Schema `json:"schema"`
	Rows   []types.Row  `json:"rows"`
}

func (FakeEngine) Encode(rows []types.Row, schema types.Schema, alg codec.Algorithm) ([]byte, error) {
	for _, row := range rows {
		for col, v := range row {
			t, ok := types.InferColumnType(v)
			if !ok {
				continue
			}
			if existing, ok := schema[col]; ok && existing != t {
				return nil, fmt.Errorf("columnar: row column %q type %s does not match file schema type %s", col, t, existing)
			}
		}
	}
	data, err := json.Marshal(fakeFile{Schema: schema, Rows: rows})
	if err != nil {
		return nil, err
	}
	return codec.Compress(alg, data)
}

func (FakeEngine) Decode(data []byte) ([]types.Row, types.Schema, error) {
	// Decode is not told which algorithm encoded data, so it tries each
	// supported algorithm in turn and returns the first result that parses
	// as a fake file. Uncompressed bytes are not accepted.
	for _, alg := range []codec.Algorithm{codec.Snappy, codec.Zstd, codec.Gzip, codec.LZ4} {
		if raw, err := codec.Decompress(alg, data); err == nil {
			var f fakeFile
			if err := json.Unmarshal(raw, &f); err == nil {
				return f.Rows, f.Schema, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("columnar: fake engine could not decode file")
}

func (f FakeEngine) Schema(data []byte) (types.Schema, error) {
	_, schema, err := f.Decode(data)
	return schema, err
}
