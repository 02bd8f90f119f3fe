package columnar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"icetable/pkg/codec"
	"icetable/pkg/types"
)

// ArrowEngine implements Engine over Apache Arrow's Parquet reader/writer.
// It's the production path: the demo programs construct their Table with
// this engine through internal/bootstrap. The table and sweep tests use the
// in-memory FakeEngine instead.
type ArrowEngine struct {
	mem memory.Allocator
}

func NewArrowEngine() *ArrowEngine {
	return &ArrowEngine{mem: memory.NewGoAllocator()}
}

func arrowCompression(alg codec.Algorithm) compress.Compression {
	switch alg {
	case codec.Zstd:
		return compress.Codecs.Zstd
	case codec.Gzip:
		return compress.Codecs.Gzip
	case codec.LZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Snappy
	}
}

func arrowType(t types.ColumnType) arrow.DataType {
	switch t {
	case types.TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case types.TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case types.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func columnTypeFromArrow(t arrow.DataType) types.ColumnType {
	switch t.ID() {
	case arrow.INT64:
		return types.TypeInt64
	case arrow.FLOAT64:
		return types.TypeDouble
	case arrow.BOOL:
		return types.TypeBool
	default:
		return types.TypeVarchar
	}
}

// orderedColumns returns schema's column names, in a stable order: since
// Schema is a Go map, we sort for determinism (the teacher's pattern of
// never relying on Go map iteration order for anything observable).
func orderedColumns(schema types.Schema) []string {
	cols := make([]string, 0, len(schema))
	for c := range schema {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (e *ArrowEngine) Encode(rows []types.Row, schema types.Schema, alg codec.Algorithm) ([]byte, error) {
	cols := orderedColumns(schema)
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c, Type: arrowType(schema[c]), Nullable: true}
	}
	arrSchema := arrow.NewSchema(fields, nil)

	bldr := array.NewRecordBuilder(e.mem, arrSchema)
	defer bldr.Release()

	for _, row := range rows {
		for i, c := range cols {
			v, present := row[c]
			fb := bldr.Field(i)
			if !present || v.Kind == types.KindNull {
				fb.AppendNull()
				continue
			}
			switch schema[c] {
			case types.TypeInt64:
				fb.(*array.Int64Builder).Append(v.I)
			case types.TypeDouble:
				fb.(*array.Float64Builder).Append(v.F)
			case types.TypeBool:
				fb.(*array.BooleanBuilder).Append(v.B)
			default:
				fb.(*array.StringBuilder).Append(valueAsString(v))
			}
		}
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(arrowCompression(alg)))
	arrProps := pqarrow.DefaultWriterProps()
	writer, err := pqarrow.NewFileWriter(arrSchema, &buf, props, arrProps)
	if err != nil {
		return nil, fmt.Errorf("columnar: new parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return nil, fmt.Errorf("columnar: write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("columnar: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *ArrowEngine) Decode(data []byte) ([]types.Row, types.Schema, error) {
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: new parquet reader: %w", err)
	}
	defer reader.Close()

	fileReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, e.mem)
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: new arrow file reader: %w", err)
	}

	table, err := fileReader.ReadTable(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("columnar: read table: %w", err)
	}
	defer table.Release()

	schema := types.Schema{}
	for _, f := range table.Schema().Fields() {
		schema[f.Name] = columnTypeFromArrow(f.Type)
	}

	rows := make([]types.Row, table.NumRows())
	for i := range rows {
		rows[i] = types.Row{}
	}

	for colIdx := 0; colIdx < int(table.NumCols()); colIdx++ {
		col := table.Column(colIdx)
		name := table.Schema().Field(colIdx).Name
		ct := schema[name]

		rowIdx := 0
		for _, chunk := range col.Data().Chunks() {
			n := chunk.Len()
			for j := 0; j < n; j++ {
				if chunk.IsNull(j) {
					rowIdx++
					continue
				}
				rows[rowIdx][name] = valueFromArray(chunk, j, ct)
				rowIdx++
			}
		}
	}
	return rows, schema, nil
}

func (e *ArrowEngine) Schema(data []byte) (types.Schema, error) {
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("columnar: new parquet reader: %w", err)
	}
	defer reader.Close()

	fileReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, e.mem)
	if err != nil {
		return nil, fmt.Errorf("columnar: new arrow file reader: %w", err)
	}
	schema, err := fileReader.Schema()
	if err != nil {
		return nil, fmt.Errorf("columnar: read schema: %w", err)
	}
	out := types.Schema{}
	for _, f := range schema.Fields() {
		out[f.Name] = columnTypeFromArrow(f.Type)
	}
	return out, nil
}

func valueAsString(v types.Value) string {
	switch v.Kind {
	case types.KindString:
		return v.S
	case types.KindRaw:
		return string(v.Raw)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func valueFromArray(arr arrow.Array, idx int, ct types.ColumnType) types.Value {
	switch ct {
	case types.TypeInt64:
		return types.Int64(arr.(*array.Int64).Value(idx))
	case types.TypeDouble:
		return types.Float64(arr.(*array.Float64).Value(idx))
	case types.TypeBool:
		return types.Bool(arr.(*array.Boolean).Value(idx))
	default:
		return types.String(arr.(*array.String).Value(idx))
	}
}

