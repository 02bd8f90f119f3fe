// Package types holds the row, schema, and file-marker types shared across
// the table format: the partitioner, the columnar engine, the log codec,
// and the operators all speak this vocabulary.
package types

import (
	"encoding/json"
	"fmt"
)

// Kind tags which branch of Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindString
	KindBool
	KindRaw // pre-encoded JSON, used for nested/object values
)

// Value is a scalar row payload: exactly one of the typed fields is valid,
// as indicated by Kind. Rows are opaque to the core beyond this.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	S    string
	B    bool
	Raw  json.RawMessage
}

func Null() Value                  { return Value{Kind: KindNull} }
func Int64(v int64) Value          { return Value{Kind: KindInt64, I: v} }
func Float64(v float64) Value      { return Value{Kind: KindFloat64, F: v} }
func String(v string) Value        { return Value{Kind: KindString, S: v} }
func Bool(v bool) Value            { return Value{Kind: KindBool, B: v} }
func JSON(v json.RawMessage) Value { return Value{Kind: KindRaw, S: string(v), Raw: v} }

// Row is an unordered mapping from column name to scalar value. Rows carry
// no identity; the core treats them as opaque payloads.
type Row map[string]Value

// ColumnType is the storage type tag a column is assigned in the Schema.
type ColumnType string

const (
	TypeInt64   ColumnType = "INT64"
	TypeDouble  ColumnType = "DOUBLE"
	TypeVarchar ColumnType = "VARCHAR"
	TypeBool    ColumnType = "BOOL"
)

// Schema maps a column name to its storage type. Schema only grows: once a
// column is assigned a type, later log entries may add columns but must not
// change the type of an existing one.
type Schema map[string]ColumnType

// Clone returns an independent copy, since Schema is mutated in place by
// folding and union operations.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// InferColumnType derives the storage type of a single value. A Null value
// carries no type information and is skipped by callers.
func InferColumnType(v Value) (ColumnType, bool) {
	switch v.Kind {
	case KindInt64:
		return TypeInt64, true
	case KindFloat64:
		return TypeDouble, true
	case KindString, KindRaw:
		return TypeVarchar, true
	case KindBool:
		return TypeBool, true
	default:
		return "", false
	}
}

// RowSchema infers the per-column types observed in a single row.
func RowSchema(r Row) Schema {
	s := make(Schema, len(r))
	for col, v := range r {
		if t, ok := InferColumnType(v); ok {
			s[col] = t
		}
	}
	return s
}

// UnionSchema merges incoming into base, by column name. A column whose
// type in incoming disagrees with its type in base is a schema conflict —
// the type of a given column, once assigned, never changes.
func UnionSchema(base, incoming Schema) (Schema, error) {
	out := base.Clone()
	for col, t := range incoming {
		if existing, ok := out[col]; ok {
			if existing != t {
				return nil, &SchemaConflictError{Column: col, Existing: existing, Incoming: t}
			}
			continue
		}
		out[col] = t
	}
	return out, nil
}

// SchemaConflictError reports an attempt to assign a second type to an
// already-typed column.
type SchemaConflictError struct {
	Column             string
	Existing, Incoming ColumnType
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict on column %q: existing type %s, incoming type %s", e.Column, e.Existing, e.Incoming)
}

// Equal reports whether two schemas carry the same column->type mapping.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if other[k] != v {
			return false
		}
	}
	return true
}

// FileMarker is the in-memory record summarizing one data file as observed
// by the log reader: path, size, row count, partition, and tombstone state.
type FileMarker struct {
	Path      string `json:"path"`
	Bytes     int64  `json:"bytes"`
	Rows      int64  `json:"rows"`
	Partition string `json:"partition"`
	// Tombstone is the millisecond timestamp the file was tombstoned at,
	// or nil if the file is still alive.
	Tombstone *int64 `json:"tombstone,omitempty"`
}

// Alive reports whether the marker has no tombstone.
func (m *FileMarker) Alive() bool { return m.Tombstone == nil }
