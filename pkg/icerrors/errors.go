// Package icerrors defines the standardized error shape surfaced by every
// core operator, following the teacher's AppError convention: a code, the
// component and operation that raised it, an optional cause, and enough
// metadata for the caller to act on without parsing strings.
package icerrors

import (
	"fmt"
	"time"
)

// Severity classifies how urgently an error needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Error codes, restricted to the kinds spec.md §7 names.
const (
	CodeObjectStore        = "OBJECT_STORE_ERROR"
	CodeCorruptLog          = "CORRUPT_LOG"
	CodeSchemaConflict      = "SCHEMA_CONFLICT"
	CodePartitionFunction   = "PARTITION_FUNCTION_ERROR"
	CodeEmptyInsert         = "EMPTY_INSERT"
	CodeMergeNothingEligible = "MERGE_NOTHING_ELIGIBLE"
	CodeWriteFailed         = "WRITE_FAILED"
)

// AppError is the error type every exported operator returns. Path or
// Partition, whichever applies, identifies what the error was about.
type AppError struct {
	Code      string
	Component string
	Operation string
	Path      string
	Partition string
	Cause     error
	Severity  Severity
	Timestamp time.Time
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s.%s", e.Code, e.Component, e.Operation)
	if e.Path != "" {
		msg += " path=" + e.Path
	}
	if e.Partition != "" {
		msg += " partition=" + e.Partition
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

func newErr(code, component, operation string, severity Severity, cause error) *AppError {
	return &AppError{
		Code:      code,
		Component: component,
		Operation: operation,
		Cause:     cause,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// ObjectStoreError wraps a transient object-store I/O failure. The core
// never retries these; retry policy belongs to the caller.
func ObjectStoreError(component, operation, path string, cause error) *AppError {
	e := newErr(CodeObjectStore, component, operation, SeverityHigh, cause)
	e.Path = path
	return e
}

// CorruptLogError reports an unparseable log line or an unknown record
// version. The core does not attempt partial recovery.
func CorruptLogError(component, operation, path string, cause error) *AppError {
	e := newErr(CodeCorruptLog, component, operation, SeverityCritical, cause)
	e.Path = path
	return e
}

// SchemaConflictErr reports that an insert would assign a new type to an
// already-typed column.
func SchemaConflictErr(component, operation string, cause error) *AppError {
	return newErr(CodeSchemaConflict, component, operation, SeverityHigh, cause)
}

// PartitionFunctionError wraps an error returned by caller-supplied code:
// the partition or format function, a merge query, a rewrite transform,
// or a predicate expression. A panic in that code is not recovered.
func PartitionFunctionError(component, operation string, cause error) *AppError {
	return newErr(CodePartitionFunction, component, operation, SeverityHigh, cause)
}

// WriteFailedError reports a columnar-writer failure on one partition.
func WriteFailedError(component, operation, partition string, cause error) *AppError {
	e := newErr(CodeWriteFailed, component, operation, SeverityHigh, cause)
	e.Partition = partition
	return e
}

// IsEmptyInsert reports whether err is the EmptyInsert sentinel — treated
// as a no-op by callers, not a failure.
func IsEmptyInsert(err error) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Code == CodeEmptyInsert
}

// ErrEmptyInsert is returned by Insert when given zero rows.
var ErrEmptyInsert = &AppError{Code: CodeEmptyInsert, Component: "table", Operation: "insert", Severity: SeverityLow}

// ErrMergeNothingEligible is returned by Merge when no partition has two or
// more alive files under max_file_size — a sentinel telling the caller's
// loop to stop, not a failure.
var ErrMergeNothingEligible = &AppError{Code: CodeMergeNothingEligible, Component: "table", Operation: "merge", Severity: SeverityLow}

// IsMergeNothingEligible reports whether err is the sentinel above.
func IsMergeNothingEligible(err error) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Code == CodeMergeNothingEligible
}
