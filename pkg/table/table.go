// Package table implements the five core operators (spec.md §4.3-4.7):
// Insert, Merge, TombstoneCleanup, RemovePartitions, RewritePartition. All
// state is derived by folding the log (package snapshot); Table itself
// holds no durable state beyond what's already on object storage.
package table

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"icetable/pkg/codec"
	"icetable/pkg/columnar"
	"icetable/pkg/expr"
	"icetable/pkg/icerrors"
	"icetable/pkg/logformat"
	"icetable/pkg/metrics"
	"icetable/pkg/objectstore"
	"icetable/pkg/snapshot"
	"icetable/pkg/tracing"
	"icetable/pkg/types"
)

// PartitionFunc computes a row's partition key, per spec.md §6.
type PartitionFunc func(types.Row) (string, error)

// FormatFunc applies a per-row transform before partitioning, per
// spec.md §6. A nil FormatFunc is the identity.
type FormatFunc func(types.Row) (types.Row, error)

// MergeQueryFunc re-aggregates a merge's input rows into the output rows,
// standing in for a caller-supplied custom merge query (spec.md §4.4):
// the analytic engine that would normally run a SQL string against
// `source_files` is out of scope, so custom aggregation is expressed as a
// plain Go function over the already-decoded rows instead.
type MergeQueryFunc func(rows []types.Row) ([]types.Row, error)

// Table is the entry point for all five operators against one bucket
// prefix. It is safe to share across goroutines and processes: every
// mutation is a single log append, and conflict resolution is purely by
// log-filename ordering and tombstoning (spec.md §5), never by a lock
// held here.
type Table struct {
	Store  objectstore.Store
	Prefix string
	Engine columnar.Engine
	Codec  codec.Algorithm

	Partition PartitionFunc
	Format    FormatFunc
	// SortKeys lists the columns each partition's rows are stably sorted
	// by before being written, per spec.md §4.3 step 3.
	SortKeys []string

	Logger  *logrus.Logger
	Tracer  *tracing.TracingManager
	Author  string

	// now is overridable in tests; defaults to time.Now at construction.
	now func() time.Time
}

// Option configures a Table at construction time.
type Option func(*Table)

func WithCodec(alg codec.Algorithm) Option { return func(t *Table) { t.Codec = alg } }
func WithSortKeys(cols ...string) Option   { return func(t *Table) { t.SortKeys = cols } }
func WithFormat(f FormatFunc) Option       { return func(t *Table) { t.Format = f } }
func WithLogger(l *logrus.Logger) Option   { return func(t *Table) { t.Logger = l } }
func WithTracer(tm *tracing.TracingManager) Option { return func(t *Table) { t.Tracer = tm } }
func WithAuthor(author string) Option      { return func(t *Table) { t.Author = author } }
func withClock(now func() time.Time) Option { return func(t *Table) { t.now = now } }

// New builds a Table over prefix. partition is required; every other
// concern has a usable default (snappy, no sort keys, identity format,
// a disabled tracer, a logrus default logger).
func New(store objectstore.Store, prefix string, engine columnar.Engine, partition PartitionFunc, opts ...Option) (*Table, error) {
	if partition == nil {
		return nil, fmt.Errorf("table: partition function is required")
	}
	t := &Table{
		Store:     store,
		Prefix:    prefix,
		Engine:    engine,
		Codec:     codec.Default,
		Partition: partition,
		Logger:    logrus.New(),
		Author:    "icetable",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Tracer == nil {
		tm, err := tracing.NewTracingManager(tracing.DefaultTracingConfig(), t.Logger)
		if err != nil {
			return nil, err
		}
		t.Tracer = tm
	}
	return t, nil
}

func (t *Table) nowMs() int64 { return t.now().UnixMilli() }

func (t *Table) reader() *snapshot.Reader {
	return snapshot.NewReader(t.Store, t.Prefix, t.Logger)
}

func (t *Table) appendLog(ctx context.Context, marker logformat.Marker, entry logformat.Entry) (string, error) {
	entry.Header.By = t.Author
	data, err := logformat.Encode(entry)
	if err != nil {
		return "", fmt.Errorf("table: encode log entry: %w", err)
	}
	fn := logformat.NewLogFilename(t.Prefix, marker, t.nowMs())
	if err := t.Store.Put(ctx, fn.Path(), data); err != nil {
		return "", icerrors.ObjectStoreError("table", "append_log", fn.Path(), err)
	}
	return fn.Path(), nil
}

// Insert partitions, sorts, and writes rows as new columnar files, then
// appends a single `i`-marker log file recording them (spec.md §4.3).
// Insert is not atomic across partitions before the log append: a writer
// failure on one partition leaves already-written files as invisible
// orphans, since no log entry will ever reference them.
func (t *Table) Insert(ctx context.Context, rows []types.Row) ([]*types.FileMarker, error) {
	var result []*types.FileMarker
	var insertErr error
	_ = t.Tracer.Operator(tracing.SpanInsert).Execute(ctx, func(tc *tracing.TraceableContext) error {
		tc.SetAttribute("rows", len(rows))
		start := time.Now()
		markers, err := t.insert(tc.Context(), rows)
		metrics.InsertDuration.Observe(time.Since(start).Seconds())
		result, insertErr = markers, err
		if err != nil {
			if icerrors.IsEmptyInsert(err) {
				metrics.InsertsTotal.WithLabelValues("empty").Inc()
				// Not a span-level error: an empty insert is documented as
				// a no-op, so don't record it as a failed span.
				return nil
			}
			metrics.InsertsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.InsertsTotal.WithLabelValues("ok").Inc()
		return nil
	})
	return result, insertErr
}

func (t *Table) insert(ctx context.Context, rows []types.Row) ([]*types.FileMarker, error) {
	if len(rows) == 0 {
		return nil, icerrors.ErrEmptyInsert
	}

	byPartition := map[string][]types.Row{}
	newSchema := types.Schema{}
	for _, raw := range rows {
		row := raw
		if t.Format != nil {
			formatted, err := t.Format(row)
			if err != nil {
				return nil, icerrors.PartitionFunctionError("table", "format", err)
			}
			row = formatted
		}
		key, err := t.Partition(row)
		if err != nil {
			return nil, icerrors.PartitionFunctionError("table", "partition", err)
		}
		byPartition[key] = append(byPartition[key], row)
		merged, err := types.UnionSchema(newSchema, types.RowSchema(row))
		if err != nil {
			return nil, icerrors.SchemaConflictErr("table", "insert", err)
		}
		newSchema = merged
	}

	snap, err := t.reader().ReadAtMaxTime(ctx, t.nowMs())
	if err != nil {
		return nil, err
	}
	finalSchema, err := types.UnionSchema(snap.Schema, newSchema)
	if err != nil {
		return nil, icerrors.SchemaConflictErr("table", "insert", err)
	}

	partitions := sortedKeys(byPartition)
	var fileAdds []logformat.FileAddRecord
	var markers []*types.FileMarker
	for _, partition := range partitions {
		group := byPartition[partition]
		if len(group) == 0 {
			continue
		}
		sortRows(group, t.SortKeys)

		data, err := t.Engine.Encode(group, finalSchema, t.Codec)
		if err != nil {
			return nil, icerrors.WriteFailedError("table", "insert", partition, err)
		}
		path := logformat.DataFilePath(t.Prefix, partition)
		if err := t.Store.Put(ctx, path, data); err != nil {
			return nil, icerrors.ObjectStoreError("table", "insert", path, err)
		}
		marker := &types.FileMarker{Path: path, Bytes: int64(len(data)), Rows: int64(len(group)), Partition: partition}
		markers = append(markers, marker)
		fileAdds = append(fileAdds, logformat.FileAddRecord{Path: path, Bytes: marker.Bytes, Rows: marker.Rows, Partition: partition})
		metrics.InsertedRowsTotal.WithLabelValues(partition).Add(float64(len(group)))
	}

	entry := logformat.Entry{FileAdds: fileAdds}
	if !finalSchema.Equal(snap.Schema) {
		s := finalSchema
		entry.Schema = &s
	}
	if _, err := t.appendLog(ctx, logformat.MarkerInsert, entry); err != nil {
		return nil, err
	}
	return markers, nil
}

// MergeOptions bounds one Merge call, per spec.md §4.4.
type MergeOptions struct {
	MaxFileCount int64 // default small, per spec.md §4.4
	MaxFileSize  int64 // default small
	Query        MergeQueryFunc
}

func (o MergeOptions) withDefaults() MergeOptions {
	if o.MaxFileCount <= 0 {
		o.MaxFileCount = 8
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 64 << 20
	}
	return o
}

// MergeResult reports what one Merge call did.
type MergeResult struct {
	NewLogPath  string
	NewFile     *types.FileMarker
	Partition   string
	MergedFiles []string
}

// Merge compacts the lowest-keyed eligible partition's oldest files into
// one new file (spec.md §4.4). Returns icerrors.ErrMergeNothingEligible
// if no partition qualifies — the caller's cue to stop looping, not a
// failure.
//
// Two concurrent merges may select overlapping inputs; both log appends
// succeed (no mutual exclusion is provided, spec.md §4.4/§9). The default
// concatenation is idempotent at the row level only when inputs are
// disjoint across the concurrent merges.
func (t *Table) Merge(ctx context.Context, opts MergeOptions) (*MergeResult, error) {
	opts = opts.withDefaults()
	var result *MergeResult
	var mergeErr error
	_ = t.Tracer.Operator(tracing.SpanMerge).Execute(ctx, func(tc *tracing.TraceableContext) error {
		start := time.Now()
		r, err := t.merge(tc.Context(), opts)
		metrics.MergeDuration.Observe(time.Since(start).Seconds())
		result, mergeErr = r, err
		if err != nil {
			if icerrors.IsMergeNothingEligible(err) {
				metrics.MergesTotal.WithLabelValues("nothing_eligible").Inc()
				return nil
			}
			metrics.MergesTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.MergesTotal.WithLabelValues("ok").Inc()
		if r != nil {
			tc.SetAttribute("partition", r.Partition)
			tc.SetAttribute("merged_files", len(r.MergedFiles))
		}
		return nil
	})
	return result, mergeErr
}

func (t *Table) merge(ctx context.Context, opts MergeOptions) (*MergeResult, error) {
	snap, err := t.reader().ReadAtMaxTime(ctx, t.nowMs())
	if err != nil {
		return nil, err
	}

	byPartition := snap.AliveByPartition()
	var eligible []string
	for partition, files := range byPartition {
		if len(files) < 2 {
			continue
		}
		oversized := false
		for _, f := range files {
			if f.Bytes > opts.MaxFileSize {
				oversized = true
				break
			}
		}
		if oversized {
			continue
		}
		eligible = append(eligible, partition)
	}
	if len(eligible) == 0 {
		return nil, icerrors.ErrMergeNothingEligible
	}
	sort.Strings(eligible)
	partition := eligible[0]

	files := append([]*types.FileMarker(nil), byPartition[partition]...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if int64(len(files)) > opts.MaxFileCount {
		files = files[:opts.MaxFileCount]
	}

	var blobs [][]byte
	var mergedPaths []string
	for _, f := range files {
		data, err := t.Store.Get(ctx, f.Path)
		if err != nil {
			return nil, icerrors.ObjectStoreError("table", "merge", f.Path, err)
		}
		blobs = append(blobs, data)
		mergedPaths = append(mergedPaths, f.Path)
	}

	outRows, outSchema, err := columnar.Concat(t.Engine, blobs)
	if err != nil {
		return nil, icerrors.WriteFailedError("table", "merge", partition, err)
	}
	if opts.Query != nil {
		outRows, err = opts.Query(outRows)
		if err != nil {
			return nil, icerrors.PartitionFunctionError("table", "merge_query", err)
		}
	}

	data, err := t.Engine.Encode(outRows, outSchema, t.Codec)
	if err != nil {
		return nil, icerrors.WriteFailedError("table", "merge", partition, err)
	}
	outPath := logformat.DataFilePath(t.Prefix, partition)
	if err := t.Store.Put(ctx, outPath, data); err != nil {
		return nil, icerrors.ObjectStoreError("table", "merge", outPath, err)
	}

	ts := t.nowMs()
	var tombstones []logformat.FileTombstoneRecord
	for _, p := range mergedPaths {
		tombstones = append(tombstones, logformat.FileTombstoneRecord{Path: p, Ts: ts})
	}
	outMarker := &types.FileMarker{Path: outPath, Bytes: int64(len(data)), Rows: int64(len(outRows)), Partition: partition}
	entry := logformat.Entry{
		FileAdds: []logformat.FileAddRecord{
			{Path: outPath, Bytes: outMarker.Bytes, Rows: outMarker.Rows, Partition: partition},
		},
		FileTombstones: tombstones,
	}
	logPath, err := t.appendLog(ctx, logformat.MarkerMerge, entry)
	if err != nil {
		return nil, err
	}

	return &MergeResult{NewLogPath: logPath, NewFile: outMarker, Partition: partition, MergedFiles: mergedPaths}, nil
}

// CleanupResult reports what one TombstoneCleanup pass did.
type CleanupResult struct {
	CleanedLogPath    string
	DeletedLogPaths   []string
	DeletedDataPaths  []string
}

// TombstoneCleanup physically deletes data files tombstoned at least
// minAgeMs ago, deletes `_i_` log files that a log-tombstone already names
// once their own filename timestamp is at least minAgeMs old, and emits one
// compacted
// `_m_` log folding every remaining `_i_` log (spec.md §4.5). Only `_i_`
// logs are ever folded; a `_m_` log produced by a previous cleanup is
// never itself re-compacted (spec.md §9).
//
// This is the only operator that physically deletes data. Repeating a
// cleanup at the same instant is a no-op: cleanup(T); cleanup(T) ≡
// cleanup(T), since the second pass finds nothing left to fold or delete.
func (t *Table) TombstoneCleanup(ctx context.Context, minAgeMs int64) (*CleanupResult, error) {
	var result *CleanupResult
	err := t.Tracer.Operator(tracing.SpanTombstoneCleanup).Execute(ctx, func(tc *tracing.TraceableContext) error {
		r, err := t.cleanup(tc.Context(), minAgeMs)
		result = r
		if err != nil {
			return err
		}
		metrics.TombstoneCleanupsTotal.Inc()
		metrics.DataFilesDeletedTotal.Add(float64(len(r.DeletedDataPaths)))
		metrics.LogFilesDeletedTotal.Add(float64(len(r.DeletedLogPaths)))
		return nil
	})
	return result, err
}

func (t *Table) cleanup(ctx context.Context, minAgeMs int64) (*CleanupResult, error) {
	now := t.nowMs()
	snap, err := t.reader().ReadAtMaxTime(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}

	// Step 1: physically delete data files tombstoned long enough ago.
	stillAlive := map[string]*types.FileMarker{}
	for path, marker := range snap.Files {
		if marker.Tombstone != nil && now-*marker.Tombstone >= minAgeMs {
			if err := t.Store.Delete(ctx, path); err != nil {
				t.Logger.WithFields(logrus.Fields{"path": path, "error": err.Error()}).
					Warn("tombstone cleanup: best-effort data delete failed")
				continue
			}
			result.DeletedDataPaths = append(result.DeletedDataPaths, path)
			continue
		}
		stillAlive[path] = marker
	}

	// Step 2: delete log files already named in a log-tombstone record,
	// once they're old enough.
	var iLogs []logformat.Filename
	for _, fn := range snap.LogFiles {
		if fn.Marker != logformat.MarkerInsert {
			continue
		}
		if snap.LogTombstones[fn.Path()] {
			if now-fn.TimeMs >= minAgeMs {
				if err := t.Store.Delete(ctx, fn.Path()); err != nil {
					t.Logger.WithFields(logrus.Fields{"path": fn.Path(), "error": err.Error()}).
						Warn("tombstone cleanup: best-effort log delete failed")
					continue
				}
				result.DeletedLogPaths = append(result.DeletedLogPaths, fn.Path())
			}
			continue
		}
		iLogs = append(iLogs, fn)
	}

	if len(iLogs) == 0 {
		return result, nil
	}

	// Step 3: compact the remaining _i_ logs into one _m_ log.
	var fileAdds []logformat.FileAddRecord
	var fileTombstones []logformat.FileTombstoneRecord
	for path, marker := range stillAlive {
		fileAdds = append(fileAdds, logformat.FileAddRecord{
			Path: path, Bytes: marker.Bytes, Rows: marker.Rows, Partition: marker.Partition,
		})
		if marker.Tombstone != nil {
			fileTombstones = append(fileTombstones, logformat.FileTombstoneRecord{Path: path, Ts: *marker.Tombstone})
		}
	}
	var logTombstones []logformat.LogTombstoneRecord
	for _, fn := range iLogs {
		logTombstones = append(logTombstones, logformat.LogTombstoneRecord{Path: fn.Path()})
	}

	schema := snap.Schema
	entry := logformat.Entry{
		Schema:         &schema,
		FileAdds:       fileAdds,
		FileTombstones: fileTombstones,
		LogTombstones:  logTombstones,
	}
	logPath, err := t.appendLog(ctx, logformat.MarkerMerge, entry)
	if err != nil {
		return nil, err
	}
	result.CleanedLogPath = logPath
	return result, nil
}

// RemovePartitions tombstones every alive file in the partitions selector
// returns, in one log append. No physical delete — TombstoneCleanup
// handles that later (spec.md §4.6).
func (t *Table) RemovePartitions(ctx context.Context, selector func(partitions []string) []string) ([]string, error) {
	var removed []string
	err := t.Tracer.Operator(tracing.SpanRemovePartitions).Execute(ctx, func(tc *tracing.TraceableContext) error {
		snap, err := t.reader().ReadAtMaxTime(tc.Context(), t.nowMs())
		if err != nil {
			return err
		}
		byPartition := snap.AliveByPartition()
		all := sortedMarkerKeys(byPartition)
		toRemove := selector(all)
		removed = toRemove
		if len(toRemove) == 0 {
			return nil
		}
		ts := t.nowMs()
		var tombstones []logformat.FileTombstoneRecord
		for _, partition := range toRemove {
			for _, f := range byPartition[partition] {
				tombstones = append(tombstones, logformat.FileTombstoneRecord{Path: f.Path, Ts: ts})
			}
		}
		if len(tombstones) == 0 {
			return nil
		}
		_, err = t.appendLog(tc.Context(), logformat.MarkerMerge, logformat.Entry{FileTombstones: tombstones})
		return err
	})
	return removed, err
}

// RewritePartition materializes transform over every alive file in
// partition into one new file, then tombstones every file that was alive
// in that partition beforehand (spec.md §4.7). If transform yields zero
// rows, no replacement file is written; the prior files are still
// tombstoned.
func (t *Table) RewritePartition(ctx context.Context, partition string, transform func(rows []types.Row) ([]types.Row, error)) (*types.FileMarker, error) {
	var result *types.FileMarker
	err := t.Tracer.Operator(tracing.SpanRewritePartition).Execute(ctx, func(tc *tracing.TraceableContext) error {
		ctx := tc.Context()
		snap, err := t.reader().ReadAtMaxTime(ctx, t.nowMs())
		if err != nil {
			return err
		}
		files := snap.AliveByPartition()[partition]
		if len(files) == 0 {
			return nil
		}

		var blobs [][]byte
		for _, f := range files {
			data, err := t.Store.Get(ctx, f.Path)
			if err != nil {
				return icerrors.ObjectStoreError("table", "rewrite_partition", f.Path, err)
			}
			blobs = append(blobs, data)
		}
		rows, schema, err := columnar.Concat(t.Engine, blobs)
		if err != nil {
			return icerrors.WriteFailedError("table", "rewrite_partition", partition, err)
		}
		rows, err = transform(rows)
		if err != nil {
			return icerrors.PartitionFunctionError("table", "rewrite_partition", err)
		}

		ts := t.nowMs()
		var fileAdds []logformat.FileAddRecord
		if len(rows) > 0 {
			data, err := t.Engine.Encode(rows, schema, t.Codec)
			if err != nil {
				return icerrors.WriteFailedError("table", "rewrite_partition", partition, err)
			}
			path := logformat.DataFilePath(t.Prefix, partition)
			if err := t.Store.Put(ctx, path, data); err != nil {
				return icerrors.ObjectStoreError("table", "rewrite_partition", path, err)
			}
			result = &types.FileMarker{Path: path, Bytes: int64(len(data)), Rows: int64(len(rows)), Partition: partition}
			fileAdds = append(fileAdds, logformat.FileAddRecord{Path: path, Bytes: result.Bytes, Rows: result.Rows, Partition: partition})
		}

		var tombstones []logformat.FileTombstoneRecord
		for _, f := range files {
			tombstones = append(tombstones, logformat.FileTombstoneRecord{Path: f.Path, Ts: ts})
		}
		_, err = t.appendLog(ctx, logformat.MarkerMerge, logformat.Entry{FileAdds: fileAdds, FileTombstones: tombstones})
		return err
	})
	return result, err
}

// Snapshot exposes a read-only fold for callers that just want the
// current alive set (e.g. the orphan sweeper, the analytic engine's
// `source_files` view).
func (t *Table) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	return t.reader().ReadAtMaxTime(ctx, t.nowMs())
}

// RewriteWithExpression is a convenience wrapper for the common case of
// filtering rows by a govaluate predicate, per spec.md §4.7's example
// (`event != 'page_load'`).
func (t *Table) RewriteWithExpression(ctx context.Context, partition, expression string) (*types.FileMarker, error) {
	return t.RewritePartition(ctx, partition, func(rows []types.Row) ([]types.Row, error) {
		return expr.FilterRows(rows, expression)
	})
}

func sortedKeys(m map[string][]types.Row) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMarkerKeys(m map[string][]*types.FileMarker) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortRows stably sorts rows by the configured sort-key columns, per
// spec.md §4.3 step 3. Values are compared as strings; a row missing a
// sort key sorts as if that column were "".
func sortRows(rows []types.Row, keys []string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, b := sortValue(rows[i][k]), sortValue(rows[j][k])
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func sortValue(v types.Value) string {
	switch v.Kind {
	case types.KindInt64:
		return fmt.Sprintf("%020d", v.I)
	case types.KindFloat64:
		return fmt.Sprintf("%020f", v.F)
	case types.KindString:
		return v.S
	case types.KindBool:
		if v.B {
			return "1"
		}
		return "0"
	case types.KindRaw:
		return string(v.Raw)
	default:
		return ""
	}
}
