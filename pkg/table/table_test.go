package table

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"icetable/pkg/columnar"
	"icetable/pkg/icerrors"
	"icetable/pkg/objectstore"
	"icetable/pkg/types"
)

func userPartition(row types.Row) (string, error) {
	user := row["user_id"].S
	return fmt.Sprintf("u=%s", user), nil
}

func newTestTable(t *testing.T, dir string, clock func() time.Time) *Table {
	t.Helper()
	store := objectstore.NewLocalStore(dir)
	tbl, err := New(store, "events", columnar.FakeEngine{}, userPartition, withClock(clock))
	require.NoError(t, err)
	return tbl
}

func row(ts int64, event, user string) types.Row {
	return types.Row{
		"ts":         types.Int64(ts),
		"event":      types.String(event),
		"user_id":    types.String(user),
		"properties": types.JSON([]byte("{}")),
	}
}

func scenarioARows() []types.Row {
	return []types.Row{
		row(1686176939445, "page_load", "a"),
		row(1676126229999, "page_load", "b"),
		row(1686176939666, "something_else", "a"),
	}
}

func countByUser(rows []types.Row) map[string]int {
	out := map[string]int{}
	for _, r := range rows {
		out[r["user_id"].S]++
	}
	return out
}

func aliveRows(t *testing.T, tbl *Table, ctx context.Context) []types.Row {
	t.Helper()
	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	var all []types.Row
	for _, marker := range snap.AliveFiles() {
		data, err := tbl.Store.Get(ctx, marker.Path)
		require.NoError(t, err)
		rows, _, err := tbl.Engine.Decode(data)
		require.NoError(t, err)
		all = append(all, rows...)
	}
	return all
}

// TestScenarios runs spec scenarios A-F as one ordered sequence, since
// later scenarios build on the state earlier ones leave behind.
func TestScenarios(t *testing.T) {
	ctx := context.Background()
	clockMs := int64(1700000000000)
	clock := func() time.Time { return time.UnixMilli(clockMs) }
	tbl := newTestTable(t, t.TempDir(), clock)

	// Scenario A: basic insert+query.
	_, err := tbl.Insert(ctx, scenarioARows())
	require.NoError(t, err)
	got := countByUser(aliveRows(t, tbl, ctx))
	require.Equal(t, map[string]int{"a": 2, "b": 1}, got)

	// Scenario B: repeated insert grows counts linearly.
	clockMs += 1000
	_, err = tbl.Insert(ctx, scenarioARows())
	require.NoError(t, err)
	clockMs += 1000
	_, err = tbl.Insert(ctx, scenarioARows())
	require.NoError(t, err)
	got = countByUser(aliveRows(t, tbl, ctx))
	require.Equal(t, map[string]int{"a": 6, "b": 3}, got)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.LogFiles, 3)
	require.Len(t, snap.AliveFiles(), 6)

	// Scenario C: merge reduces file count in the larger partition (u=a
	// has 3 files, u=b has 3 files too since each insert wrote a b file
	// as well once; merge picks the lowest-keyed eligible partition,
	// u=a, by construction here since it also qualifies).
	clockMs += 1000
	result, err := tbl.Merge(ctx, MergeOptions{MaxFileCount: 2})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.MergedFiles, 2)

	snap, err = tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.AliveFiles(), 5) // one merge: 6 -> 5
	got = countByUser(aliveRows(t, tbl, ctx))
	require.Equal(t, map[string]int{"a": 6, "b": 3}, got)

	// Scenario D: tombstone-cleanup after enough merges collapses tombstoned
	// files and compacts the log.
	clockMs += 1000
	for {
		_, err := tbl.Merge(ctx, MergeOptions{MaxFileCount: 2})
		if icerrors.IsMergeNothingEligible(err) {
			break
		}
		require.NoError(t, err)
		clockMs += 1000
	}
	aliveBefore := countByUser(aliveRows(t, tbl, ctx))

	cleanupResult, err := tbl.TombstoneCleanup(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, cleanupResult.DeletedDataPaths)

	snap, err = tbl.Snapshot(ctx)
	require.NoError(t, err)
	aliveAfter := countByUser(aliveRows(t, tbl, ctx))
	require.Equal(t, aliveBefore, aliveAfter)

	// Every original insert-marker log is now folded into the compacted
	// log cleanup just wrote; merge-produced `_m_` logs are never folded
	// (spec.md §9 disallows recursive `_m_` compaction), so they remain
	// listed, but no `_i_` log should still be un-tombstoned.
	for _, fn := range snap.LogFiles {
		if fn.Marker == "i" {
			require.True(t, snap.LogTombstones[fn.Path()], "insert log %s should be folded away", fn.Path())
		}
	}

	// Scenario E: partition-remove.
	clockMs += 1000
	_, err = tbl.Insert(ctx, []types.Row{
		row(1676126229999, "page_load", "test-old"),
	})
	require.NoError(t, err)
	removePartition := "u=test-old"
	clockMs += 1000
	removed, err := tbl.RemovePartitions(ctx, func(partitions []string) []string {
		var out []string
		for _, p := range partitions {
			if p == removePartition {
				out = append(out, p)
			}
		}
		return out
	})
	require.NoError(t, err)
	require.Equal(t, []string{removePartition}, removed)

	snap, err = tbl.Snapshot(ctx)
	require.NoError(t, err)
	for _, m := range snap.AliveFiles() {
		require.NotEqual(t, removePartition, m.Partition)
	}

	// Scenario F: partition-rewrite drops page_load rows from u=a.
	clockMs += 1000
	_, err = tbl.RewriteWithExpression(ctx, "u=a", "event != 'page_load'")
	require.NoError(t, err)

	snap, err = tbl.Snapshot(ctx)
	require.NoError(t, err)
	for _, m := range snap.AliveByPartition()["u=a"] {
		data, err := tbl.Store.Get(ctx, m.Path)
		require.NoError(t, err)
		rows, _, err := tbl.Engine.Decode(data)
		require.NoError(t, err)
		for _, r := range rows {
			require.NotEqual(t, "page_load", r["event"].S)
		}
	}
}

func TestInsertEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, t.TempDir(), time.Now)
	_, err := tbl.Insert(ctx, nil)
	require.Error(t, err)
	require.True(t, icerrors.IsEmptyInsert(err))
}

func TestInsertSchemaConflict(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, t.TempDir(), time.Now)
	_, err := tbl.Insert(ctx, []types.Row{
		{"user_id": types.String("a"), "v": types.Int64(1)},
	})
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, []types.Row{
		{"user_id": types.String("a"), "v": types.String("oops")},
	})
	require.Error(t, err)
	ae, ok := err.(*icerrors.AppError)
	require.True(t, ok)
	require.Equal(t, icerrors.CodeSchemaConflict, ae.Code)
}

func TestMergeNothingEligible(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, t.TempDir(), time.Now)
	_, err := tbl.Insert(ctx, []types.Row{row(1, "page_load", "a")})
	require.NoError(t, err)

	_, err = tbl.Merge(ctx, MergeOptions{})
	require.True(t, icerrors.IsMergeNothingEligible(err))
}

func TestConcurrentInsertsDisjointPartitionsBothAlive(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t, t.TempDir(), time.Now)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = tbl.Insert(ctx, []types.Row{row(1, "page_load", "a")})
	}()
	go func() {
		defer wg.Done()
		_, errB = tbl.Insert(ctx, []types.Row{row(1, "page_load", "b")})
	}()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)

	snap, err := tbl.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.AliveFiles(), 2)
}
