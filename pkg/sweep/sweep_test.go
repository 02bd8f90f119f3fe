package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"icetable/pkg/columnar"
	"icetable/pkg/objectstore"
	"icetable/pkg/table"
	"icetable/pkg/types"
)

func TestFind_ReportsOrphanNotTracked(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewLocalStore(t.TempDir())

	tbl, err := table.New(store, "events", columnar.FakeEngine{}, func(r types.Row) (string, error) {
		return "u=" + r["user_id"].S, nil
	})
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, []types.Row{{"user_id": types.String("a"), "v": types.Int64(1)}})
	require.NoError(t, err)

	// An orphan: written directly to the partition prefix, bypassing
	// Insert, so no log file ever names it.
	require.NoError(t, store.Put(ctx, "events/u=a/orphan-123.parquet", []byte("orphan")))

	sweeper := NewSweeper(store, "events", nil)
	candidates, err := sweeper.Find(ctx, time.Now(), 0)
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	require.Equal(t, "events/u=a/orphan-123.parquet", candidates[0].Path)
}
