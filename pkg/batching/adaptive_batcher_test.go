package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"icetable/pkg/types"
)

func testRow(i int) types.Row {
	return types.Row{"n": types.Int64(int64(i))}
}

func TestAdaptiveBatcher_FlushesOnSize(t *testing.T) {
	b := NewAdaptiveBatcher(AdaptiveBatchConfig{InitialBatchSize: 3, MaxBatchSize: 3, MinBatchSize: 3}, nil)
	require.NoError(t, b.Start())
	defer b.Stop()

	require.NoError(t, b.Add(testRow(1)))
	require.NoError(t, b.Add(testRow(2)))
	require.NoError(t, b.Add(testRow(3)))

	batch, ok := b.TryGetBatch()
	require.True(t, ok)
	assert.Len(t, batch, 3)
}

func TestAdaptiveBatcher_FlushesOnTimer(t *testing.T) {
	b := NewAdaptiveBatcher(AdaptiveBatchConfig{
		InitialBatchSize:  100,
		MaxBatchSize:      100,
		InitialFlushDelay: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, b.Start())
	defer b.Stop()

	require.NoError(t, b.Add(testRow(1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := b.GetBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestAdaptiveBatcher_RunFlushLoopCallsFlushFunc(t *testing.T) {
	b := NewAdaptiveBatcher(AdaptiveBatchConfig{InitialBatchSize: 2, MaxBatchSize: 2, MinBatchSize: 2}, nil)
	require.NoError(t, b.Start())

	var mu sync.Mutex
	var flushed []types.Row
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = b.RunFlushLoop(ctx, func(_ context.Context, rows []types.Row) error {
			mu.Lock()
			flushed = append(flushed, rows...)
			mu.Unlock()
			close(done)
			return nil
		})
	}()

	require.NoError(t, b.Add(testRow(1)))
	require.NoError(t, b.Add(testRow(2)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush func was never called")
	}

	mu.Lock()
	assert.Len(t, flushed, 2)
	mu.Unlock()

	cancel()
	_ = b.Stop()
}

// TestAdaptiveBatcher_NoGoroutineLeak verifies Stop tears down both the
// adaptation loop and the flush timer goroutine cleanly.
func TestAdaptiveBatcher_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.*"),
	)

	b := NewAdaptiveBatcher(AdaptiveBatchConfig{
		InitialBatchSize:   10,
		MaxBatchSize:        10,
		AdaptationInterval:  5 * time.Millisecond,
		InitialFlushDelay:   5 * time.Millisecond,
	}, nil)
	require.NoError(t, b.Start())
	require.NoError(t, b.Add(testRow(1)))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Stop())
}
