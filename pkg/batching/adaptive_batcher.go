// Package batching implements the in-memory micro-batcher that buffers
// rows ahead of Table.Insert, per SPEC_FULL.md §4.10. It is explicitly
// non-core (spec.md §1/§9 names the micro-batcher as an out-of-scope
// external collaborator) but is exercised by every cmd/icetable-* ingest
// demo.
package batching

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"icetable/pkg/types"

	"github.com/sirupsen/logrus"
)

// AdaptiveBatcher accumulates rows and flushes them either when the
// current batch size is reached or a timer fires, shrinking/growing
// both knobs based on observed flush latency and throughput.
type AdaptiveBatcher struct {
	config AdaptiveBatchConfig
	logger *logrus.Logger

	// Current batch settings
	currentBatchSize  int32
	currentFlushDelay int64 // nanoseconds

	// Performance tracking
	averageLatency    int64 // nanoseconds
	throughputCounter int64
	lastFlushTime     int64 // unix nanoseconds

	// Batch state
	batch      []types.Row
	batchMutex sync.Mutex
	flushTimer *time.Timer
	timerMutex sync.Mutex

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	flushChan chan []types.Row

	// Statistics
	stats      BatchingStats
	statsMutex sync.RWMutex
}

// AdaptiveBatchConfig configures an AdaptiveBatcher.
type AdaptiveBatchConfig struct {
	MinBatchSize       int           `yaml:"min_batch_size"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	InitialBatchSize   int           `yaml:"initial_batch_size"`
	MinFlushDelay      time.Duration `yaml:"min_flush_delay"`
	MaxFlushDelay      time.Duration `yaml:"max_flush_delay"`
	InitialFlushDelay  time.Duration `yaml:"initial_flush_delay"`
	AdaptationInterval time.Duration `yaml:"adaptation_interval"`
	LatencyThreshold   time.Duration `yaml:"latency_threshold"`
	ThroughputTarget   int           `yaml:"throughput_target"`
	BufferSize         int           `yaml:"buffer_size"`
}

// BatchingStats reports batching performance.
type BatchingStats struct {
	TotalBatches       int64   `json:"total_batches"`
	TotalItems         int64   `json:"total_items"`
	CurrentBatchSize   int32   `json:"current_batch_size"`
	CurrentFlushDelay  int64   `json:"current_flush_delay_ms"`
	AverageLatency     int64   `json:"average_latency_ms"`
	ThroughputPerSec   float64 `json:"throughput_per_sec"`
	AdaptationCount    int64   `json:"adaptation_count"`
	BackpressureEvents int64   `json:"backpressure_events"`
}

// FlushFunc consumes one flushed batch, typically by calling
// Table.Insert. A non-nil error is logged by RunFlushLoop; rows in a
// failed batch are dropped — per spec.md §4.3, a caller that needs
// stronger delivery guarantees re-inserts at a higher level.
type FlushFunc func(ctx context.Context, rows []types.Row) error

// NewAdaptiveBatcher creates a new adaptive batcher, filling in defaults
// for any zero-valued config field.
func NewAdaptiveBatcher(config AdaptiveBatchConfig, logger *logrus.Logger) *AdaptiveBatcher {
	if config.MinBatchSize <= 0 {
		config.MinBatchSize = 10
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1000
	}
	if config.InitialBatchSize <= 0 {
		config.InitialBatchSize = 100
	}
	if config.MinFlushDelay == 0 {
		config.MinFlushDelay = 50 * time.Millisecond
	}
	if config.MaxFlushDelay == 0 {
		config.MaxFlushDelay = 10 * time.Second
	}
	if config.InitialFlushDelay == 0 {
		config.InitialFlushDelay = 1 * time.Second
	}
	if config.AdaptationInterval == 0 {
		config.AdaptationInterval = 30 * time.Second
	}
	if config.LatencyThreshold == 0 {
		config.LatencyThreshold = 500 * time.Millisecond
	}
	if config.ThroughputTarget <= 0 {
		config.ThroughputTarget = 1000
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AdaptiveBatcher{
		config:            config,
		logger:            logger,
		currentBatchSize:  int32(config.InitialBatchSize),
		currentFlushDelay: int64(config.InitialFlushDelay),
		ctx:               ctx,
		cancel:            cancel,
		flushChan:         make(chan []types.Row, config.BufferSize/config.MaxBatchSize+1),
		lastFlushTime:     time.Now().UnixNano(),
		batch:             make([]types.Row, 0, config.MaxBatchSize),
	}
}

// Start begins the adaptation loop. Call RunFlushLoop separately (in its
// own goroutine) to drain flushed batches into Table.Insert.
func (ab *AdaptiveBatcher) Start() error {
	ab.isRunning = true
	go ab.adaptationLoop()
	ab.logger.Info("adaptive batcher started")
	return nil
}

// Stop flushes any remaining buffered rows and halts the batcher.
func (ab *AdaptiveBatcher) Stop() error {
	if !ab.isRunning {
		return nil
	}
	ab.cancel()
	ab.isRunning = false

	ab.batchMutex.Lock()
	if len(ab.batch) > 0 {
		ab.flushBatchUnsafe()
	}
	ab.batchMutex.Unlock()

	close(ab.flushChan)
	ab.logger.Info("adaptive batcher stopped")
	return nil
}

// Add buffers one row, flushing immediately if the current (adaptively
// sized) batch threshold is reached.
func (ab *AdaptiveBatcher) Add(row types.Row) error {
	if !ab.isRunning {
		return ErrBatcherStopped
	}

	ab.batchMutex.Lock()
	defer ab.batchMutex.Unlock()

	ab.batch = append(ab.batch, row)
	atomic.AddInt64(&ab.stats.TotalItems, 1)

	currentSize := int(atomic.LoadInt32(&ab.currentBatchSize))
	if len(ab.batch) >= currentSize {
		ab.flushBatchUnsafe()
		return nil
	}

	ab.resetFlushTimer()
	return nil
}

// GetBatch blocks until a batch is ready to flush, or ctx/the batcher's
// own shutdown is done.
func (ab *AdaptiveBatcher) GetBatch(ctx context.Context) ([]types.Row, error) {
	select {
	case batch, ok := <-ab.flushChan:
		if !ok {
			return nil, ErrBatcherStopped
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ab.ctx.Done():
		return nil, ErrBatcherStopped
	}
}

// TryGetBatch returns the next ready batch without blocking.
func (ab *AdaptiveBatcher) TryGetBatch() ([]types.Row, bool) {
	select {
	case batch, ok := <-ab.flushChan:
		return batch, ok
	default:
		return nil, false
	}
}

// RunFlushLoop drains flushed batches and hands each to flush, typically
// `Table.Insert`. It returns once ctx is cancelled or the batcher stops.
func (ab *AdaptiveBatcher) RunFlushLoop(ctx context.Context, flush FlushFunc) error {
	for {
		batch, err := ab.GetBatch(ctx)
		if err != nil {
			if err == ErrBatcherStopped || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := flush(ctx, batch); err != nil {
			ab.logger.WithFields(logrus.Fields{"rows": len(batch), "error": err.Error()}).
				Error("micro-batcher flush failed, rows dropped")
		}
	}
}

func (ab *AdaptiveBatcher) resetFlushTimer() {
	ab.timerMutex.Lock()
	defer ab.timerMutex.Unlock()

	if ab.flushTimer != nil {
		ab.flushTimer.Stop()
	}

	delay := time.Duration(atomic.LoadInt64(&ab.currentFlushDelay))
	ab.flushTimer = time.AfterFunc(delay, func() {
		ab.batchMutex.Lock()
		defer ab.batchMutex.Unlock()
		if len(ab.batch) > 0 {
			ab.flushBatchUnsafe()
		}
	})
}

// flushBatchUnsafe must be called with batchMutex held.
func (ab *AdaptiveBatcher) flushBatchUnsafe() {
	if len(ab.batch) == 0 {
		return
	}

	start := time.Now()

	batchCopy := make([]types.Row, len(ab.batch))
	copy(batchCopy, ab.batch)
	ab.batch = ab.batch[:0]

	select {
	case ab.flushChan <- batchCopy:
		atomic.AddInt64(&ab.stats.TotalBatches, 1)
		ab.updateLatency(time.Since(start).Nanoseconds())
		atomic.StoreInt64(&ab.lastFlushTime, time.Now().UnixNano())
	default:
		atomic.AddInt64(&ab.stats.BackpressureEvents, 1)
		ab.logger.Warn("batch channel full, keeping rows buffered for the next flush")
		ab.batch = append(ab.batch, batchCopy...)
	}

	ab.timerMutex.Lock()
	if ab.flushTimer != nil {
		ab.flushTimer.Stop()
		ab.flushTimer = nil
	}
	ab.timerMutex.Unlock()
}

func (ab *AdaptiveBatcher) updateLatency(latency int64) {
	currentAvg := atomic.LoadInt64(&ab.averageLatency)
	if currentAvg == 0 {
		atomic.StoreInt64(&ab.averageLatency, latency)
	} else {
		newAvg := (currentAvg*9 + latency) / 10
		atomic.StoreInt64(&ab.averageLatency, newAvg)
	}
}

func (ab *AdaptiveBatcher) adaptationLoop() {
	ticker := time.NewTicker(ab.config.AdaptationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ab.adaptParameters()
		case <-ab.ctx.Done():
			return
		}
	}
}

func (ab *AdaptiveBatcher) adaptParameters() {
	currentLatency := atomic.LoadInt64(&ab.averageLatency)
	currentThroughput := ab.calculateThroughput()

	currentBatchSize := int(atomic.LoadInt32(&ab.currentBatchSize))
	currentFlushDelay := time.Duration(atomic.LoadInt64(&ab.currentFlushDelay))

	newBatchSize := currentBatchSize
	newFlushDelay := currentFlushDelay
	adapted := false

	if currentLatency > int64(ab.config.LatencyThreshold) {
		if currentBatchSize > ab.config.MinBatchSize {
			newBatchSize = maxInt(ab.config.MinBatchSize, currentBatchSize*8/10)
			adapted = true
		}
		if currentFlushDelay > ab.config.MinFlushDelay {
			newFlushDelay = maxDuration(ab.config.MinFlushDelay, currentFlushDelay*8/10)
			adapted = true
		}
	} else if currentThroughput < float64(ab.config.ThroughputTarget) {
		if currentBatchSize < ab.config.MaxBatchSize {
			newBatchSize = minInt(ab.config.MaxBatchSize, currentBatchSize*12/10)
			adapted = true
		}
		if currentFlushDelay < ab.config.MaxFlushDelay {
			newFlushDelay = minDuration(ab.config.MaxFlushDelay, currentFlushDelay*11/10)
			adapted = true
		}
	}

	if adapted {
		atomic.StoreInt32(&ab.currentBatchSize, int32(newBatchSize))
		atomic.StoreInt64(&ab.currentFlushDelay, int64(newFlushDelay))
		atomic.AddInt64(&ab.stats.AdaptationCount, 1)

		ab.logger.WithFields(logrus.Fields{
			"old_batch_size":      currentBatchSize,
			"new_batch_size":      newBatchSize,
			"old_flush_delay":     currentFlushDelay,
			"new_flush_delay":     newFlushDelay,
			"current_latency":     time.Duration(currentLatency),
			"current_throughput":  currentThroughput,
		}).Debug("adapted batching parameters")
	}
}

func (ab *AdaptiveBatcher) calculateThroughput() float64 {
	now := time.Now().UnixNano()
	lastFlush := atomic.LoadInt64(&ab.lastFlushTime)
	if lastFlush == 0 {
		return 0
	}
	timeDiff := float64(now-lastFlush) / 1e9
	if timeDiff == 0 {
		return 0
	}
	totalItems := atomic.LoadInt64(&ab.stats.TotalItems)
	atomic.StoreInt64(&ab.throughputCounter, totalItems)
	return float64(totalItems) / timeDiff
}

// GetStats returns a snapshot of current batching statistics.
func (ab *AdaptiveBatcher) GetStats() BatchingStats {
	ab.statsMutex.RLock()
	defer ab.statsMutex.RUnlock()

	stats := ab.stats
	stats.CurrentBatchSize = atomic.LoadInt32(&ab.currentBatchSize)
	stats.CurrentFlushDelay = atomic.LoadInt64(&ab.currentFlushDelay) / 1e6
	stats.AverageLatency = atomic.LoadInt64(&ab.averageLatency) / 1e6
	stats.ThroughputPerSec = ab.calculateThroughput()
	return stats
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ErrBatcherStopped is returned by Add/GetBatch once the batcher has
// been stopped.
var ErrBatcherStopped = fmt.Errorf("batcher is stopped")
