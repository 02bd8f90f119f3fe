// Command icetable-worker runs the background operators — Merge and
// TombstoneCleanup — on their own timers, idempotently, per spec.md §9
// ("Timer-driven background work. ... The core should expose these as
// three idempotent operations and leave scheduling to callers"). Its
// ticker-loop shape follows the teacher's
// pkg/positions/checkpoint_manager.go checkpointLoop.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"icetable/internal/bootstrap"
	"icetable/internal/config"
	"icetable/pkg/icerrors"
	"icetable/pkg/table"

	"github.com/sirupsen/logrus"
)

func main() {
	var configFile, partitionCol string
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&partitionCol, "partition-column", "d", "row column used to build partition keys")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger := bootstrap.NewLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t, _, err := bootstrap.BuildTable(ctx, cfg, bootstrap.ColumnPartition(partitionCol), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build table")
	}

	logger.WithFields(logrus.Fields{
		"merge_interval":   cfg.Merge.Interval,
		"cleanup_interval": cfg.Cleanup.Interval,
	}).Info("icetable-worker starting")

	var wg sync.WaitGroup
	wg.Add(2)
	go runLoop(ctx, &wg, logger, "merge", cfg.Merge.Interval, func() error {
		return runMergePass(ctx, t, cfg, logger)
	})
	go runLoop(ctx, &wg, logger, "cleanup", cfg.Cleanup.Interval, func() error {
		_, err := t.TombstoneCleanup(ctx, cfg.Cleanup.MinAge.Milliseconds())
		return err
	})

	wg.Wait()
	logger.Info("icetable-worker stopped")
	os.Exit(0)
}

// runMergePass drains every eligible partition in one tick rather than
// merging just one, so a backlog doesn't accumulate indefinitely between
// ticks — Merge itself only ever touches the single lowest-keyed eligible
// partition per call (spec.md §4.4).
func runMergePass(ctx context.Context, t *table.Table, cfg *config.Config, logger *logrus.Logger) error {
	for {
		result, err := t.Merge(ctx, table.MergeOptions{
			MaxFileCount: cfg.Merge.MaxFileCount,
			MaxFileSize:  cfg.Merge.MaxFileSize,
		})
		if err != nil {
			if icerrors.IsMergeNothingEligible(err) {
				return nil
			}
			return err
		}
		logger.WithFields(logrus.Fields{
			"partition":    result.Partition,
			"merged_files": len(result.MergedFiles),
			"new_file":     result.NewFile.Path,
		}).Info("merged partition")
	}
}

func runLoop(ctx context.Context, wg *sync.WaitGroup, logger *logrus.Logger, name string, interval time.Duration, pass func() error) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pass(); err != nil {
				logger.WithFields(logrus.Fields{"loop": name, "error": err.Error()}).Error("background pass failed")
			}
		}
	}
}
