// Command icetable-filetail watches a directory for files matching a glob,
// tails each one, and inserts one row per line. Grounded on the teacher's
// file discovery (fsnotify-driven directory watch) and tail-position
// tracking, adapted from appending to a processing pipeline's dispatcher
// to feeding the micro-batcher -> Table.Insert.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"icetable/internal/bootstrap"
	"icetable/internal/config"
	"icetable/pkg/batching"
	"icetable/pkg/types"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"
)

func main() {
	var configFile, dir, glob, partitionCol string
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&dir, "dir", ".", "directory to watch for files to tail")
	flag.StringVar(&glob, "glob", "*.log", "glob pattern (relative to -dir) selecting files to tail")
	flag.StringVar(&partitionCol, "partition-column", "file", "row column used to build partition keys")
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

	batcher := batching.NewAdaptiveBatcher(batching.AdaptiveBatchConfig{
		MinBatchSize:      cfg.Batching.MinBatchSize,
		MaxBatchSize:      cfg.Batching.MaxBatchSize,
		InitialBatchSize:  cfg.Batching.InitialBatchSize,
		InitialFlushDelay: cfg.Batching.InitialFlushDelay,
	}, logger)
	if err := batcher.Start(); err != nil {
		logger.WithError(err).Fatal("failed to start batcher")
	}
	go func() {
		if err := batcher.RunFlushLoop(ctx, func(ctx context.Context, rows []types.Row) error {
			_, err := t.Insert(ctx, rows)
			return err
		}); err != nil {
			logger.WithError(err).Error("flush loop exited")
		}
	}()

	d := &discovery{dir: dir, glob: glob, batcher: batcher, logger: logger, tailed: map[string]bool{}}
	if err := d.scanExisting(); err != nil {
		logger.WithError(err).Fatal("failed to scan existing files")
	}
	go d.watch(ctx)

	logger.WithFields(logrus.Fields{"dir": dir, "glob": glob}).Info("icetable-filetail running")
	<-ctx.Done()
	d.wg.Wait()
	batcher.Stop()
}

// discovery watches dir for files matching glob and starts a tail goroutine
// for each one it hasn't seen yet, following the teacher's
// watch-directory-then-tail-new-files pattern.
type discovery struct {
	dir, glob string
	batcher   *batching.AdaptiveBatcher
	logger    *logrus.Logger

	mu     sync.Mutex
	tailed map[string]bool
	wg     sync.WaitGroup
}

func (d *discovery) scanExisting() error {
	matches, err := filepath.Glob(filepath.Join(d.dir, d.glob))
	if err != nil {
		return err
	}
	for _, m := range matches {
		d.startTail(m)
	}
	return nil
}

func (d *discovery) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.WithError(err).Error("failed to start fsnotify watcher")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		d.logger.WithError(err).Error("failed to watch directory")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if ok, _ := filepath.Match(d.glob, filepath.Base(ev.Name)); ok {
				d.startTail(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.WithError(err).Warn("fsnotify watcher error")
		}
	}
}

func (d *discovery) startTail(path string) {
	d.mu.Lock()
	if d.tailed[path] {
		d.mu.Unlock()
		return
	}
	d.tailed[path] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.tailFile(path)
}

func (d *discovery) tailFile(path string) {
	defer d.wg.Done()

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: os.SEEK_END},
	})
	if err != nil {
		d.logger.WithFields(logrus.Fields{"file": path, "error": err.Error()}).Error("failed to tail file")
		return
	}

	for line := range t.Lines {
		if line.Err != nil {
			d.logger.WithFields(logrus.Fields{"file": path, "error": line.Err.Error()}).Warn("tail error")
			continue
		}
		row := types.Row{
			"file":    types.String(filepath.Base(path)),
			"message": types.String(line.Text),
			"ts":      types.Int64(time.Now().UnixMilli()),
			"d":       types.String(time.Now().UTC().Format("2006-01-02")),
		}
		if err := d.batcher.Add(row); err != nil {
			return
		}
	}
}
