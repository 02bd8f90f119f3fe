// Command icetable-dockerlogs tails every running container's stdout and
// stderr, turns each line into a row, and feeds the micro-batcher ->
// Table.Insert. Grounded on the teacher's internal/docker client
// construction (github.com/docker/docker/client), repointed from the
// log-capture agent's container monitor at table ingestion.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"strings"
	"sync"
	"time"

	"icetable/internal/bootstrap"
	"icetable/internal/config"
	"icetable/pkg/batching"
	"icetable/pkg/types"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

func main() {
	var configFile, partitionCol string
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&partitionCol, "partition-column", "container", "row column used to build partition keys")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger := bootstrap.NewLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t, _, err := bootstrap.BuildTable(ctx, cfg, bootstrap.ColumnPartition(partitionCol), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build table")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.WithError(err).Fatal("failed to build docker client")
	}
	defer cli.Close()

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

	containers, err := cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		logger.WithError(err).Fatal("failed to list containers")
	}

	var wg sync.WaitGroup
	for _, c := range containers {
		name := strings.TrimPrefix(firstOrEmpty(c.Names), "/")
		wg.Add(1)
		go tailContainer(ctx, &wg, cli, c.ID, name, batcher, logger)
	}
	wg.Wait()
	batcher.Stop()
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// tailContainer streams one container's combined stdout/stderr and turns
// each line into a row carrying the container name, the message, the
// observation time in milliseconds, and the day it was observed (for the
// partition key). Which of the two streams a line came from is not recorded.
func tailContainer(ctx context.Context, wg *sync.WaitGroup, cli *client.Client, id, name string, batcher *batching.AdaptiveBatcher, logger *logrus.Logger) {
	defer wg.Done()

	reader, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"container": name, "error": err.Error()}).Error("failed to stream container logs")
		return
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		row := types.Row{
			"container": types.String(name),
			"message":   types.String(line),
			"ts":        types.Int64(time.Now().UnixMilli()),
			"d":         types.String(time.Now().UTC().Format("2006-01-02")),
		}
		if err := batcher.Add(row); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		logger.WithFields(logrus.Fields{"container": name, "error": err.Error()}).Warn("log stream ended with error")
	}
}
