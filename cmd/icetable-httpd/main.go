// Command icetable-httpd is the HTTP ingest front-end spec.md §1 names as
// an out-of-scope example collaborator: POST a JSON object (or array of
// objects) to /rows and it's buffered by the micro-batcher and flushed
// through Table.Insert. Grounded on github.com/gorilla/mux, a teacher
// dependency that served the original log-capture HTTP server,
// repointed here at row ingestion instead of log delivery.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"icetable/internal/bootstrap"
	"icetable/internal/config"
	"icetable/pkg/batching"
	"icetable/pkg/types"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	var configFile, addr, partitionCol string
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
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

	router := mux.NewRouter()
	router.HandleFunc("/rows", handleRows(batcher, logger)).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		batcher.Stop()
		srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", addr).Info("icetable-httpd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("http server failed")
	}
	os.Exit(0)
}

// handleRows accepts either a single JSON object or an array of objects,
// converts each to a types.Row, and hands them to the batcher. Per
// spec.md §7, a row the partition/format function rejects fails the
// whole insert downstream, not the HTTP request — this handler only
// validates that the body is well-formed JSON.
func handleRows(batcher *batching.AdaptiveBatcher, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		var objs []map[string]interface{}
		var single map[string]interface{}
		if err := json.Unmarshal(raw, &objs); err != nil {
			if err := json.Unmarshal(raw, &single); err != nil {
				http.Error(w, "body must be a JSON object or array of objects", http.StatusBadRequest)
				return
			}
			objs = []map[string]interface{}{single}
		}

		for _, obj := range objs {
			if err := batcher.Add(jsonToRow(obj)); err != nil {
				logger.WithError(err).Warn("dropping row, batcher stopped")
				http.Error(w, "ingest unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// jsonToRow converts a decoded JSON object to a types.Row, per spec.md §9's
// "adopt a tagged-value structure during insert" guidance: numbers become
// int64 when they carry no fractional part, otherwise float64; nested
// objects/arrays are re-encoded as a raw JSON string column.
func jsonToRow(obj map[string]interface{}) types.Row {
	row := make(types.Row, len(obj))
	for k, v := range obj {
		row[k] = jsonToValue(v)
	}
	return row
}

func jsonToValue(v interface{}) types.Value {
	switch val := v.(type) {
	case nil:
		return types.Null()
	case bool:
		return types.Bool(val)
	case string:
		return types.String(val)
	case float64:
		if val == float64(int64(val)) {
			return types.Int64(int64(val))
		}
		return types.Float64(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return types.String("")
		}
		return types.JSON(raw)
	}
}
