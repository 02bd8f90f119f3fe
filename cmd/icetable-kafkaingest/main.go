// Command icetable-kafkaingest consumes a Kafka topic and inserts one row
// per message. Grounded on the teacher's internal/sinks/kafka_sink.go
// Sarama config and SCRAM client construction — adapted from "sink"
// (writing logs out to Kafka) to "source" (consuming events in).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"icetable/internal/bootstrap"
	"icetable/internal/config"
	"icetable/pkg/batching"
	"icetable/pkg/types"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"
)

func main() {
	var configFile, brokers, topic, group, partitionCol string
	var saslUser, saslPass string
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&brokers, "brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	flag.StringVar(&topic, "topic", "events", "Kafka topic to consume")
	flag.StringVar(&group, "group", "icetable-kafkaingest", "consumer group id")
	flag.StringVar(&partitionCol, "partition-column", "d", "row column used to build partition keys")
	flag.StringVar(&saslUser, "sasl-user", "", "SCRAM username, empty disables SASL")
	flag.StringVar(&saslPass, "sasl-password", "", "SCRAM password")
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

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V2_8_0_0
	if saslUser != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaCfg.Net.SASL.User = saslUser
		saramaCfg.Net.SASL.Password = saslPass
		saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scram.SHA256}
		}
	}

	client, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), group, saramaCfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to build kafka consumer group")
	}
	defer client.Close()

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

	handler := &consumerHandler{batcher: batcher, logger: logger}
	go func() {
		for {
			if err := client.Consume(ctx, []string{topic}, handler); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Warn("consumer group session ended, rejoining")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	logger.WithFields(logrus.Fields{"topic": topic, "group": group}).Info("icetable-kafkaingest running")
	<-ctx.Done()
	batcher.Stop()
}

// consumerHandler turns each Kafka message into a row. A message whose
// value isn't valid JSON is wrapped under a "raw" column rather than
// dropped, per spec.md §7: only a partition/format function error fails
// the downstream insert, never malformed input on its own.
type consumerHandler struct {
	batcher *batching.AdaptiveBatcher
	logger  *logrus.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		row := messageToRow(msg)
		if err := h.batcher.Add(row); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func messageToRow(msg *sarama.ConsumerMessage) types.Row {
	var obj map[string]interface{}
	if err := json.Unmarshal(msg.Value, &obj); err != nil {
		return types.Row{
			"raw":       types.String(string(msg.Value)),
			"topic":     types.String(msg.Topic),
			"partition": types.Int64(int64(msg.Partition)),
			"ts":        types.Int64(msg.Timestamp.UnixMilli()),
			"d":         types.String(msg.Timestamp.UTC().Format("2006-01-02")),
		}
	}
	row := make(types.Row, len(obj)+1)
	for k, v := range obj {
		row[k] = jsonToValue(v)
	}
	if _, ok := row["d"]; !ok {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		row["d"] = types.String(ts.UTC().Format("2006-01-02"))
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

// scramClient adapts xdg-go/scram to sarama's SCRAMClient interface, the
// same wiring the teacher's kafka sink used for its SASL/SCRAM producer.
type scramClient struct {
	*scram.Client
	scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.Client = client
	c.conv = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv.Done()
}
