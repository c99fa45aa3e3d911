//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/wave-archive/internal/adapter/kafka"
	"github.com/couchcryptid/wave-archive/internal/config"
	"github.com/couchcryptid/wave-archive/internal/pipeline"
)

const testTopic = "wave-store-events-test"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestCompletionEventRoundTrip verifies that kafka.Writer publishes reports
// real consumers can decode: keyed by date, outcome in the headers, and the
// full event in the JSON payload.
func TestCompletionEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testTopic,
	}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	start := time.Date(2024, time.April, 26, 6, 0, 0, 0, time.UTC)
	success := &pipeline.Report{
		Date:  "20240426",
		Store: "/stores/20240426.zarr",
		Steps: []int{0, 1, 2, 4},
		Variables: []pipeline.VariableOutcome{
			{Name: "swh", Steps: 4},
			{Name: "ws", Steps: 4},
		},
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
	}
	failure := &pipeline.Report{
		Date:       "20240427",
		Error:      "no cataloged records decoded",
		StartedAt:  start.Add(time.Minute),
		FinishedAt: start.Add(time.Minute + time.Second),
	}

	require.NoError(t, writer.PublishReport(ctx, success))
	require.NoError(t, writer.PublishReport(ctx, failure))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     "test-consumer",
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	first := readEvent(ctx, t, consumer)
	assert.Equal(t, "20240426", first.Date)
	assert.Equal(t, "success", first.Outcome)
	assert.Equal(t, "/stores/20240426.zarr", first.Store)
	assert.Equal(t, []string{"swh", "ws"}, first.Variables)
	assert.Equal(t, 4, first.Steps)
	assert.Equal(t, int64(42000), first.DurationMS)

	second := readEvent(ctx, t, consumer)
	assert.Equal(t, "20240427", second.Date)
	assert.Equal(t, "error", second.Outcome)
	assert.Empty(t, second.Store)
	assert.Contains(t, second.Error, "no cataloged records")
}

func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) kafka.Event {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from events topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Contains(t, headers, "outcome")
	_, err = time.Parse(time.RFC3339, headers["published_at"])
	assert.NoError(t, err, "published_at should be valid RFC3339")

	var event kafka.Event
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal event")
	assert.Equal(t, string(msg.Key), event.Date)
	assert.Equal(t, headers["outcome"], event.Outcome)
	return event
}
