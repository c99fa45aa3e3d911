package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/wave-archive/internal/config"
	"github.com/couchcryptid/wave-archive/internal/pipeline"
)

// Event is the completion record published after each date attempt. A failed
// date carries Error and no Store.
type Event struct {
	Date        string    `json:"date"`
	Store       string    `json:"store,omitempty"`
	Variables   []string  `json:"variables,omitempty"`
	Steps       int       `json:"steps,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	PublishedAt time.Time `json:"published_at"`
}

// Writer produces completion events to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured events topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishReport serializes a date's report into a completion event and
// writes it to the events topic.
func (w *Writer) PublishReport(ctx context.Context, rep *pipeline.Report) error {
	msg, err := serializeReport(rep)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeReport marshals a report into a Kafka message keyed by date.
func serializeReport(rep *pipeline.Report) (kafkago.Message, error) {
	event := Event{
		Date:        rep.Date,
		Store:       rep.Store,
		Variables:   rep.WrittenVariables(),
		Steps:       len(rep.Steps),
		Outcome:     "success",
		Error:       rep.Error,
		DurationMS:  rep.Duration().Milliseconds(),
		PublishedAt: rep.FinishedAt,
	}
	if rep.Failed() {
		event.Outcome = "error"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize completion event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(event.Outcome)},
			{Key: "published_at", Value: []byte(event.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}
