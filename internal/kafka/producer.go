// Package kafka publishes finalized calls for downstream analytics
// consumers. The dashboard itself never reads these topics.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"callwatch/internal/calls"

	"github.com/segmentio/kafka-go"
)

// Producer writes one message per finalized call, keyed by call_id so a
// compacted topic keeps the latest archive row per call.
type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: log,
	}
}

// PublishFinalized sends the finalized call. Implements ingest.ArchivePublisher.
func (p *Producer) PublishFinalized(ctx context.Context, c calls.Call) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.CallID),
		Value: data,
	})
	if err != nil {
		return err
	}
	p.log.Debug("finalized call published", "call_id", c.CallID, "outcome", c.Outcome)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error { return p.writer.Close() }
