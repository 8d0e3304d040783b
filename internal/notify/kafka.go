package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

// KafkaPublisher streams detected anomalies to a Kafka topic so downstream
// consumers (dashboards, pagers) see them without polling the API.
type KafkaPublisher struct {
	logger *slog.Logger
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher writing to topic on the given brokers.
func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		logger: logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishAnomaly writes the anomaly as a JSON message keyed by its signal so
// entries for the same (service, metric) land on the same partition.
func (p *KafkaPublisher) PublishAnomaly(ctx context.Context, anomaly models.Anomaly) error {
	payload, err := json.Marshal(anomaly)
	if err != nil {
		return utils.NewAppError("notify.PublishAnomaly", "marshal anomaly", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(anomaly.Fingerprint()),
		Value: payload,
		Time:  anomaly.DetectedAt,
	})
	if err != nil {
		return utils.NewAppError("notify.PublishAnomaly", "write message", err)
	}

	p.logger.Debug("anomaly published",
		slog.String("signal", anomaly.Fingerprint()),
		slog.String("topic", p.writer.Topic))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
