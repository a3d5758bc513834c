package repository

import (
	"context"
	"fmt"

	"OrbWatch/internal/domain/models"
	domrepo "OrbWatch/internal/domain/repository"
	"OrbWatch/pkg/kafka"
)

// KafkaAlertSink publishes alert events to a Kafka topic, keyed by symbol so
// one instrument's events stay ordered within a partition.
type KafkaAlertSink struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaAlertSink(producer *kafka.Producer, topic string) *KafkaAlertSink {
	return &KafkaAlertSink{producer: producer, topic: topic}
}

func (s *KafkaAlertSink) Publish(ctx context.Context, ev *models.AlertEvent) error {
	if err := s.producer.Publish(ctx, s.topic, []byte(ev.Symbol), ev); err != nil {
		return fmt.Errorf("%w: kafka topic %s: %v", models.ErrDelivery, s.topic, err)
	}
	return nil
}

func (s *KafkaAlertSink) Close() error {
	return s.producer.Close()
}

var _ domrepo.AlertSink = (*KafkaAlertSink)(nil)
