package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"verity/internal/monitoring"
)

// Producer is the part of *kgo.Client the Kafka notifier needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes alerts keyed by entity so one entity's alerts stay ordered
// within a partition.
type Kafka struct {
	producer Producer
	topic    string
}

func NewKafka(producer Producer, topic string) (*Kafka, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Kafka{producer: producer, topic: topic}, nil
}

func (k *Kafka) Notify(ctx context.Context, alert monitoring.Alert) error {
	value, err := encode(alert)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(alert.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "alert_id", Value: []byte(alert.ID)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce alert %s: %w", alert.ID, err)
	}
	return nil
}
