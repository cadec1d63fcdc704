// Package kafka streams alert transitions to a Kafka topic.
package kafka

import (
	"encoding/json"
	"fmt"

	"guardian/internal/logger"
	"guardian/internal/models"

	"github.com/IBM/sarama"
)

// Producer publishes every alert event keyed by alert id so that the
// creation and resolution of one alert land on the same partition.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

func NewProducer(cfg models.KafkaConfig, log *logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewProducerFrom(producer, cfg.Topic, log), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(producer sarama.SyncProducer, topic string, log *logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		log:      log.With("kafka"),
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) OnAlert(a models.Alert) error {
	return p.send(models.AlertEvent{Kind: models.AlertCreated, Alert: a, RecordedAt: a.CreatedAt})
}

func (p *Producer) OnResolve(a models.Alert) error {
	ev := models.AlertEvent{Kind: models.AlertResolved, Alert: a}
	if a.ResolvedAt != nil {
		ev.RecordedAt = *a.ResolvedAt
	}
	return p.send(ev)
}

func (p *Producer) send(ev models.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Alert.ID),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s event for %s: %w", ev.Kind, ev.Alert.ID, err)
	}

	p.log.Debugf("Sent %s for %s to topic=%s partition=%d offset=%d", ev.Kind, ev.Alert.ID, p.topic, partition, offset)
	return nil
}
