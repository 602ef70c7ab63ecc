package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

var deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_kafka_dead_letters_total",
	Help: "Messages sent to the dead letter topic by source",
}, []string{"source"})

// Producer представляет Kafka producer для публикации событий
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer (например, sarama/mocks).
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
		now:      time.Now,
	}
}

// Send отправляет сообщение и ждёт подтверждения брокера.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now()
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", msg.Topic).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// PublishEvent публикует доменное событие с заголовками x-event-id и x-event-type.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Send(ctx, &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(value),
		Headers: EventHeaders(event.EventID, string(event.EventType)),
	})
}

// PublishDeadLetter отправляет исходные key/value в DLQ, добавляя метаданные отказа.
func (p *Producer) PublishDeadLetter(ctx context.Context, source, originalTopic string, key, value []byte, headers []sarama.RecordHeader, attempts int, cause error) error {
	msg := &sarama.ProducerMessage{
		Topic:   TopicDeadLetterQueue,
		Value:   sarama.ByteEncoder(value),
		Headers: deadLetterHeaders(headers, originalTopic, attempts, cause, p.now()),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	if err := p.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	deadLettersTotal.WithLabelValues(source).Inc()
	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
