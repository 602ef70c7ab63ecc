package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в topic агрегата.
// Ключ сообщения — PartitionKey, поэтому события одного ресторана попадают в одну партицию.
type OutboxPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer}
}

func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	return p.producer.Send(ctx, &sarama.ProducerMessage{
		Topic:   TopicFor(msg.AggregateType),
		Key:     sarama.StringEncoder(partitionKey(msg)),
		Value:   sarama.ByteEncoder(msg.Payload),
		Headers: EventHeaders(msg.ID, msg.EventType),
	})
}

// DeadLetter отправляет сообщение, исчерпавшее попытки публикации, в DLQ.
func (p *OutboxPublisher) DeadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	return p.producer.PublishDeadLetter(ctx, "outbox",
		TopicFor(msg.AggregateType),
		[]byte(partitionKey(msg)),
		msg.Payload,
		EventHeaders(msg.ID, msg.EventType),
		attempts,
		cause,
	)
}

func partitionKey(msg domain.OutboxMessage) string {
	switch {
	case msg.PartitionKey != "":
		return msg.PartitionKey
	case msg.AggregateID != "":
		return msg.AggregateID
	default:
		return msg.ID
	}
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
