package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

func TestOutboxPublisher_PublishUsesPartitionKeyAndHeaders(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "pho-bar" {
			return errors.New("expected restaurant partition key, got " + string(key))
		}
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if headerMap(msg.Headers)[HeaderEventType] != "order.status_changed" {
			return errors.New("missing event type header")
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer))
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		PartitionKey:  "pho-bar",
		EventType:     "order.status_changed",
		Payload:       []byte(`{"eventId":"outbox-1"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer))
	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", AggregateID: "order-234"})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_DeadLetter(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		headers := headerMap(msg.Headers)
		if msg.Topic != TopicDeadLetterQueue || headers[HeaderOriginalTopic] != TopicRestaurantEvents {
			return errors.New("unexpected dlq routing")
		}
		if headers[HeaderRetryCount] != "3" {
			return errors.New("unexpected retry count")
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer))
	err := publisher.DeadLetter(context.Background(), domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: domain.AggregateRestaurant,
		AggregateID:   "pho-bar",
		PartitionKey:  "pho-bar",
		EventType:     "restaurant.created",
		Payload:       []byte(`{}`),
	}, 3, errors.New("broker down"))
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_NilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-4"}))
	require.Error(t, publisher.DeadLetter(context.Background(), domain.OutboxMessage{ID: "outbox-4"}, 1, errors.New("x")))
}
