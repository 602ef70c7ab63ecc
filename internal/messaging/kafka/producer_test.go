package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestProducer_PublishEventAddsHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	ev := domain.NewRestaurantCreatedEvent(domain.Restaurant{ID: "pho-bar", Name: "Pho Bar", OwnerID: "owner-1"}, time.Now())

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicRestaurantEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		headers := headerMap(msg.Headers)
		if headers[HeaderEventID] != ev.EventID || headers[HeaderEventType] != string(domain.EventTypeRestaurantCreated) {
			return errors.New("event headers are missing")
		}
		return nil
	})

	require.NoError(t, producer.PublishEvent(context.Background(), TopicRestaurantEvents, "pho-bar", ev))
	require.NoError(t, mockProducer.Close())
}

func TestProducer_SendError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.Send(context.Background(), &sarama.ProducerMessage{Topic: TopicOrderEvents, Value: sarama.StringEncoder("{}")})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_SendHonorsCancelledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.Send(ctx, &sarama.ProducerMessage{Topic: TopicOrderEvents})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishDeadLetterHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	producer.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return errors.New("expected dlq topic")
		}
		headers := headerMap(msg.Headers)
		want := map[string]string{
			HeaderEventID:       "event-1",
			HeaderEventType:     "order.placed",
			HeaderRetryCount:    "5",
			HeaderOriginalTopic: TopicOrderEvents,
			HeaderErrorMessage:  "boom",
			HeaderFailedAt:      "2026-01-02T03:04:05Z",
		}
		for k, v := range want {
			if headers[k] != v {
				return errors.New("header " + k + " = " + headers[k])
			}
		}
		return nil
	})

	original := append(EventHeaders("event-1", "order.placed"),
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte("1")})
	err := producer.PublishDeadLetter(context.Background(), "consumer", TopicOrderEvents,
		[]byte("pho-bar"), []byte(`{}`), original, 5, errors.New("boom"))
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_NilSafe(t *testing.T) {
	var producer *Producer
	require.Error(t, producer.Send(context.Background(), &sarama.ProducerMessage{}))
	require.NoError(t, producer.Close())
}

func TestTopicFor(t *testing.T) {
	require.Equal(t, TopicOrderEvents, TopicFor(domain.AggregateOrder))
	require.Equal(t, TopicRestaurantEvents, TopicFor(domain.AggregateRestaurant))
	require.Equal(t, TopicOrderEvents, TopicFor("unknown"))
}

func TestDecodeEventMarksGarbagePermanent(t *testing.T) {
	_, err := DecodeEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrValidation)

	ev := domain.NewRestaurantCreatedEvent(domain.Restaurant{ID: "r-1", OwnerID: "o-1"}, time.Now())
	msg, err := ev.OutboxMessage()
	require.NoError(t, err)

	decoded, err := DecodeEvent(&sarama.ConsumerMessage{Value: msg.Payload})
	require.NoError(t, err)
	require.Equal(t, ev.EventID, decoded.EventID)
}
