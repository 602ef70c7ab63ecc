package kafka

import (
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "foodorders.order.events"
	TopicRestaurantEvents = "foodorders.restaurant.events"
	TopicDeadLetterQueue  = "foodorders.dlq"
)

// Kafka headers событий и dead-letter метаданных.
const (
	HeaderEventID   = "x-event-id"
	HeaderEventType = "x-event-type"

	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

var deadLetterHeaderKeys = map[string]struct{}{
	HeaderRetryCount:    {},
	HeaderOriginalTopic: {},
	HeaderErrorMessage:  {},
	HeaderFailedAt:      {},
}

// TopicFor возвращает topic для типа агрегата.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateRestaurant {
		return TopicRestaurantEvents
	}
	return TopicOrderEvents
}

// EventHeaders возвращает заголовки, сопровождающие каждое опубликованное событие.
func EventHeaders(eventID, eventType string) []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEventID), Value: []byte(eventID)},
		{Key: []byte(HeaderEventType), Value: []byte(eventType)},
	}
}

// HeaderValue возвращает значение заголовка сообщения или пустую строку.
func HeaderValue(message *sarama.ConsumerMessage, key string) string {
	if message == nil {
		return ""
	}
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

// IsDeadLetterHeader сообщает, что заголовок добавлен при отправке в DLQ.
func IsDeadLetterHeader(key string) bool {
	_, ok := deadLetterHeaderKeys[key]
	return ok
}

// deadLetterHeaders дополняет исходные заголовки метаданными отказа.
func deadLetterHeaders(original []sarama.RecordHeader, topic string, attempts int, cause error, now time.Time) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(original)+4)
	for _, h := range original {
		if IsDeadLetterHeader(string(h.Key)) {
			continue
		}
		headers = append(headers, h)
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return append(headers,
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(attempts))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(message)},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(now.UTC().Format(time.RFC3339))},
	)
}

// DecodeEvent разбирает событие из сообщения. Неразборчивый payload
// помечается Permanent и сразу уходит в DLQ.
func DecodeEvent(message *sarama.ConsumerMessage) (domain.Event, error) {
	ev, err := domain.DecodeEvent(message.Value)
	if err != nil {
		return domain.Event{}, Permanent(err)
	}
	return ev, nil
}

// Permanent помечает ошибку обработчика как неповторяемую.
func Permanent(err error) error {
	return resilience.Permanent(err)
}
