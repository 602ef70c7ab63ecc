package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eapache/go-resiliency/retrier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

const (
	defaultConsumerMaxAttempts  = 5
	defaultConsumerInitialDelay = 200 * time.Millisecond
	defaultConsumerMaxDelay     = 5 * time.Second
)

var consumedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_kafka_consumed_messages_total",
	Help: "Messages consumed from Kafka by topic and outcome",
}, []string{"topic", "result"})

// MessageHandler обрабатывает сообщение из Kafka.
// Ошибка, помеченная Permanent, не повторяется.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer представляет Kafka consumer group с повторами и Dead Letter Queue.
// Каждая партиция обрабатывается последовательно в своей горутине ConsumeClaim.
type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	handler  MessageHandler
	logger   *log.Entry
	wg       sync.WaitGroup
	dlq      *Producer
	retry    resilience.RetryConfig
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetterProducer задаёт producer для отправки в DLQ после исчерпания попыток.
func WithDeadLetterProducer(producer *Producer) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
	}
}

// WithRetry задаёт число попыток и паузы между ними.
func WithRetry(maxAttempts int, initialDelay, maxDelay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxAttempts > 0 {
			c.retry.MaxAttempts = maxAttempts
		}
		if initialDelay >= 0 {
			c.retry.InitialDelay = initialDelay
		}
		if maxDelay > 0 {
			c.retry.MaxDelay = maxDelay
		}
	}
}

// WithConsumerLogger задаёт логгер.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer создает consumer group поверх sarama.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer: group,
		topics:   topics,
		handler:  handler,
		logger:   log.WithField("component", "kafka-consumer"),
		retry: resilience.RetryConfig{
			MaxAttempts:   defaultConsumerMaxAttempts,
			InitialDelay:  defaultConsumerInitialDelay,
			MaxDelay:      defaultConsumerMaxDelay,
			BackoffFactor: 2,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при rebalance, поэтому вызывается в цикле.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции строго по порядку.
// Offset отмечается только после успешной обработки или отправки в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.process(session.Context(), message); err != nil {
				// Сессия завершается без отметки, сообщение будет доставлено повторно.
				c.logger.WithError(err).WithFields(fields).Error("message left unacknowledged")
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process выполняет обработчик с повторами; после исчерпания попыток
// или Permanent-ошибки сообщение уходит в DLQ.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := 0
	r := retrier.New(c.retry.Backoff(), handlerClassifier{})
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		return c.handler(ctx, message)
	})
	if err == nil {
		consumedMessagesTotal.WithLabelValues(message.Topic, "processed").Inc()
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	c.logger.WithError(err).WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"attempts":  attempts,
		"permanent": resilience.IsPermanent(err),
	}).Warn("message processing failed")

	if c.dlq == nil {
		consumedMessagesTotal.WithLabelValues(message.Topic, "failed").Inc()
		return fmt.Errorf("process message after %d attempt(s): %w", attempts, err)
	}
	if dlqErr := c.sendToDLQ(ctx, message, attempts, err); dlqErr != nil {
		consumedMessagesTotal.WithLabelValues(message.Topic, "failed").Inc()
		return dlqErr
	}

	consumedMessagesTotal.WithLabelValues(message.Topic, "dead_lettered").Inc()
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempts,
	}).Info("message sent to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, attempts int, cause error) error {
	headers := make([]sarama.RecordHeader, 0, len(message.Headers))
	for _, h := range message.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	return c.dlq.PublishDeadLetter(ctx, "consumer", message.Topic, message.Key, message.Value, headers, attempts, cause)
}

type handlerClassifier struct{}

func (handlerClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case resilience.IsPermanent(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}
