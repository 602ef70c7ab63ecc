package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodorders_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodorders_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodorders_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
	outboxLockSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foodorders_outbox_lock_skips_total",
		Help: "Polling cycles skipped because another replica holds the outbox lock.",
	})
)

// DeadLetterSink принимает сообщения, которые не удалось опубликовать за все попытки.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, cause error) error
}

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DeadLetters    DeadLetterSink
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDeadLetters задаёт получателя сообщений после исчерпания retry.
func WithDeadLetters(sink DeadLetterSink) Option {
	return func(opts *WorkerOptions) {
		opts.DeadLetters = sink
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker публикует pending-сообщения из outbox в брокер в порядке записи.
// Ошибки публикации не доходят до HTTP-клиента: они логируются, считаются
// и после исчерпания попыток переводят сообщение в failed с отправкой в DLQ.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters DeadLetterSink
	logger      *log.Entry
	interval    time.Duration
	batchSize   int
	retry       resilience.RetryConfig
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:        repo,
		publisher:   publisher,
		deadLetters: opts.DeadLetters,
		logger:      logger,
		interval:    opts.PollInterval,
		batchSize:   opts.BatchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:   opts.MaxAttempts,
			InitialDelay:  opts.RetryBaseDelay,
			MaxDelay:      defaultRetryMaxDelay,
			BackoffFactor: 2,
		},
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.refreshBacklogMetrics(ctx)

	if locker, ok := w.repo.(domain.OutboxLocker); ok {
		unlock, acquired, err := locker.TryLockOutbox(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("failed to acquire outbox lock")
			return 0
		}
		if !acquired {
			outboxLockSkips.Inc()
			w.logger.Debug("outbox lock is held by another replica, skipping cycle")
			return 0
		}
		defer unlock()
	}

	messages, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		fields := log.Fields{
			"event_id":   msg.ID,
			"event_type": msg.EventType,
			"aggregate":  msg.AggregateID,
		}

		attempts, err := w.publishWithRetry(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				// Сообщение остаётся pending и будет опубликовано после рестарта.
				break
			}
			w.logger.WithError(err).WithFields(fields).Error("outbox publish failed after retries")
			outboxPublishAttempts.WithLabelValues("failed").Inc()
			w.deadLetter(ctx, msg, attempts, err)
			if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithFields(fields).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("failed to mark outbox as sent")
			continue
		}
		sent++
	}

	w.refreshBacklogMetrics(ctx)
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	attempts := 0
	r := retrier.New(w.retry.Backoff(), publishClassifier{})
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		if err := w.publisher.Publish(ctx, msg); err != nil {
			outboxPublishAttempts.WithLabelValues("retry_error").Inc()
			return err
		}
		outboxPublishAttempts.WithLabelValues("sent").Inc()
		return nil
	})
	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		return attempts, ctx.Err()
	default:
		return attempts, fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrOutboxPublish, msg.ID, attempts, err)
	}
}

// publishClassifier повторяет любые ошибки брокера, кроме отмены контекста.
type publishClassifier struct{}

func (publishClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, cause error) {
	if w.deadLetters == nil {
		return
	}
	if err := w.deadLetters.DeadLetter(ctx, msg, attempts, cause); err != nil {
		w.logger.WithError(err).WithField("event_id", msg.ID).Warn("failed to publish to DLQ")
		outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
		return
	}
	outboxPublishAttempts.WithLabelValues("dead_lettered").Inc()
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}
