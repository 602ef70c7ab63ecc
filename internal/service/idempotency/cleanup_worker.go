package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

const (
	defaultCleanupInterval = 10 * time.Minute
	defaultCleanupBatch    = 500
	// Запрос POST /orders ограничен таймаутами HTTP-сервера и каталога,
	// поэтому processing дольше этого срока означает упавший обработчик.
	defaultProcessingLease = 2 * time.Minute
)

var (
	idempotencySweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodorders_idempotency_sweeps_total",
		Help: "Idempotency key sweeps by result.",
	}, []string{"result"})
	idempotencySweptKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodorders_idempotency_swept_keys_total",
		Help: "Idempotency keys removed by the sweeper: expired TTL or released after a stuck request.",
	}, []string{"reason"})
)

// CleanupOptions задаёт параметры обслуживания ключей Idempotency-Key.
type CleanupOptions struct {
	Logger          *log.Entry
	Interval        time.Duration
	BatchSize       int
	ProcessingLease time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithProcessingLease задаёт, сколько ключ может оставаться в processing
// до того, как его освободят для повторного запроса.
func WithProcessingLease(lease time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.ProcessingLease = lease }
}

// SweepResult описывает один проход CleanupWorker.
type SweepResult struct {
	Expired  int
	Released int
}

// CleanupWorker обслуживает ключи Idempotency-Key для POST /orders.
//
// За проход он удаляет ключи с истёкшим TTL и освобождает ключи, застрявшие
// в processing дольше ProcessingLease. Иначе инстанс, упавший посреди запроса,
// оставил бы клиенту 409 на весь TTL ключа.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	lease     time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создаёт CleanupWorker.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{}
	for _, option := range options {
		option(&opts)
	}

	w := &CleanupWorker{
		repo:      repo,
		logger:    opts.Logger,
		interval:  opts.Interval,
		lease:     opts.ProcessingLease,
		batchSize: opts.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.lease <= 0 {
		w.lease = defaultProcessingLease
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatch
	}
	return w
}

// Run выполняет Sweep сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runSweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runSweep(ctx context.Context) {
	result, err := w.Sweep(ctx)
	switch {
	case err == nil:
		idempotencySweepsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	default:
		idempotencySweepsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency sweep failed")
	}

	if result.Released > 0 {
		w.logger.WithField("released", result.Released).Warn("released idempotency keys stuck in processing")
	}
	if result.Expired > 0 {
		w.logger.WithField("expired", result.Expired).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет просроченные ключи и освобождает зависшие, порциями batchSize.
// Ошибка первой фазы прерывает проход: вторая фаза выполнится на следующем тике.
func (w *CleanupWorker) Sweep(ctx context.Context) (SweepResult, error) {
	now := w.now()

	var result SweepResult
	expired, err := w.drain(ctx, "expired", func(ctx context.Context, limit int) (int, error) {
		return w.repo.DeleteExpired(ctx, now, limit)
	})
	result.Expired = expired
	if err != nil {
		return result, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	released, err := w.drain(ctx, "released", func(ctx context.Context, limit int) (int, error) {
		return w.repo.ReleaseStale(ctx, now.Add(-w.lease), limit)
	})
	result.Released = released
	if err != nil {
		return result, fmt.Errorf("release stuck idempotency keys: %w", err)
	}
	return result, nil
}

// drain повторяет batch-операцию, пока она возвращает полные порции.
func (w *CleanupWorker) drain(ctx context.Context, reason string, batch func(context.Context, int) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch(ctx, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		idempotencySweptKeysTotal.WithLabelValues(reason).Add(float64(n))
		if n < w.batchSize {
			return total, nil
		}
	}
}
