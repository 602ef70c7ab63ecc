package resilience

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
)

var shieldCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_shield_calls_total",
	Help: "Calls to external dependencies through the resilience shield by result",
}, []string{"dependency", "result"})

var shieldRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodorders_shield_retries_total",
	Help: "Repeated attempts made by the resilience shield",
}, []string{"dependency"})

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Backoff возвращает паузы между попытками: MaxAttempts-1 значений,
// растущих в BackoffFactor раз и ограниченных MaxDelay.
func (c RetryConfig) Backoff() []time.Duration {
	if c.MaxAttempts <= 1 {
		return nil
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delays := make([]time.Duration, 0, c.MaxAttempts-1)
	delay := c.InitialDelay
	for i := 1; i < c.MaxAttempts; i++ {
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			delay = c.MaxDelay
		}
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * factor)
	}
	return delays
}

// Policy объединяет настройки таймаута, повторов и breaker для одной зависимости.
type Policy struct {
	// Timeout ограничивает вызов целиком, включая повторы и паузы.
	Timeout time.Duration
	Retry   RetryConfig
	Breaker BreakerConfig
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: 2 * time.Second,
		Retry:   DefaultRetryConfig(),
		Breaker: DefaultBreakerConfig(),
	}
}

// Shield оборачивает вызовы зависимости в Timeout(Retry(CircuitBreaker(call))).
type Shield struct {
	name    string
	timeout time.Duration
	retrier *retrier.Retrier
	breaker *CircuitBreaker
	logger  *log.Entry
}

// ShieldOption настраивает Shield.
type ShieldOption func(*shieldOptions)

type shieldOptions struct {
	logger  *log.Entry
	breaker *CircuitBreaker
	clock   func() time.Time
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) ShieldOption {
	return func(o *shieldOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBreaker подставляет готовый breaker вместо создаваемого по Policy.
func WithBreaker(breaker *CircuitBreaker) ShieldOption {
	return func(o *shieldOptions) {
		o.breaker = breaker
	}
}

// WithShieldClock передаёт источник времени создаваемому breaker.
func WithShieldClock(now func() time.Time) ShieldOption {
	return func(o *shieldOptions) {
		o.clock = now
	}
}

// NewShield создаёт защиту для зависимости name.
func NewShield(name string, policy Policy, opts ...ShieldOption) *Shield {
	options := shieldOptions{logger: log.WithField("component", "resilience-shield")}
	for _, opt := range opts {
		opt(&options)
	}

	breaker := options.breaker
	if breaker == nil {
		breakerOpts := []BreakerOption{WithBreakerLogger(options.logger)}
		if options.clock != nil {
			breakerOpts = append(breakerOpts, WithClock(options.clock))
		}
		breaker = NewCircuitBreaker(name, policy.Breaker, breakerOpts...)
	}

	return &Shield{
		name:    name,
		timeout: policy.Timeout,
		retrier: retrier.New(policy.Retry.Backoff(), retryClassifier{}),
		breaker: breaker,
		logger:  options.logger.WithField("dependency", name),
	}
}

// Breaker возвращает breaker зависимости (для health-check и тестов).
func (s *Shield) Breaker() *CircuitBreaker {
	return s.breaker
}

// Do выполняет fn под защитой.
// Бизнес-ошибки (Permanent) возвращаются без обёртки и без повторов.
// Разомкнутый breaker, таймаут и исчерпанные попытки дают domain.ErrDependencyUnavailable.
func (s *Shield) Do(ctx context.Context, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	attempts := 0
	err := s.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			shieldRetriesTotal.WithLabelValues(s.name).Inc()
		}
		return s.breaker.Execute(ctx, fn)
	})

	switch {
	case err == nil:
		shieldCallsTotal.WithLabelValues(s.name, "success").Inc()
		return nil
	case IsPermanent(err):
		shieldCallsTotal.WithLabelValues(s.name, "rejected").Inc()
		return unwrapPermanent(err)
	case errors.Is(err, domain.ErrCircuitOpen):
		shieldCallsTotal.WithLabelValues(s.name, "circuit_open").Inc()
		s.logger.WithError(err).Warn("call short-circuited")
		return err
	default:
		shieldCallsTotal.WithLabelValues(s.name, "unavailable").Inc()
		s.logger.WithError(err).WithField("attempts", attempts).Warn("dependency call failed")
		return fmt.Errorf("%w: %s after %d attempt(s): %w", domain.ErrDependencyUnavailable, s.name, attempts, err)
	}
}

// Call вызывает fn через Shield.Do и возвращает её результат.
func Call[T any](ctx context.Context, s *Shield, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := s.Do(ctx, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

type retryClassifier struct{}

func (retryClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case IsPermanent(err), errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, context.Canceled):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}
