package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

// BreakerState — режим circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foodorders_breaker_state",
		Help: "Current circuit breaker state per dependency (0=closed, 1=open, 2=half_open)",
	}, []string{"dependency"})
	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodorders_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state",
	}, []string{"dependency", "to"})
)

// BreakerConfig задаёт параметры скользящего окна.
type BreakerConfig struct {
	// Сколько последних исходов учитывается.
	WindowSize int
	// Минимум вызовов в окне для оценки доли ошибок.
	MinimumCalls int
	// Доля ошибок (0..1), при которой breaker размыкается (>=).
	FailureRateThreshold float64
	// Сколько breaker остаётся разомкнутым до пробных вызовов.
	OpenTimeout time.Duration
	// Число пробных вызовов в half-open.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:           10,
		MinimumCalls:         5,
		FailureRateThreshold: 0.5,
		OpenTimeout:          30 * time.Second,
		HalfOpenMaxCalls:     3,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = def.MinimumCalls
	}
	if c.MinimumCalls > c.WindowSize {
		c.MinimumCalls = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = def.FailureRateThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return c
}

// CircuitBreaker считает долю ошибок в скользящем окне последних исходов.
// Один экземпляр на внешнюю зависимость, безопасен для конкурентного использования.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *log.Entry

	mu             sync.Mutex
	state          BreakerState
	generation     uint64
	lastTransition time.Time
	outcomes       []bool // true = ошибка
	next           int
	calls          int
	failures       int
	trialInFlight  int
	trialSuccesses int
}

// BreakerOption настраивает CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithBreakerLogger задаёт логгер переходов.
func WithBreakerLogger(logger *log.Entry) BreakerOption {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// NewCircuitBreaker создаёт breaker в состоянии closed.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	cfg = cfg.normalized()
	cb := &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithField("component", "circuit-breaker"),
		outcomes: make([]bool, cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.WithField("dependency", name)
	cb.lastTransition = cb.now()
	breakerStateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Name возвращает имя зависимости.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute выполняет fn, если breaker пропускает вызов, и учитывает исход.
// Ошибки, помеченные Permanent, и отмена вызывающим не считаются отказом зависимости.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.release(generation, isDependencyFailure(err))
	return err
}

// State возвращает текущий режим с учётом истёкшего OpenTimeout.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked(cb.now())
	return cb.state
}

// LastTransition возвращает момент последней смены режима.
func (cb *CircuitBreaker) LastTransition() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastTransition
}

// Counts возвращает число вызовов и ошибок в текущем окне.
func (cb *CircuitBreaker) Counts() (calls, failures int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.calls, cb.failures
}

func (cb *CircuitBreaker) acquire() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpenLocked(cb.now())

	switch cb.state {
	case StateOpen:
		return 0, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, cb.name)
	case StateHalfOpen:
		if cb.trialInFlight+cb.trialSuccesses >= cb.cfg.HalfOpenMaxCalls {
			return 0, fmt.Errorf("%w: %s (half-open, trial calls exhausted)", domain.ErrCircuitOpen, cb.name)
		}
		cb.trialInFlight++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) release(generation uint64, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Исход вызова, начатого до смены режима, не влияет на новый режим.
	if generation != cb.generation {
		return
	}

	switch cb.state {
	case StateClosed:
		cb.recordLocked(failed)
		if cb.calls >= cb.cfg.MinimumCalls &&
			float64(cb.failures)/float64(cb.calls) >= cb.cfg.FailureRateThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.trialInFlight--
		if failed {
			cb.transitionLocked(StateOpen)
			return
		}
		cb.trialSuccesses++
		if cb.trialSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.transitionLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordLocked(failed bool) {
	if cb.calls == len(cb.outcomes) {
		if cb.outcomes[cb.next] {
			cb.failures--
		}
	} else {
		cb.calls++
	}
	cb.outcomes[cb.next] = failed
	if failed {
		cb.failures++
	}
	cb.next = (cb.next + 1) % len(cb.outcomes)
}

func (cb *CircuitBreaker) maybeHalfOpenLocked(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.lastTransition) >= cb.cfg.OpenTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.lastTransition = cb.now()
	cb.trialInFlight = 0
	cb.trialSuccesses = 0
	if to == StateClosed {
		cb.resetWindowLocked()
	}

	breakerStateGauge.WithLabelValues(cb.name).Set(float64(to))
	breakerTransitionsTotal.WithLabelValues(cb.name, to.String()).Inc()

	entry := cb.logger.WithFields(log.Fields{
		"from":     from.String(),
		"to":       to.String(),
		"calls":    cb.calls,
		"failures": cb.failures,
	})
	if to == StateOpen {
		entry.Warn("circuit breaker opened")
		return
	}
	entry.Info("circuit breaker state changed")
}

func (cb *CircuitBreaker) resetWindowLocked() {
	for i := range cb.outcomes {
		cb.outcomes[i] = false
	}
	cb.next = 0
	cb.calls = 0
	cb.failures = 0
}

func isDependencyFailure(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
