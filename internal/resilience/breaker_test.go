package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:           10,
		MinimumCalls:         5,
		FailureRateThreshold: 0.5,
		OpenTimeout:          30 * time.Second,
		HalfOpenMaxCalls:     2,
	}
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMinimumCalls(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("catalog-open", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
		require.Equal(t, StateClosed, cb.State(), "below minimum calls after %d failures", i+1)
	}

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	require.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.False(t, invoked, "open breaker must not invoke the call")
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	require.ErrorIs(t, err, domain.ErrDependencyUnavailable)
}

func TestCircuitBreaker_ThresholdIsInclusive(t *testing.T) {
	cb := NewCircuitBreaker("catalog-threshold", testBreakerConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	for i := 0; i < 4; i++ {
		require.Error(t, cb.Execute(ctx, fail))
	}
	require.Equal(t, StateClosed, cb.State(), "4/9 is below threshold")

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State(), "5/10 reaches threshold")
}

func TestCircuitBreaker_WindowSlides(t *testing.T) {
	cb := NewCircuitBreaker("catalog-window", testBreakerConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	calls, failures := cb.Counts()
	require.Equal(t, 10, calls)
	require.Equal(t, 0, failures)

	for i := 0; i < 4; i++ {
		require.Error(t, cb.Execute(ctx, fail))
	}
	require.Equal(t, StateClosed, cb.State())
	_, failures = cb.Counts()
	require.Equal(t, 4, failures)

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("catalog-recover", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(29 * time.Second)
	require.ErrorIs(t, cb.Execute(ctx, succeed), domain.ErrCircuitOpen)

	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, cb.State())
	require.Equal(t, clock.Now(), cb.LastTransition())

	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateClosed, cb.State())

	calls, failures := cb.Counts()
	require.Zero(t, calls)
	require.Zero(t, failures)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("catalog-reopen", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	require.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Execute(ctx, succeed), domain.ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("catalog-trials", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	require.ErrorIs(t, cb.Execute(ctx, succeed), domain.ErrCircuitOpen)

	close(release)
	wg.Wait()
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PermanentErrorsAreNotFailures(t *testing.T) {
	cb := NewCircuitBreaker("catalog-permanent", testBreakerConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := cb.Execute(ctx, func(context.Context) error {
			return Permanent(domain.ErrRestaurantInactive)
		})
		require.ErrorIs(t, err, domain.ErrRestaurantInactive)
	}
	require.Equal(t, StateClosed, cb.State())
	_, failures := cb.Counts()
	require.Zero(t, failures)
}

func TestCircuitBreaker_ConcurrentCallsAreCountedExactly(t *testing.T) {
	const (
		workers        = 50
		callsPerWorker = 4
		window         = workers * callsPerWorker
	)
	cfg := BreakerConfig{
		WindowSize:           window,
		MinimumCalls:         window,
		FailureRateThreshold: 0.5,
		OpenTimeout:          time.Minute,
		HalfOpenMaxCalls:     1,
	}
	cb := NewCircuitBreaker("catalog-concurrent", cfg, WithClock(newFakeClock().Now))
	ctx := context.Background()

	run := func(failEvery int) {
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 1; i <= callsPerWorker; i++ {
					call := succeed
					if failEvery > 0 && i%failEvery == 0 {
						call = fail
					}
					_ = cb.Execute(ctx, call)
				}
			}()
		}
		wg.Wait()
	}

	run(4)
	calls, failures := cb.Counts()
	require.Equal(t, window, calls)
	require.Equal(t, workers, failures)
	require.Equal(t, StateClosed, cb.State())

	// Второй полный круг вытесняет из окна все прежние исходы.
	run(0)
	calls, failures = cb.Counts()
	require.Equal(t, window, calls)
	require.Zero(t, failures)
	require.Equal(t, StateClosed, cb.State())
}

func TestBreakerConfig_Normalized(t *testing.T) {
	cfg := BreakerConfig{WindowSize: 4, MinimumCalls: 10, FailureRateThreshold: 2}.normalized()
	require.Equal(t, 4, cfg.MinimumCalls)
	require.Equal(t, 0.5, cfg.FailureRateThreshold)
	require.Equal(t, 30*time.Second, cfg.OpenTimeout)
	require.Equal(t, 3, cfg.HalfOpenMaxCalls)
}

func TestBreakerState_String(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "half_open", StateHalfOpen.String())
	require.Equal(t, "unknown", BreakerState(42).String())
}
