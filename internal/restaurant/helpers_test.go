package restaurant

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

func seededDirectory() *Directory {
	dir := NewDirectory()
	dir.Put(domain.Restaurant{ID: "pho-bar", Name: "Pho Bar", OwnerID: "owner-1", Active: true, Currency: "USD"},
		domain.MenuItem{ID: "pho", Name: "Pho", PriceMinor: 500, Available: true},
		domain.MenuItem{ID: "tea", Name: "Tea", PriceMinor: 300, Available: true},
		domain.MenuItem{ID: "soup", Name: "Soup of the day", PriceMinor: 700, Available: false},
	)
	dir.Put(domain.Restaurant{ID: "closed-diner", Name: "Closed Diner", OwnerID: "owner-2", Active: false, Currency: "USD"},
		domain.MenuItem{ID: "burger", Name: "Burger", PriceMinor: 900, Available: true},
	)
	return dir
}

func testShield(name string) *resilience.Shield {
	return resilience.NewShield(name, resilience.Policy{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:   2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 2,
		},
		Breaker: resilience.BreakerConfig{
			WindowSize:           10,
			MinimumCalls:         5,
			FailureRateThreshold: 0.5,
			OpenTimeout:          time.Minute,
			HalfOpenMaxCalls:     1,
		},
	})
}

// unavailableCatalog всегда отвечает временной ошибкой.
type unavailableCatalog struct {
	calls int32
}

func (c *unavailableCatalog) GetRestaurant(context.Context, string) (domain.Restaurant, error) {
	atomic.AddInt32(&c.calls, 1)
	return domain.Restaurant{}, errCatalogDown
}

func (c *unavailableCatalog) GetMenuItem(context.Context, string, string) (domain.MenuItem, error) {
	atomic.AddInt32(&c.calls, 1)
	return domain.MenuItem{}, errCatalogDown
}
