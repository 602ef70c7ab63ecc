package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/foodorders/internal/health"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/memory"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultOrderServiceConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultOrderServiceConfig()
	cfg.Storage.Driver = "invalid-driver"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRunNotifier_RequiresBrokers(t *testing.T) {
	err := RunNotifier(context.Background(), DefaultNotifierConfig())
	if err == nil || !strings.Contains(err.Error(), envKafkaBrokers) {
		t.Fatalf("expected missing brokers error, got %v", err)
	}
}

func TestInitCatalog_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	seed := `
restaurants:
  - id: pho-bar
    name: Pho Bar
    owner_id: owner-1
    active: true
    currency: USD
    menu:
      - id: pho
        name: Pho
        price: "5.00"
        available: true
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	cfg := DefaultOrderServiceConfig()
	cfg.CatalogSeed = path
	catalog, closeFn, err := initCatalog(cfg, log.WithField("test", "catalog"))
	if err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	defer closeFn()

	item, err := catalog.GetMenuItem(context.Background(), "pho-bar", "pho")
	if err != nil {
		t.Fatalf("GetMenuItem failed: %v", err)
	}
	if item.PriceMinor != 500 {
		t.Fatalf("expected price 500, got %d", item.PriceMinor)
	}

	cfg.CatalogSeed = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := initCatalog(cfg, log.WithField("test", "catalog")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestOutboxChecker(t *testing.T) {
	repo := memory.NewOutboxRepository()

	if check := (outboxChecker{repo: repo}).Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("empty outbox must be healthy, got %+v", check)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              "order-1",
		CustomerID:      "customer-1",
		RestaurantID:    "pho-bar",
		RestaurantName:  "Pho Bar",
		Status:          domain.OrderStatusPending,
		DeliveryAddress: "221B Baker Street",
		Currency:        "USD",
		Items:           []domain.OrderItem{domain.NewOrderItem("pho", "Pho", 500, 1)},
		TotalMinor:      500,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	msg, err := domain.NewOrderPlacedEvent(order, "owner-1", now).OutboxMessage()
	if err != nil {
		t.Fatalf("build outbox message: %v", err)
	}
	if err := memory.NewOrderRepository(repo).Create(context.Background(), order, msg); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if check := (outboxChecker{repo: repo}).Check(context.Background()); check.Status != healthcheck.StatusDegraded {
		t.Fatalf("undrained outbox without kafka must be degraded, got %+v", check)
	}
	if check := (outboxChecker{repo: repo, publishing: true}).Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("pending backlog with a publisher is healthy, got %+v", check)
	}
}
