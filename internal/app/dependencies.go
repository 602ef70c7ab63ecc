package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/health"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/memory"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/postgres"
)

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	orders          domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	notifications   domain.NotificationRepository
	store           *postgres.Store
}

// initRuntimeDependencies открывает хранилище по cfg.Driver.
// Для postgres при AutoMigrate применяются встроенные миграции.
func initRuntimeDependencies(ctx context.Context, cfg StorageConfig, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.Driver {
	case StorageDriverMemory, "":
		outboxRepo := memory.NewOutboxRepository()
		logger.Warn("using in-memory storage, data will be lost on restart")
		return &runtimeDependencies{
			orders:          memory.NewOrderRepository(outboxRepo),
			outboxRepo:      outboxRepo,
			idempotencyRepo: memory.NewIdempotencyRepository(),
			notifications:   memory.NewNotificationRepository(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires " + envPostgresDSN)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		return &runtimeDependencies{
			orders:          postgres.NewOrderRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			notifications:   postgres.NewNotificationRepository(store),
			store:           store,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// registerCheckers добавляет проверку postgres, если хранилище внешнее.
func (d *runtimeDependencies) registerCheckers(h *health.Handler) {
	if d.store != nil {
		h.RegisterChecker("postgres", health.NewPingChecker("postgres", d.store.Ping))
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		logger.WithError(err).Warn("failed to close postgres store")
	}
}
