// Package app собирает сервисы платформы из конфигурации и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/authz"
	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/foodorders/internal/health"
	"github.com/vladislavdragonenkov/foodorders/internal/httpapi"
	"github.com/vladislavdragonenkov/foodorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/foodorders/internal/metrics"
	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
	"github.com/vladislavdragonenkov/foodorders/internal/restaurant"
	"github.com/vladislavdragonenkov/foodorders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodorders/internal/service/order"
	"github.com/vladislavdragonenkov/foodorders/internal/service/outbox"
	"github.com/vladislavdragonenkov/foodorders/internal/telemetry"
	"github.com/vladislavdragonenkov/foodorders/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает сервис заказов и блокируется до отмены ctx или падения HTTP-сервера.
func Run(ctx context.Context, cfg OrderServiceConfig) error {
	logger := log.WithField("component", "order-service")
	logger.WithFields(version.Fields("order-service")).Info("starting")
	if err := version.RegisterBuildInfo(nil, "order-service"); err != nil {
		logger.WithError(err).Warn("failed to register build info")
	}

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "order-service",
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(shutdownTracing, logger, "tracer provider")

	deps, err := initRuntimeDependencies(ctx, cfg.Storage, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(logger)

	catalog, closeCatalog, err := initCatalog(cfg, logger.WithField("layer", "catalog"))
	if err != nil {
		return err
	}
	defer closeCatalog()

	shield := resilience.NewShield("restaurant-catalog", cfg.Catalog,
		resilience.WithLogger(logger.WithField("layer", "resilience")))
	validator := restaurant.NewValidator(catalog, shield,
		restaurant.WithLogger(logger.WithField("layer", "validator")))

	orders := order.NewService(deps.orders, validator, authz.NewPolicy(validator),
		order.WithLogger(logger.WithField("layer", "service")),
		order.WithMetrics(metrics.NewOrderMetrics()),
	)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(producer, logger)

	var workers sync.WaitGroup
	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDeadLetters(publisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(workersCtx)
		}()
	} else {
		logger.Warn(envKafkaBrokers + " is not set, outbox events stay pending")
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithProcessingLease(cfg.IdempotencyProcessingLease),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanup.Run(workersCtx)
	}()

	api := httpapi.NewHandler(orders,
		httpapi.WithIdempotency(idempotency.NewGuard(deps.idempotencyRepo)),
		httpapi.WithMetrics(metrics.NewHTTPMetrics()),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)
	healthHandler.RegisterChecker("catalog", healthcheck.NewBreakerChecker("catalog", shield.Breaker()))
	healthHandler.RegisterChecker("outbox", outboxChecker{repo: deps.outboxRepo, publishing: producer != nil})

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initCatalog выбирает источник каталога: удалённый gRPC-сервис или локальный seed.
func initCatalog(cfg OrderServiceConfig, logger *log.Entry) (domain.RestaurantCatalog, func(), error) {
	if cfg.CatalogAddr != "" {
		conn, err := restaurant.DialCatalog(cfg.CatalogAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("addr", cfg.CatalogAddr).Info("using remote restaurant catalog")
		return restaurant.NewCatalogClient(conn), func() {
			if err := conn.Close(); err != nil {
				logger.WithError(err).Warn("failed to close catalog connection")
			}
		}, nil
	}

	dir := restaurant.NewDirectory()
	if cfg.CatalogSeed != "" {
		seed, err := restaurant.LoadSeed(cfg.CatalogSeed)
		if err != nil {
			return nil, nil, err
		}
		if _, err := seed.Apply(dir); err != nil {
			return nil, nil, err
		}
	}
	logger.WithField("restaurants", len(dir.Restaurants())).Warn("using in-process restaurant catalog")
	return dir, func() {}, nil
}

// outboxChecker сообщает degraded, когда публикация выключена и в outbox копятся события.
type outboxChecker struct {
	repo       domain.OutboxRepository
	publishing bool
}

func (c outboxChecker) Check(ctx context.Context) healthcheck.Check {
	start := time.Now()
	check := healthcheck.Check{Name: "outbox", Status: healthcheck.StatusHealthy}
	stats, err := c.repo.Stats(ctx)
	check.DurationMs = time.Since(start).Milliseconds()
	switch {
	case err != nil:
		check.Status = healthcheck.StatusUnhealthy
		check.Message = err.Error()
	case !c.publishing && stats.PendingCount > 0:
		check.Status = healthcheck.StatusDegraded
		check.Message = fmt.Sprintf("%d pending events, kafka is not configured", stats.PendingCount)
	}
	return check
}

// startMetricsServer запускает /metrics и проверки здоровья.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func shutdownWithTimeout(shutdown telemetry.ShutdownFunc, logger *log.Entry, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warnf("failed to shut down %s", what)
	}
}
