// Команда restaurant-catalog — gRPC-каталог ресторанов для разработки и тестов.
// Наполняется из YAML и при заданных брокерах публикует restaurant.created.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/foodorders/internal/domain"
	"github.com/vladislavdragonenkov/foodorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/foodorders/internal/restaurant"
	"github.com/vladislavdragonenkov/foodorders/internal/version"
)

type config struct {
	GRPCAddr     string   `env:"FO_CATALOG_GRPC_ADDR" env-default:":50052" env-description:"gRPC listen address"`
	MetricsAddr  string   `env:"FO_METRICS_ADDR" env-default:":9092" env-description:"metrics listen address"`
	SeedPath     string   `env:"FO_CATALOG_SEED" env-default:"catalog.yaml" env-description:"YAML or JSON catalog seed"`
	KafkaBrokers []string `env:"FO_KAFKA_BROKERS" env-separator:"," env-description:"brokers for restaurant.created events"`
	LogLevel     string   `env:"FO_LOG_LEVEL" env-default:"info"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return config{}, fmt.Errorf("read catalog config: %w", err)
	}
	return cfg, nil
}

// eventPublisher — часть kafka.Producer, нужная каталогу.
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event domain.Event) error
}

// publishRestaurants публикует restaurant.created для каждого ресторана из seed.
// Ошибка по одному ресторану не останавливает остальные.
func publishRestaurants(ctx context.Context, publisher eventPublisher, restaurants []domain.Restaurant, now time.Time, logger *log.Entry) int {
	published := 0
	for _, r := range restaurants {
		ev := domain.NewRestaurantCreatedEvent(r, now)
		if err := publisher.PublishEvent(ctx, kafka.TopicRestaurantEvents, r.ID, ev); err != nil {
			logger.WithError(err).WithField("restaurant_id", r.ID).Warn("failed to publish restaurant.created")
			continue
		}
		published++
	}
	return published
}

// newGRPCServer собирает сервер каталога с метриками, health и reflection.
func newGRPCServer(catalog domain.RestaurantCatalog, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	restaurant.RegisterCatalogServer(srv, restaurant.NewCatalogServer(catalog))
	grpcMetrics.InitializeMetrics(srv)
	reflection.Register(srv)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, healthServer
}

func run(ctx context.Context, cfg config, logger *log.Entry) error {
	seed, err := restaurant.LoadSeed(cfg.SeedPath)
	if err != nil {
		return err
	}
	dir := restaurant.NewDirectory()
	restaurants, err := seed.Apply(dir)
	if err != nil {
		return err
	}
	logger.WithField("restaurants", len(restaurants)).Info("catalog seeded")

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("kafka is unavailable, restaurant events are not published")
		} else {
			n := publishRestaurants(ctx, producer, restaurants, time.Now().UTC(), logger)
			logger.WithField("published", n).Info("restaurant.created events published")
			if err := producer.Close(); err != nil {
				logger.WithError(err).Warn("failed to close kafka producer")
			}
		}
	}

	srv, healthServer := newGRPCServer(dir, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC каталог слушает %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			srv.Stop()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithFields(version.Fields("restaurant-catalog"))
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("каталог завершился с ошибкой")
	}
	logger.Info("каталог остановлен")
}
