package app

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/foodorders/internal/health"
	"github.com/vladislavdragonenkov/foodorders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/foodorders/internal/service/notifier"
	"github.com/vladislavdragonenkov/foodorders/internal/storage/redis"
	"github.com/vladislavdragonenkov/foodorders/internal/telemetry"
	"github.com/vladislavdragonenkov/foodorders/internal/version"
)

// notifierMaxRetryDelay — потолок паузы между попытками обработки сообщения.
const notifierMaxRetryDelay = 5 * time.Second

// RunNotifier запускает потребителя событий, рассылающего уведомления.
func RunNotifier(ctx context.Context, cfg NotifierConfig) error {
	logger := log.WithField("component", "notifier")
	logger.WithFields(version.Fields("notifier")).Info("starting")
	if err := version.RegisterBuildInfo(nil, "notifier"); err != nil {
		logger.WithError(err).Warn("failed to register build info")
	}

	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("notifier requires " + envKafkaBrokers)
	}

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "notifier",
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

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)

	opts := []notifier.Option{
		notifier.WithLogger(logger.WithField("layer", "notifier")),
		notifier.WithPendingLease(cfg.PendingLease),
	}
	if client := initRedis(ctx, cfg.RedisAddr, logger); client != nil {
		defer func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		}()
		cache := redis.NewDedupCache(client, cfg.RedisDedupTTL)
		opts = append(opts, notifier.WithDedupCache(cache))
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", cache.Ping))
	}

	n := notifier.New(deps.notifications, newChannel(cfg.WebhookURL, logger), opts...)

	dlq, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(dlq, logger)

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.GroupID,
		[]string{kafka.TopicOrderEvents, kafka.TopicRestaurantEvents},
		n.MessageHandler(),
		kafka.WithDeadLetterProducer(dlq),
		kafka.WithRetry(cfg.MaxAttempts, cfg.RetryDelay, notifierMaxRetryDelay),
		kafka.WithConsumerLogger(logger.WithField("layer", "consumer")),
	)
	if err != nil {
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	go n.RunRecovery(ctx, cfg.PendingLease/2)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем consumer")
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop consumer")
	}
	return ctx.Err()
}

// initRedis подключает кэш дедупликации. Redis — только быстрый путь,
// поэтому недоступность не мешает запуску.
func initRedis(ctx context.Context, addr string, logger *log.Entry) *goredis.Client {
	if addr == "" {
		return nil
	}
	client, err := redis.Connect(ctx, addr)
	if err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable, dedup cache disabled")
		return nil
	}
	logger.WithField("addr", addr).Info("redis dedup cache enabled")
	return client
}

func newChannel(webhookURL string, logger *log.Entry) notifier.Channel {
	if webhookURL == "" {
		logger.Warn(envWebhookURL + " is not set, notifications are written to the log")
		return notifier.NewLogChannel(logger.WithField("layer", "channel"))
	}
	return notifier.NewWebhookChannel(webhookURL, nil)
}
