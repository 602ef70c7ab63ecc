package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorders/internal/app"
)

func main() {
	cfg, warnings := app.LoadNotifierConfig(app.OSLookup)

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"metrics_addr":  cfg.MetricsAddr,
		"kafka_brokers": cfg.KafkaBrokers,
		"group":         cfg.GroupID,
		"redis":         cfg.RedisAddr != "",
		"webhook":       cfg.WebhookURL != "",
	}).Info("запускаем notifier")

	if err := app.RunNotifier(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("notifier завершился с ошибкой")
	}

	log.Info("notifier остановлен")
}
