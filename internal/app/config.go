package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/foodorders/internal/resilience"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Переменные окружения сервисов.
const (
	envHTTPAddr            = "FO_HTTP_ADDR"
	envMetricsAddr         = "FO_METRICS_ADDR"
	envLogLevel            = "FO_LOG_LEVEL"
	envStorageDriver       = "FO_STORAGE_DRIVER"
	envPostgresDSN         = "FO_POSTGRES_DSN"
	envPostgresAutoMigrate = "FO_POSTGRES_AUTO_MIGRATE"

	envCatalogAddr    = "FO_CATALOG_ADDR"
	envCatalogSeed    = "FO_CATALOG_SEED"
	envCatalogTimeout = "FO_CATALOG_TIMEOUT"

	envBreakerWindow       = "FO_BREAKER_WINDOW"
	envBreakerMinCalls     = "FO_BREAKER_MIN_CALLS"
	envBreakerFailureRatio = "FO_BREAKER_FAILURE_RATIO"
	envBreakerOpenTimeout  = "FO_BREAKER_OPEN_TIMEOUT"
	envBreakerHalfOpen     = "FO_BREAKER_HALF_OPEN_CALLS"
	envRetryMaxAttempts    = "FO_RETRY_MAX_ATTEMPTS"
	envRetryInitialDelay   = "FO_RETRY_INITIAL_DELAY"

	envKafkaBrokers = "FO_KAFKA_BROKERS"

	envOutboxPollInterval = "FO_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "FO_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "FO_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "FO_OUTBOX_RETRY_DELAY"

	envIdempotencyCleanupInterval  = "FO_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "FO_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyProcessingLease  = "FO_IDEMPOTENCY_PROCESSING_LEASE"

	envOTelEndpoint = "FO_OTEL_ENDPOINT"

	envNotifierGroup       = "FO_NOTIFIER_GROUP"
	envNotifierMaxAttempts = "FO_NOTIFIER_MAX_ATTEMPTS"
	envNotifierRetryDelay  = "FO_NOTIFIER_RETRY_DELAY"
	envNotifierLease       = "FO_NOTIFIER_PENDING_LEASE"
	envRedisAddr           = "FO_REDIS_ADDR"
	envRedisDedupTTL       = "FO_REDIS_DEDUP_TTL"
	envWebhookURL          = "FO_WEBHOOK_URL"
)

// EnvLookup читает переменную окружения; совместим с os.LookupEnv.
type EnvLookup func(string) (string, bool)

// OSLookup читает окружение процесса.
var OSLookup EnvLookup = os.LookupEnv

// StorageConfig — выбор и параметры хранилища.
type StorageConfig struct {
	Driver      string
	PostgresDSN string
	AutoMigrate bool
}

// OrderServiceConfig — настройки сервиса заказов.
type OrderServiceConfig struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	Storage     StorageConfig

	CatalogAddr string
	CatalogSeed string
	Catalog     resilience.Policy

	KafkaBrokers []string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	IdempotencyProcessingLease  time.Duration

	OTelEndpoint string
}

// NotifierConfig — настройки сервиса уведомлений.
type NotifierConfig struct {
	MetricsAddr string
	LogLevel    string
	Storage     StorageConfig

	KafkaBrokers []string
	GroupID      string
	MaxAttempts  int
	RetryDelay   time.Duration
	PendingLease time.Duration

	RedisAddr     string
	RedisDedupTTL time.Duration

	WebhookURL   string
	OTelEndpoint string
}

// DefaultOrderServiceConfig возвращает настройки по умолчанию.
func DefaultOrderServiceConfig() OrderServiceConfig {
	return OrderServiceConfig{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
		},
		Catalog:                     resilience.DefaultPolicy(),
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyProcessingLease:  2 * time.Minute,
	}
}

// DefaultNotifierConfig возвращает настройки по умолчанию.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MetricsAddr: ":9091",
		LogLevel:    "info",
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
		},
		GroupID:       "foodorders-notifier",
		MaxAttempts:   5,
		RetryDelay:    200 * time.Millisecond,
		PendingLease:  5 * time.Minute,
		RedisDedupTTL: 24 * time.Hour,
	}
}

// LoadOrderServiceConfig собирает конфигурацию из окружения.
// Некорректные значения заменяются значениями по умолчанию, о каждом возвращается предупреждение.
func LoadOrderServiceConfig(lookup EnvLookup) (OrderServiceConfig, []string) {
	cfg := DefaultOrderServiceConfig()
	r := envReader{lookup: lookup}

	r.str(envHTTPAddr, &cfg.HTTPAddr)
	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.str(envLogLevel, &cfg.LogLevel)
	r.storage(&cfg.Storage)

	r.str(envCatalogAddr, &cfg.CatalogAddr)
	r.str(envCatalogSeed, &cfg.CatalogSeed)
	r.duration(envCatalogTimeout, &cfg.Catalog.Timeout, positiveDuration, "must be > 0")
	r.integer(envBreakerWindow, &cfg.Catalog.Breaker.WindowSize, positiveInt, "must be > 0")
	r.integer(envBreakerMinCalls, &cfg.Catalog.Breaker.MinimumCalls, positiveInt, "must be > 0")
	r.ratio(envBreakerFailureRatio, &cfg.Catalog.Breaker.FailureRateThreshold)
	r.duration(envBreakerOpenTimeout, &cfg.Catalog.Breaker.OpenTimeout, positiveDuration, "must be > 0")
	r.integer(envBreakerHalfOpen, &cfg.Catalog.Breaker.HalfOpenMaxCalls, positiveInt, "must be > 0")
	r.integer(envRetryMaxAttempts, &cfg.Catalog.Retry.MaxAttempts, positiveInt, "must be > 0")
	r.duration(envRetryInitialDelay, &cfg.Catalog.Retry.InitialDelay, nonNegativeDuration, "must be >= 0")

	r.list(envKafkaBrokers, &cfg.KafkaBrokers)

	r.duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	r.integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	r.integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	r.duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	r.duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	r.integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")
	r.duration(envIdempotencyProcessingLease, &cfg.IdempotencyProcessingLease, positiveDuration, "must be > 0")

	r.str(envOTelEndpoint, &cfg.OTelEndpoint)

	if cfg.Catalog.Breaker.MinimumCalls > cfg.Catalog.Breaker.WindowSize {
		r.warnf("%s=%d exceeds %s=%d, using window size", envBreakerMinCalls, cfg.Catalog.Breaker.MinimumCalls, envBreakerWindow, cfg.Catalog.Breaker.WindowSize)
		cfg.Catalog.Breaker.MinimumCalls = cfg.Catalog.Breaker.WindowSize
	}

	return cfg, r.warnings
}

// LoadNotifierConfig собирает конфигурацию сервиса уведомлений из окружения.
func LoadNotifierConfig(lookup EnvLookup) (NotifierConfig, []string) {
	cfg := DefaultNotifierConfig()
	r := envReader{lookup: lookup}

	r.str(envMetricsAddr, &cfg.MetricsAddr)
	r.str(envLogLevel, &cfg.LogLevel)
	r.storage(&cfg.Storage)

	r.list(envKafkaBrokers, &cfg.KafkaBrokers)
	r.str(envNotifierGroup, &cfg.GroupID)
	r.integer(envNotifierMaxAttempts, &cfg.MaxAttempts, positiveInt, "must be > 0")
	r.duration(envNotifierRetryDelay, &cfg.RetryDelay, nonNegativeDuration, "must be >= 0")
	r.duration(envNotifierLease, &cfg.PendingLease, positiveDuration, "must be > 0")

	r.str(envRedisAddr, &cfg.RedisAddr)
	r.duration(envRedisDedupTTL, &cfg.RedisDedupTTL, positiveDuration, "must be > 0")

	r.str(envWebhookURL, &cfg.WebhookURL)
	r.str(envOTelEndpoint, &cfg.OTelEndpoint)

	return cfg, r.warnings
}

func positiveInt(v int) bool                   { return v > 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

type envReader struct {
	lookup   EnvLookup
	warnings []string
}

func (r *envReader) value(key string) (string, bool) {
	if r.lookup == nil {
		return "", false
	}
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) list(key string, dst *[]string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
}

func (r *envReader) integer(key string, dst *int, valid func(int) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseInt(raw, valid, rule)
	if err != nil {
		r.warnf("invalid %s=%q: %v, using default %d", key, raw, err, *dst)
		return
	}
	*dst = v
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseDuration(raw, valid, rule)
	if err != nil {
		r.warnf("invalid %s=%q: %v, using default %s", key, raw, err, *dst)
		return
	}
	*dst = v
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := parseBool(raw)
	if err != nil {
		r.warnf("invalid %s=%q: %v, using default %t", key, raw, err, *dst)
		return
	}
	*dst = v
}

func (r *envReader) ratio(key string, dst *float64) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err == nil && (v <= 0 || v > 1) {
		err = fmt.Errorf("must be in (0, 1]")
	}
	if err != nil {
		r.warnf("invalid %s=%q: %v, using default %g", key, raw, err, *dst)
		return
	}
	*dst = v
}

func (r *envReader) storage(dst *StorageConfig) {
	if raw, ok := r.value(envStorageDriver); ok {
		driver := strings.ToLower(raw)
		switch driver {
		case StorageDriverMemory, StorageDriverPostgres:
			dst.Driver = driver
		default:
			r.warnf("invalid %s=%q: must be %s or %s, using default %s", envStorageDriver, raw, StorageDriverMemory, StorageDriverPostgres, dst.Driver)
		}
	}
	r.str(envPostgresDSN, &dst.PostgresDSN)
	r.boolean(envPostgresAutoMigrate, &dst.AutoMigrate)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("%s", rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not a duration")
	}
	if valid != nil && !valid(v) {
		return 0, fmt.Errorf("%s", rule)
	}
	return v, nil
}
