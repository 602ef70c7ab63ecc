// Package redis хранит быстрый кэш дедупликации уведомлений.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDedupTTL    = 24 * time.Hour
	defaultDedupPrefix = "foodorders:notified:"
)

var errClientNotInitialized = errors.New("redis client is not initialized")

// DedupCache отмечает обработанные ключи с TTL.
// Отсутствие ключа ничего не гарантирует: решение принимает хранилище уведомлений.
type DedupCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewDedupCache создаёт кэш поверх готового клиента.
func NewDedupCache(client goredis.UniversalClient, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &DedupCache{client: client, ttl: ttl, prefix: defaultDedupPrefix}
}

// Connect открывает клиента и проверяет соединение.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Seen сообщает, что ключ уже обработан.
func (c *DedupCache) Seen(ctx context.Context, key string) (bool, error) {
	if c == nil || c.client == nil {
		return false, errClientNotInitialized
	}
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Remember отмечает ключ обработанным на ttl.
func (c *DedupCache) Remember(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if err := c.client.Set(ctx, c.prefix+key, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность Redis (для health-check).
func (c *DedupCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	return c.client.Ping(ctx).Err()
}
