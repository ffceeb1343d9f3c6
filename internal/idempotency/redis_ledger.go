package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements Ledger on top of Redis, for deployments running
// multiple supervisor processes against a shared dispatch ledger instead of
// the single-host file ledger.
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLedger returns a ledger that stores entries as Redis string keys
// under keyPrefix, connecting to addr.
func NewRedisLedger(addr, keyPrefix string) *RedisLedger {
	return &RedisLedger{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: keyPrefix,
	}
}

func (l *RedisLedger) redisKey(key string) string {
	return l.keyPrefix + ":" + key
}

func (l *RedisLedger) Lookup(ctx context.Context, key string) (string, bool, error) {
	sessionID, err := l.client.Get(ctx, l.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency: redis get %s: %w", key, err)
	}
	return sessionID, true, nil
}

func (l *RedisLedger) Record(ctx context.Context, key, sessionID string) error {
	if err := l.client.Set(ctx, l.redisKey(key), sessionID, 0).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
