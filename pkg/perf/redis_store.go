package perf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odvcencio/moerouter/pkg/model"
)

// DefaultTTL is how long persisted performance entries live in Redis.
const DefaultTTL = 30 * 24 * time.Hour

// RedisStore persists metrics in Redis with per-key expiry. It is an
// optional cache: callers fall back to MemoryStore when Redis is
// unreachable at startup.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis connects to addr and verifies the server responds. Callers
// that receive an error should fall back to in-memory storage.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("perf: redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, ttl), nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, modelID string, task model.TaskType) (Metrics, bool, error) {
	val, err := s.client.Get(ctx, StoreKey(modelID, task)).Result()
	if errors.Is(err, redis.Nil) {
		return Metrics{}, false, nil
	}
	if err != nil {
		return Metrics{}, false, fmt.Errorf("perf: redis get: %w", err)
	}

	var m Metrics
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return Metrics{}, false, fmt.Errorf("perf: decode %s: %w", StoreKey(modelID, task), err)
	}
	return m, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, modelID string, task model.TaskType, m Metrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("perf: encode metrics: %w", err)
	}
	if err := s.client.Set(ctx, StoreKey(modelID, task), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("perf: redis set: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
