package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var redisStoreOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_redis_store_operations_total",
		Help: "Total number of Redis store operations",
	},
	[]string{"operation", "status"},
)

// incrementWithExpiryScript atomically increments a counter and sets its
// expiration on first write.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in seconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis, for rate limit state shared
// across gateway instances.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// DialTimeout for establishing connections.
	DialTimeout time.Duration
}

// NewRedisStore creates a new Redis-backed store and verifies
// connectivity with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &RedisStore{
		client: client,
		logger: logger,
		prefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a Redis store around an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		logger: logger,
		prefix: prefix,
	}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		redisStoreOperationsTotal.WithLabelValues("get", "miss").Inc()
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	redisStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return value, nil
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	seconds := int64(expiration / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	result, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.key(key)}, delta, seconds).Int64()
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("increment", "error").Inc()
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}

	redisStoreOperationsTotal.WithLabelValues("increment", "success").Inc()
	return result, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		redisStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	redisStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
