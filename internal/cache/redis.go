package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Redis-backed store
// ---------------------------------------------------------------------------

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DefaultRedisConfig returns development defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 100,
	}
}

// RedisStore persists token records in redis, one JSON value per key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrCache, cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("cache: redis connected")
	return &RedisStore{client: client}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, address string) (*CachedTokenRecord, error) {
	raw, err := s.client.Get(ctx, Key(address)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrCache, err)
	}

	var rec CachedTokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record %s: %v", ErrCache, address, err)
	}
	return &rec, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, record *CachedTokenRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record %s: %v", ErrCache, record.Address, err)
	}
	if err := s.client.Set(ctx, Key(record.Address), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrCache, err)
	}
	return nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, address string) (bool, error) {
	n, err := s.client.Exists(ctx, Key(address)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists: %v", ErrCache, err)
	}
	return n > 0, nil
}

// ListKeys implements Store. SCAN keeps the iteration incremental so a
// large cache never blocks the server.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var addresses []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, KeyPrefix) {
			addresses = append(addresses, AddressFromKey(key))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrCache, err)
	}
	return addresses, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrCache, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
