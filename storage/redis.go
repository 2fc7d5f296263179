package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisStore's connection.
type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	DefaultTTL   time.Duration `yaml:"defaultTTL" json:"defaultTTL"`
	MaxRetries   int           `yaml:"maxRetries" json:"maxRetries"`
	PoolSize     int           `yaml:"poolSize" json:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns" json:"minIdleConns"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" json:"healthCheckInterval"`
}

// DefaultRedisConfig returns sensible connection defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		DefaultTTL:          24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisStore is a Store backed by Redis, keyed "session:{id}" and
// "replay:{id}" per the boundary adapter's documented layout.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and starts a background health-check
// loop logging connectivity loss.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "store")),
	}

	if cfg.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("redis store initialized", zap.String("addr", cfg.Addr))
	return s, nil
}

func (s *RedisStore) healthCheckLoop() {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err != nil {
			s.logger.Warn("redis health check failed", zap.Error(err))
		}
	}
}

func sessionKey(id string) string { return "session:" + id }
func replayKey(id string) string  { return "replay:" + id }

func (s *RedisStore) SaveSession(ctx context.Context, id string, blob []byte) error {
	return s.set(ctx, sessionKey(id), blob)
}

func (s *RedisStore) LoadSession(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, sessionKey(id))
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return s.del(ctx, sessionKey(id))
}

func (s *RedisStore) SaveReplay(ctx context.Context, id string, blob []byte) error {
	return s.set(ctx, replayKey(id), blob)
}

func (s *RedisStore) LoadReplay(ctx context.Context, id string) ([]byte, error) {
	return s.get(ctx, replayKey(id))
}

func (s *RedisStore) set(ctx context.Context, key string, blob []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := s.client.Set(ctx, key, blob, s.cfg.DefaultTTL).Err(); err != nil {
		s.logger.Error("store set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		s.logger.Error("store get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("store get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) del(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.client.Del(ctx, key).Err()
}

// Ping reports whether the Redis connection is reachable, used by the
// boundary adapter's readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
