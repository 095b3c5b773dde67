package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/devel-fonseca/ilpi-core/pkg/config"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

const healthProbeInterval = 5 * time.Second

// Store wraps a Redis client with fail-soft semantics and connection-state
// tracking. All cache layers share one Store; the underlying client pool
// handles its own concurrency.
type Store struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics

	connected atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore creates a Store and dials Redis with bounded exponential backoff.
// Exhausting the connect budget does not fail construction: the store starts
// degraded and the background health probe promotes it once Redis is back.
func NewStore(cfg config.RedisConfig, logger *observability.Logger, metrics *observability.Metrics) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	s := &Store{
		client:  redis.NewClient(opts),
		logger:  logger.WithField("component", "cache_store"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}

	s.connect(cfg.MaxConnectAttempts, cfg.MaxConnectBackoff)
	go s.monitor()

	return s, nil
}

// NewStoreWithClient wraps an existing client; used by tests and by callers
// that manage the client themselves.
func NewStoreWithClient(client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *Store {
	s := &Store{
		client:  client,
		logger:  logger.WithField("component", "cache_store"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
	s.probe(context.Background())
	go s.monitor()
	return s
}

// connect pings Redis with capped exponential backoff until it succeeds or
// the attempt budget runs out.
func (s *Store) connect(maxAttempts int, maxBackoff time.Duration) {
	backoff := 250 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()

		if err == nil {
			s.markConnected()
			return
		}

		s.logger.WithError(err).Warnf("redis connect attempt %d/%d failed", attempt, maxAttempts)
		if attempt == maxAttempts {
			break
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	s.markDegraded()
	s.logger.Error("redis unreachable after connect budget, starting degraded")
}

// monitor periodically probes Redis so a degraded store can recover without
// relying on request traffic.
func (s *Store) monitor() {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.probe(ctx)
			cancel()
		}
	}
}

func (s *Store) probe(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.markDegraded()
	} else {
		s.markConnected()
	}
}

func (s *Store) markConnected() {
	if !s.connected.Swap(true) {
		s.metrics.RedisConnected.Set(1)
		s.logger.Info("redis connected")
	}
}

func (s *Store) markDegraded() {
	if s.connected.Swap(false) {
		s.metrics.RedisConnected.Set(0)
		s.logger.Warn("redis connection lost, cache degraded")
	}
}

// Connected reports the current connection state. Layers use it to tell a
// genuine miss from a degraded read.
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// Get returns the raw value for key, or absent on miss, store error, or
// degraded state.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.connected.Load() {
		return nil, false
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.metrics.RedisCommandsTotal.WithLabelValues("get", "ok").Inc()
		return nil, false
	}
	if err != nil {
		s.fail("get", err)
		return nil, false
	}

	s.metrics.RedisCommandsTotal.WithLabelValues("get", "ok").Inc()
	return data, true
}

// GetJSON deserializes the value for key into dest. A corrupt entry is
// deleted and treated as a miss.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("corrupt cache entry, deleting")
		s.Del(ctx, key)
		return false
	}

	return true
}

// Set serializes value as JSON and stores it under key with the given TTL.
// Silently a no-op when the store is degraded or serialization fails.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.connected.Load() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("cache value not serializable")
		return
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.fail("set", err)
		return
	}
	s.metrics.RedisCommandsTotal.WithLabelValues("set", "ok").Inc()
}

// Del deletes the given keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) int {
	if !s.connected.Load() || len(keys) == 0 {
		return 0
	}

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		s.fail("del", err)
		return 0
	}
	s.metrics.RedisCommandsTotal.WithLabelValues("del", "ok").Inc()
	return int(n)
}

// Clear deletes every key matching the glob pattern via SCAN and returns the
// number deleted.
func (s *Store) Clear(ctx context.Context, pattern string) int {
	if !s.connected.Load() {
		return 0
	}

	deleted := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.fail("del", err)
			return deleted
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		s.fail("scan", err)
		return deleted
	}

	s.metrics.RedisCommandsTotal.WithLabelValues("scan", "ok").Inc()
	return deleted
}

// Count returns the number of keys matching pattern, or 0 when degraded.
func (s *Store) Count(ctx context.Context, pattern string) int {
	if !s.connected.Load() {
		return 0
	}

	n := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		s.fail("scan", err)
		return n
	}

	s.metrics.RedisCommandsTotal.WithLabelValues("scan", "ok").Inc()
	return n
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	if !s.connected.Load() {
		return false
	}

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.fail("exists", err)
		return false
	}
	s.metrics.RedisCommandsTotal.WithLabelValues("exists", "ok").Inc()
	return n > 0
}

// TTL returns the remaining lifetime of key in whole seconds, -1 for a key
// with no expiry, or -2 for an absent key (matching Redis semantics).
func (s *Store) TTL(ctx context.Context, key string) int64 {
	if !s.connected.Load() {
		return -2
	}

	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.fail("ttl", err)
		return -2
	}
	s.metrics.RedisCommandsTotal.WithLabelValues("ttl", "ok").Inc()

	if d < 0 {
		return int64(d)
	}
	return int64(d / time.Second)
}

// Refresh renews the TTL on an existing key without rewriting its value.
// Returns false if the key is absent or the store is degraded.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) bool {
	if !s.connected.Load() {
		return false
	}

	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.fail("expire", err)
		return false
	}
	s.metrics.RedisCommandsTotal.WithLabelValues("expire", "ok").Inc()
	return ok
}

// Client exposes the underlying Redis client for health checks.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close stops the health probe and releases the connection.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return s.client.Close()
}

// fail records a command failure and flips the store into its degraded state.
func (s *Store) fail(command string, err error) {
	s.metrics.RedisCommandsTotal.WithLabelValues(command, "error").Inc()
	s.logger.WithError(err).WithField("command", command).Debug("redis command failed")
	s.markDegraded()
}
