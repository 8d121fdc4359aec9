package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	// URL is redis://host:port/db or rediss://host:port/db for TLS.
	URL string

	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Sentinel is used when both addresses and a master name are set.
	SentinelAddrs    []string
	SentinelMaster   string
	SentinelPassword string

	HealthCheckInterval time.Duration
}

// DefaultRedisConfig returns sensible defaults for Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:            50,
		MinIdleConns:        5,
		PoolTimeout:         4 * time.Second,
		IdleTimeout:         5 * time.Minute,
		DialTimeout:         5 * time.Second,
		ReadTimeout:         3 * time.Second,
		WriteTimeout:        3 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisConfigFromURL builds a config for url plus the optional
// REDIS_SENTINEL_* environment variables.
func RedisConfigFromURL(url string) *RedisConfig {
	config := DefaultRedisConfig()
	config.URL = url
	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		config.SentinelAddrs = strings.Split(addrs, ",")
	}
	config.SentinelMaster = os.Getenv("REDIS_SENTINEL_MASTER")
	config.SentinelPassword = os.Getenv("REDIS_SENTINEL_PASSWORD")
	return config
}

// RedisClient wraps the go-redis client with a background health check.
type RedisClient struct {
	client     redis.UniversalClient
	isSentinel bool
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, config *RedisConfig) (*RedisClient, error) {
	if config == nil || (config.URL == "" && len(config.SentinelAddrs) == 0) {
		return nil, fmt.Errorf("redis URL is required")
	}

	rc := &RedisClient{stop: make(chan struct{})}

	var err error
	if len(config.SentinelAddrs) > 0 && config.SentinelMaster != "" {
		rc.client = rc.createSentinelClient(config)
		rc.isSentinel = true
	} else {
		rc.client, err = rc.createStandardClient(config)
		if err != nil {
			return nil, err
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.client.Ping(pingCtx).Err(); err != nil {
		rc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if config.HealthCheckInterval > 0 {
		rc.wg.Add(1)
		go rc.runHealthCheck(config.HealthCheckInterval)
	}

	logging.L().Info("redis connected", zap.Bool("sentinel", rc.isSentinel))
	return rc, nil
}

func (rc *RedisClient) createStandardClient(config *RedisConfig) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns
	opts.PoolTimeout = config.PoolTimeout
	opts.IdleTimeout = config.IdleTimeout
	opts.DialTimeout = config.DialTimeout
	opts.ReadTimeout = config.ReadTimeout
	opts.WriteTimeout = config.WriteTimeout
	return redis.NewClient(opts), nil
}

func (rc *RedisClient) createSentinelClient(config *RedisConfig) redis.UniversalClient {
	opts := &redis.FailoverOptions{
		MasterName:       config.SentinelMaster,
		SentinelAddrs:    config.SentinelAddrs,
		SentinelPassword: config.SentinelPassword,
		PoolSize:         config.PoolSize,
		MinIdleConns:     config.MinIdleConns,
		PoolTimeout:      config.PoolTimeout,
		IdleTimeout:      config.IdleTimeout,
		DialTimeout:      config.DialTimeout,
		ReadTimeout:      config.ReadTimeout,
		WriteTimeout:     config.WriteTimeout,
	}
	if config.URL != "" {
		if parsed, err := redis.ParseURL(config.URL); err == nil {
			opts.Password = parsed.Password
			opts.DB = parsed.DB
		}
	}
	return redis.NewFailoverClient(opts)
}

func (rc *RedisClient) runHealthCheck(interval time.Duration) {
	defer rc.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rc.client.Ping(ctx).Err(); err != nil {
				logging.L().Warn("redis health check failed", zap.Error(err))
			}
			cancel()
		case <-rc.stop:
			return
		}
	}
}

// Client returns the underlying client.
func (rc *RedisClient) Client() redis.UniversalClient {
	return rc.client
}

// Health reports connectivity and pool statistics.
func (rc *RedisClient) Health(ctx context.Context) map[string]interface{} {
	start := time.Now()
	err := rc.client.Ping(ctx).Err()
	health := map[string]interface{}{
		"healthy":    err == nil,
		"latency_ms": time.Since(start).Milliseconds(),
		"sentinel":   rc.isSentinel,
	}
	if err != nil {
		health["error"] = err.Error()
	}
	if stats := rc.client.PoolStats(); stats != nil {
		health["pool_hits"] = stats.Hits
		health["pool_misses"] = stats.Misses
		health["pool_total_conns"] = stats.TotalConns
		health["pool_idle_conns"] = stats.IdleConns
	}
	return health
}

// Close stops the health check and closes the connection.
func (rc *RedisClient) Close() error {
	rc.stopOnce.Do(func() { close(rc.stop) })
	rc.wg.Wait()
	return rc.client.Close()
}
