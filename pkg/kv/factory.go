package kv

import (
	"context"
	"fmt"
	"time"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

type Config struct {
	Backend Backend

	// RedisURL is required for the redis backend, e.g. redis://localhost:6379/0.
	RedisURL string

	// JanitorInterval is how often the memory backend evicts expired keys.
	JanitorInterval time.Duration

	// ProbeInterval is how often a failed-over store pings redis for recovery.
	ProbeInterval time.Duration

	StartupProbeTimeout time.Duration

	Logger LogFunc
}

// StoreFactory builds a backend. Backends register themselves from init so
// this package does not import them.
type StoreFactory func(cfg Config) (Store, error)

var factories = make(map[Backend]StoreFactory)

func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(string, ...any) {}
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return build(BackendMemory, cfg)
	case BackendRedis:
		return newRedisWithFailover(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)", cfg.Backend, BackendMemory, BackendRedis)
	}
}

func build(backend Backend, cfg Config) (Store, error) {
	factory, ok := factories[backend]
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", backend)
	}
	return factory(cfg)
}

func newRedisWithFailover(cfg Config) (Store, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
	}

	memory, err := build(BackendMemory, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store for failover: %w", err)
	}

	redis, err := build(BackendRedis, cfg)
	if err != nil {
		cfg.Logger("Redis unavailable at startup; using in-memory store", "error", err.Error())
		return memory, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	if err := redis.Ping(ctx); err != nil {
		cfg.Logger("Redis unhealthy at startup; using in-memory store (will retry in background)", "error", err.Error())
		return NewFailoverStoreWithFallbackActive(redis, memory, cfg.ProbeInterval, cfg.Logger), nil
	}

	cfg.Logger("Redis healthy at startup; using Redis with in-memory failover")
	return NewFailoverStore(redis, memory, cfg.ProbeInterval, cfg.Logger), nil
}
