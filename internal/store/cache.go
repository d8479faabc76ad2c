package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leafsii/combined-position/pkg/kv"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache key prefixes
const (
	KeyPrice     = "cp:price"
	KeySession   = "cp:session"
	KeyAllowance = "cp:allowance"
)

// Metrics records cache lookups by key family.
type Metrics interface {
	RecordCacheHit(ctx context.Context, key string)
	RecordCacheMiss(ctx context.Context, key string)
}

// Cache stores JSON values in a kv.Store.
type Cache struct {
	store   kv.Store
	logger  *zap.SugaredLogger
	metrics Metrics
}

func NewCache(store kv.Store, logger *zap.SugaredLogger, metrics Metrics) *Cache {
	return &Cache{store: store, logger: logger, metrics: metrics}
}

// family trims a key to its first two segments so metric labels stay bounded.
func family(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[0] + ":" + parts[1]
}

func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, family(key))
			}
			return ErrCacheMiss
		}
		if c.logger != nil {
			c.logger.Errorw("Cache get error", "key", key, "error", err)
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, family(key))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		if c.logger != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
		}
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

func PriceKey(symbol string) string {
	return fmt.Sprintf("%s:%s", KeyPrice, strings.ToUpper(symbol))
}

func SessionKey(id string) string {
	return fmt.Sprintf("%s:%s", KeySession, id)
}

func AllowanceKey(chainID, wallet, spender, token string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", KeyAllowance, chainID,
		strings.ToLower(wallet), strings.ToLower(spender), strings.ToLower(token))
}

func (c *Cache) GetPrice(ctx context.Context, symbol string, dest any) error {
	return c.Get(ctx, PriceKey(symbol), dest)
}

func (c *Cache) SetPrice(ctx context.Context, symbol string, value any, ttl time.Duration) error {
	return c.Set(ctx, PriceKey(symbol), value, ttl)
}

func (c *Cache) GetSession(ctx context.Context, id string, dest any) error {
	return c.Get(ctx, SessionKey(id), dest)
}

func (c *Cache) SetSession(ctx context.Context, id string, value any, ttl time.Duration) error {
	return c.Set(ctx, SessionKey(id), value, ttl)
}

func (c *Cache) DeleteSession(ctx context.Context, id string) error {
	return c.Delete(ctx, SessionKey(id))
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Cache) Close() error {
	return c.store.Close()
}
