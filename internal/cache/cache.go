// Package cache is a Redis-backed result cache for score envelopes:
// identical batches short-circuit to the envelope they produced before.
package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "scoring:result:"

type Config struct {
	Addr   string
	DB     int
	TTL    time.Duration
	Logger *slog.Logger
}

// ScoreCache stores successful envelopes keyed by the request body digest.
// Lookups degrade to misses on any Redis failure; the cache never blocks
// scoring.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(cfg Config) *ScoreCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ScoreCache{
		client: redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		}),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *ScoreCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ScoreCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("score_cache_get_failed", "error", err.Error())
		return nil, false
	}
	return raw, true
}

func (c *ScoreCache) Put(ctx context.Context, key string, envelope []byte) {
	if err := c.client.Set(ctx, keyPrefix+key, envelope, c.ttl).Err(); err != nil {
		c.logger.Warn("score_cache_put_failed", "error", err.Error())
	}
}

func (c *ScoreCache) Close() error {
	return c.client.Close()
}
