// Package cache keeps the latest tick per symbol in Redis so request-path
// consumers can read prices without touching the streaming connection.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bistbroker/internal/stream"
)

// TickCache stores the most recent tick per symbol with a TTL, so a symbol
// that stops trading ages out instead of serving a stale price forever.
type TickCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickCache connects to Redis at addr.
func NewTickCache(addr string, ttl time.Duration) *TickCache {
	return &TickCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func tickKey(symbol string) string { return "tick:" + symbol }

// SetLatest stores the tick as the symbol's latest price.
func (c *TickCache) SetLatest(ctx context.Context, tick stream.Tick) error {
	value, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, tickKey(tick.Symbol), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching tick for %s: %w", tick.Symbol, err)
	}
	return nil
}

// Latest returns the cached tick for a symbol, or nil when none is cached.
func (c *TickCache) Latest(ctx context.Context, symbol string) (*stream.Tick, error) {
	value, err := c.rdb.Get(ctx, tickKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tick stream.Tick
	if err := json.Unmarshal(value, &tick); err != nil {
		return nil, err
	}
	return &tick, nil
}

// Close releases the Redis connection.
func (c *TickCache) Close() error {
	return c.rdb.Close()
}
