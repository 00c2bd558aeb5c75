// Package redis is the Redis-backed series cache. Computed indicator
// results are stored as JSON under series:{location}:{fingerprint}:{name}
// so a bar update for a location invalidates only that location's entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/model"
)

const (
	keyPrefix        = "series"
	scanBatch        = 200
	breakerFailures  = 5
	breakerResetTime = 10 * time.Second
)

// ErrCacheMiss is returned by Get when no entry exists.
var ErrCacheMiss = errors.New("cache miss")

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Cache implements model.SeriesCache. Every call goes through a circuit
// breaker so an unreachable Redis degrades to direct computation.
type Cache struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	log     zerolog.Logger
}

var _ model.SeriesCache = (*Cache)(nil)

// New connects to Redis and pings the server.
func New(cfg Config, log zerolog.Logger) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := NewWithClient(client, log)
	c.log.Info().Str("addr", cfg.Addr).Msg("connected")
	return c, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, log zerolog.Logger) *Cache {
	cb := NewCircuitBreaker(breakerFailures, breakerResetTime)
	cb.IsFailure = func(err error) bool { return !errors.Is(err, ErrCacheMiss) }
	c := &Cache{
		client:  client,
		breaker: cb,
		log:     log.With().Str("component", "redis").Logger(),
	}
	cb.OnStateChange = func(from, to State) {
		c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	return c
}

// Breaker exposes the circuit breaker for metrics and health checks.
func (c *Cache) Breaker() *CircuitBreaker { return c.breaker }

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// Key builds the cache key for one indicator over one bar sequence.
func Key(location, fingerprint, name string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, location, fingerprint, name)
}

func locationPattern(location string) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, location)
}

// Get returns the cached result for key, ErrCacheMiss when absent, or
// ErrCircuitOpen while Redis is considered down.
func (c *Cache) Get(ctx context.Context, key string) (model.IndicatorResult, error) {
	var res model.IndicatorResult
	err := c.breaker.Execute(func() error {
		data, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		if err := json.Unmarshal(data, &res); err != nil {
			// A corrupt entry reads as a miss and is overwritten on the next Set.
			c.log.Warn().Str("key", key).Err(err).Msg("discarding unreadable cache entry")
			return ErrCacheMiss
		}
		return nil
	})
	return res, err
}

// Set stores res under key with ttl.
func (c *Cache) Set(ctx context.Context, key string, res model.IndicatorResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}
	return c.breaker.Execute(func() error {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", key, err)
		}
		return nil
	})
}

// Invalidate deletes every entry cached for location.
func (c *Cache) Invalidate(ctx context.Context, location string) error {
	return c.breaker.Execute(func() error {
		var cursor uint64
		deleted := 0
		for {
			keys, next, err := c.client.Scan(ctx, cursor, locationPattern(location), scanBatch).Result()
			if err != nil {
				return fmt.Errorf("redis scan: %w", err)
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("redis del: %w", err)
				}
				deleted += len(keys)
			}
			if next == 0 {
				break
			}
			cursor = next
		}
		c.log.Debug().Str("location", location).Int("keys", deleted).Msg("invalidated")
		return nil
	})
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
