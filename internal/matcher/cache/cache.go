// Package cache memoizes match results in Redis. Keys include the index
// generation, so results computed before a vocabulary change are never
// served after it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harishambati/fuzzyset/internal/matcher"
	"github.com/harishambati/fuzzyset/pkg/metrics"
	pkgredis "github.com/harishambati/fuzzyset/pkg/redis"
	"github.com/harishambati/fuzzyset/pkg/resilience"
)

const keyPrefix = "match:"

// Backend is the key/value store behind the cache. *redis.Client satisfies
// it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Key identifies one cached match.
type Key struct {
	Query      string
	MinScore   float64
	Limit      int
	Generation int
	Digest     uint64
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *QueryCache {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("match-cache", resilience.CircuitBreakerConfig{})
	}
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "match-cache"),
	}
}

// Get returns the cached result for k. Backend errors count as misses.
func (c *QueryCache) Get(ctx context.Context, k Key) (*matcher.MatchResult, bool) {
	key := buildKey(k)
	var data []byte
	err := c.breaker.Execute(func() error {
		b, err := c.backend.Get(ctx, key)
		if errors.Is(err, pkgredis.ErrMiss) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if data == nil {
		c.recordMiss()
		return nil, false
	}
	var result matcher.MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return &result, true
}

// Set stores result under k. Failures are logged, not returned.
func (c *QueryCache) Set(ctx context.Context, k Key, result *matcher.MatchResult) {
	key := buildKey(k)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	}); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for k, or runs compute once per key
// across concurrent callers and caches its result. The bool reports a cache
// hit.
func (c *QueryCache) GetOrCompute(ctx context.Context, k Key, compute func() (*matcher.MatchResult, error)) (*matcher.MatchResult, bool, error) {
	if result, ok := c.Get(ctx, k); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(buildKey(k), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, k, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*matcher.MatchResult), false, nil
}

// Invalidate deletes every cached match and returns the number removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.breaker.Execute(func() error {
		n, err := c.backend.DeletePrefix(ctx, keyPrefix)
		deleted = n
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("invalidating match cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the circuit state guarding the backend.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(k Key) string {
	raw := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(k.Query)),
		strconv.FormatFloat(k.MinScore, 'g', -1, 64),
		strconv.Itoa(k.Limit),
		strconv.Itoa(k.Generation),
		strconv.FormatUint(k.Digest, 16),
	}, "\x00")
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, sum[:16])
}
