package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harishambati/fuzzyset/internal/fuzzy"
	"github.com/harishambati/fuzzyset/internal/matcher"
	"github.com/harishambati/fuzzyset/pkg/metrics"
	pkgredis "github.com/harishambati/fuzzyset/pkg/redis"
	"github.com/harishambati/fuzzyset/pkg/resilience"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (b *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	v, ok := b.data[key]
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.data[key] = value
	return nil
}

func (b *memBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResult() *matcher.MatchResult {
	return &matcher.MatchResult{
		Query:        "calculas",
		Prepared:     "calculas",
		Matches:      []fuzzy.Match{{Score: 0.875, Value: "Calculus"}},
		TotalMatches: 1,
		Generation:   3,
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(newMemBackend(), time.Minute, nil, m)
	ctx := context.Background()
	k := Key{Query: "Calculas", MinScore: 0.33, Limit: 10, Generation: 3}

	calls := 0
	compute := func() (*matcher.MatchResult, error) {
		calls++
		return sampleResult(), nil
	}
	res, hit, err := c.GetOrCompute(ctx, k, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Calculus", res.Matches[0].Value)

	res, hit, err = c.GetOrCompute(ctx, Key{Query: " calculas ", MinScore: 0.33, Limit: 10, Generation: 3}, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sampleResult(), res)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestKeyIncludesGeneration(t *testing.T) {
	base := Key{Query: "calc", MinScore: 0.33, Limit: 10, Generation: 1}
	assert.Equal(t, buildKey(base), buildKey(Key{Query: "CALC", MinScore: 0.33, Limit: 10, Generation: 1}))

	for _, other := range []Key{
		{Query: "calc", MinScore: 0.33, Limit: 10, Generation: 2},
		{Query: "calc", MinScore: 0.5, Limit: 10, Generation: 1},
		{Query: "calc", MinScore: 0.33, Limit: 5, Generation: 1},
		{Query: "calk", MinScore: 0.33, Limit: 10, Generation: 1},
		{Query: "calc", MinScore: 0.33, Limit: 10, Generation: 1, Digest: 7},
	} {
		assert.NotEqual(t, buildKey(base), buildKey(other), "%+v", other)
	}
	assert.True(t, strings.HasPrefix(buildKey(base), keyPrefix))
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c := New(newMemBackend(), time.Minute, nil, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), Key{Query: "x"}, func() (*matcher.MatchResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBackendFailureFallsThroughAndTripsBreaker(t *testing.T) {
	backend := newMemBackend()
	backend.err = errors.New("connection refused")
	breaker := resilience.NewCircuitBreaker("test-cache", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := New(backend, time.Minute, breaker, nil)

	var calls atomic.Int32
	for range 3 {
		res, hit, err := c.GetOrCompute(context.Background(), Key{Query: "calc"}, func() (*matcher.MatchResult, error) {
			calls.Add(1)
			return sampleResult(), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.NotNil(t, res)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.Invalidate(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	backend.data["other:key"] = []byte("x")
	c := New(backend, time.Minute, nil, nil)
	ctx := context.Background()
	c.Set(ctx, Key{Query: "a"}, sampleResult())
	c.Set(ctx, Key{Query: "b"}, sampleResult())

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, backend.data, 1)

	_, ok := c.Get(ctx, Key{Query: "a"})
	assert.False(t, ok)
}

func TestRedisClientSatisfiesBackend(t *testing.T) {
	var _ Backend = (*pkgredis.Client)(nil)
}
