package main

import (
	"bytes"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMutateMakesOneEdit(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 100 {
		got := mutate("Calculus", rng)
		assert.InDelta(t, len("Calculus"), len(got), 1)
	}
	assert.Equal(t, "x", mutate("x", rng))
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsRecord(t *testing.T) {
	s := NewStats()
	s.Record(time.Millisecond, http.StatusOK, []byte(`{"exact":true,"matches":[{}]}`))
	s.Record(time.Millisecond, http.StatusOK, []byte(`{"exact":false,"matches":[{}]}`))
	s.Record(time.Millisecond, http.StatusOK, []byte(`{"exact":false,"matches":[]}`))
	s.Record(time.Millisecond, http.StatusBadRequest, []byte(`{"error":"x"}`))
	s.Record(0, 0, nil)

	assert.Equal(t, int64(5), s.total.Load())
	assert.Equal(t, int64(1), s.exact.Load())
	assert.Equal(t, int64(1), s.fuzzy.Load())
	assert.Equal(t, int64(1), s.noMatch.Load())
	assert.Equal(t, int64(2), s.errors.Load())
	assert.Len(t, s.latency, 4)

	var out bytes.Buffer
	assert.True(t, printReport(&out, s, time.Second))
	assert.Contains(t, out.String(), "  400: 1")
}

func TestRunLoadTestAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exact":false,"matches":[{"score":0.9,"value":"Calculus"}]}`))
	}))
	defer srv.Close()

	s := runLoadTest(Config{BaseURL: srv.URL, Concurrency: 2, Duration: 50 * time.Millisecond, TypoRate: 1, Queries: []string{"Calculus"}})
	assert.Positive(t, s.fuzzy.Load())
	assert.Zero(t, s.exact.Load())
}
