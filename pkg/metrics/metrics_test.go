package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MatchQueriesTotal.WithLabelValues("fuzzy").Inc()
	m.VocabularySize.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchQueriesTotal.WithLabelValues("fuzzy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.VocabularySize))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// a second set on a fresh registry must not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
