package vocabulary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
	"github.com/harishambati/fuzzyset/pkg/resilience"
)

// Source lists stored vocabulary values. *Store satisfies it.
type Source interface {
	LoadAll(ctx context.Context) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]string, error)

func (f SourceFunc) LoadAll(ctx context.Context) ([]string, error) { return f(ctx) }

// FileSource reads values with LoadFile.
func FileSource(path string) Source {
	return SourceFunc(func(context.Context) ([]string, error) {
		return LoadFile(path)
	})
}

// Seed loads src into dst, retrying failed loads with backoff. Each attempt
// is bounded by timeout. It returns how many values were new to dst.
func Seed(ctx context.Context, name string, src Source, dst Adder, retry resilience.RetryConfig, timeout time.Duration) (int, error) {
	start := time.Now()
	var values []string
	err := resilience.Retry(ctx, "load vocabulary from "+name, retry, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, timeout, name, func(ctx context.Context) error {
			v, err := src.LoadAll(ctx)
			values = v
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: loading from %s: %w", apperrors.ErrVocabularyUnavailable, name, err)
	}
	added, err := dst.AddAll(values)
	if err != nil {
		return added, fmt.Errorf("seeding from %s: %w", name, err)
	}
	slog.Default().With("component", "vocabulary").Info("vocabulary seeded",
		"source", name,
		"values", len(values),
		"added", added,
		"duration", time.Since(start),
	)
	return added, nil
}
