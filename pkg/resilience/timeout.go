package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
)

// WithTimeout runs fn with a context cancelled after timeout. fn is expected
// to honour ctx; WithTimeout waits for it to return. A non-positive timeout
// calls fn with ctx unchanged. An expired deadline is reported as both
// ErrTimeout and context.DeadlineExceeded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(tctx)
	if err != nil && ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, context.DeadlineExceeded)
	}
	return err
}
