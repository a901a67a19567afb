package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/pabbly/hookdash/pkg/errors"
)

// WithTimeout runs fn under a deadline of limit; zero or less means none. fn
// must honour ctx. When the deadline, not the caller, ends the call the error
// matches both apperrors.ErrTimeout and context.DeadlineExceeded.
func WithTimeout(ctx context.Context, limit time.Duration, name string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := fn(tctx)
	if err == nil || ctx.Err() != nil || tctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, limit, context.DeadlineExceeded)
}
