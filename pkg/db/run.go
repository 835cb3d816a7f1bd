package db

import (
	"context"
	"fmt"
	"time"
)

// Run executes fn under a bounded wait. Timeouts and connectivity failures
// are reported as ErrStoreUnavailable; cancellation by the caller is
// returned as the caller's context error.
func Run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if opCtx.Err() != nil || IsUnavailableErr(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
