package util

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// WrapCtxErrWithCause returns the context’s error joined with its cause,
// if any. errors.Is() still matches the standard context errors
// (e.g., context.DeadlineExceeded) as well as the cause.
func WrapCtxErrWithCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	err := ctx.Err()

	if cause == nil {
		return err
	}

	// A cause that already wraps the context’s error would read twice
	// (“context canceled: stopping (context canceled)”).
	if errors.Is(cause, err) {
		return cause
	}

	if errors.Is(err, cause) {
		return err
	}

	return fmt.Errorf("%w: %w", err, cause)
}

// WithTimeoutCause is context.WithTimeoutCause, but the cause also records
// the timeout so that error messages say how long was waited.
func WithTimeoutCause(
	ctx context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	wrappedCause := errors.Wrapf(cause, "timed out after %s", timeout)

	return context.WithTimeoutCause(ctx, timeout, wrappedCause)
}

// DetachedWithTimeout returns a context that keeps ctx’s values but not its
// cancellation, bounded by the given timeout. Cleanup work that must run
// even after the caller gave up uses this.
func DetachedWithTimeout(
	ctx context.Context,
	timeout time.Duration,
) (context.Context, context.CancelFunc) {
	return WithTimeoutCause(
		context.WithoutCancel(ctx),
		timeout,
		errors.New("cleanup deadline reached"),
	)
}
