package mtime

import (
	"context"
	"time"

	"github.com/10gen/replset-harness/internal/util"
)

// Sleep is like the standard library’s time.Sleep() but will stop
// waiting if its context is canceled. The return is the context’s error
// joined with its cause, or nil if the full duration was reached.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return util.WrapCtxErrWithCause(ctx)
	case <-timer.C:
		return nil
	}
}
