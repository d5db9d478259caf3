package retry

import (
	"context"
	"slices"
	"time"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/reportutils"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/10gen/replset-harness/mtime"
	"github.com/pkg/errors"
)

// Info describes the state of a retry loop. The retried function receives
// it on every attempt.
type Info struct {
	attemptNumber int
	startTime     time.Time
}

// GetAttemptNumber returns the current attempt number (0-indexed).
func (ri *Info) GetAttemptNumber() int {
	return ri.attemptNumber
}

// GetDurationSoFar returns how long the loop has been running.
func (ri *Info) GetDurationSoFar() time.Duration {
	return time.Since(ri.startTime)
}

// Run calls f until it succeeds, returns a non-transient error, or the
// Retryer’s duration limit elapses. Sleeps between attempts back off
// exponentially. Context cancellation aborts the loop.
func (r *Retryer) Run(
	ctx context.Context,
	logger *logger.Logger,
	f func(context.Context, *Info) error,
) error {
	description := r.description.OrElse("retryable function")

	ri := &Info{startTime: time.Now()}
	sleepTime := r.minSleep

	for {
		err := f(ctx, ri)
		if err == nil {
			return nil
		}

		if !r.shouldRetry(logger, err) {
			return err
		}

		if ri.GetDurationSoFar()+sleepTime > r.retryLimit {
			return errors.WithStack(RetryDurationLimitExceededErr{
				description: description,
				lastErr:     err,
				attempts:    ri.attemptNumber + 1,
				duration:    ri.GetDurationSoFar(),
			})
		}

		logger.Debug().
			Err(err).
			Str("operation", description).
			Int("attemptNumber", ri.attemptNumber).
			Str("durationSoFar", reportutils.DurationToHMS(ri.GetDurationSoFar())).
			Stringer("sleep", sleepTime).
			Msg("Retrying after transient error.")

		if sleepErr := mtime.Sleep(ctx, sleepTime); sleepErr != nil {
			return errors.Wrapf(
				sleepErr,
				"%s aborted after %d attempt(s); last error was: %v",
				description,
				ri.attemptNumber+1,
				err,
			)
		}

		sleepTime = min(sleepTime*sleepTimeMultiplier, r.maxSleep)
		ri.attemptNumber++
	}
}

func (r *Retryer) shouldRetry(logger *logger.Logger, err error) bool {
	if util.IsTransientError(err) {
		return true
	}

	errCode := util.GetErrorCode(err)
	if slices.Contains(r.additionalErrorCodes, errCode) {
		logger.Debug().
			Int("error code", errCode).
			Err(err).
			Msg("Error is in the retryer’s additional codes list.")
		return true
	}

	return false
}
