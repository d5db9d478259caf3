package retry

import (
	"fmt"
	"time"

	"github.com/10gen/replset-harness/internal/reportutils"
)

// RetryDurationLimitExceededErr is returned when a retried function keeps
// failing transiently past the Retryer’s duration limit.
type RetryDurationLimitExceededErr struct {
	description string
	lastErr     error
	attempts    int
	duration    time.Duration
}

func (rde RetryDurationLimitExceededErr) Error() string {
	return fmt.Sprintf(
		"%s did not succeed after %d attempt(s) over %s; last error was: %v",
		rde.description,
		rde.attempts,
		reportutils.DurationToHMS(rde.duration),
		rde.lastErr,
	)
}

func (rde RetryDurationLimitExceededErr) Unwrap() error {
	return rde.lastErr
}

// Attempts returns how many times the function ran.
func (rde RetryDurationLimitExceededErr) Attempts() int {
	return rde.attempts
}
