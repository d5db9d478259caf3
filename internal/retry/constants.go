package retry

import "time"

const (
	// DefaultDurationLimit is the default time limit for all retries.
	DefaultDurationLimit = 2 * time.Minute

	// Constants for spacing out the retry attempts.
	// See: https://en.wikipedia.org/wiki/Exponential_backoff
	//
	// The sequence, in seconds, is: 0.25, 0.5, 1, 2, 4, 4, 4, ...
	minSleepTime        = 250 * time.Millisecond
	maxSleepTime        = 4 * time.Second
	sleepTimeMultiplier = 2
)
