package retry

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Retryer reruns operations that fail because of transient errors, e.g.
// network failures while a mongod starts up or steps down.
type Retryer struct {
	retryLimit           time.Duration
	minSleep             time.Duration
	maxSleep             time.Duration
	description          mo.Option[string]
	additionalErrorCodes []int
}

// New returns a new retryer.
func New() *Retryer {
	return &Retryer{
		retryLimit: DefaultDurationLimit,
		minSleep:   minSleepTime,
		maxSleep:   maxSleepTime,
	}
}

// WithErrorCodes returns a new Retryer that will also retry on the codes
// passed to this method. Any codes set previously are replaced.
func (r *Retryer) WithErrorCodes(codes ...int) *Retryer {
	r2 := *r
	r2.additionalErrorCodes = codes

	return &r2
}

// WithRetryLimit returns a new Retryer with the given duration limit.
func (r *Retryer) WithRetryLimit(limit time.Duration) *Retryer {
	r2 := *r
	r2.retryLimit = limit

	return &r2
}

// WithBackoff returns a new Retryer whose sleeps between attempts start
// at minSleep and double up to maxSleep.
func (r *Retryer) WithBackoff(minSleep, maxSleep time.Duration) *Retryer {
	r2 := *r
	r2.minSleep = minSleep
	r2.maxSleep = max(minSleep, maxSleep)

	return &r2
}

// WithDescription returns a new Retryer whose logs & errors describe the
// retried operation with the given message.
func (r *Retryer) WithDescription(msg string, args ...any) *Retryer {
	r2 := *r
	r2.description = mo.Some(fmt.Sprintf(msg, args...))

	return &r2
}
