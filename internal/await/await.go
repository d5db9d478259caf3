// Package await polls a condition until it holds or a deadline passes.
// It stands in for fixed sleeps wherever the harness waits on
// asynchronous server behavior, e.g. replication to a secondary.
package await

import (
	"context"
	"time"

	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/reportutils"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/mo"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxInterval  = 2 * time.Second
	DefaultMultiplier   = 2.0
)

// Options bound a polling loop. Zero fields take the package defaults,
// except that a negative Timeout means “evaluate exactly once”.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	MaxInterval  time.Duration
	Multiplier   float64
}

// Predicate evaluates the awaited condition once. It returns what it
// observed, whether the condition holds, and any error met while
// observing. Errors do not stop the polling unless wrapped with Permanent.
type Predicate[T any] func(ctx context.Context) (T, bool, error)

// Stats describes a finished polling loop.
type Stats struct {
	Attempts int
	Elapsed  time.Duration
}

type permanentErr struct {
	error
}

func (pe permanentErr) Unwrap() error {
	return pe.error
}

// Permanent marks a predicate error as one that polling cannot fix, so
// the loop ends at once.
func Permanent(err error) error {
	return permanentErr{err}
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = max(DefaultMaxInterval, o.PollInterval)
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}

	return o
}

// Condition evaluates pred until it reports success. Between attempts it
// sleeps, starting at PollInterval and growing by Multiplier up to
// MaxInterval. If Timeout elapses first the returned error is a
// harnesserr.TimeoutError that carries the attempt count, the elapsed
// time, and the last observation.
func Condition[T any](
	ctx context.Context,
	logger *logger.Logger,
	description string,
	opts Options,
	pred Predicate[T],
) (T, Stats, error) {
	opts = opts.withDefaults()

	start := time.Now()
	deadline := start.Add(max(opts.Timeout, 0))
	interval := opts.PollInterval

	var (
		stats        Stats
		lastObserved mo.Option[any]
		lastErr      error
		lastValue    T
	)

	for {
		value, ok, err := pred(ctx)
		stats.Attempts++
		stats.Elapsed = time.Since(start)

		if err != nil {
			var pe permanentErr
			if errors.As(err, &pe) {
				return value, stats, errors.Wrapf(pe.error, "%s", description)
			}

			lastErr = err
		} else {
			lastErr = nil
			lastValue = value
			lastObserved = mo.Some[any](value)

			if ok {
				logger.Debug().
					Str("condition", description).
					Int("attempts", stats.Attempts).
					Str("elapsed", reportutils.DurationToHMS(stats.Elapsed)).
					Msg("Condition met.")

				return value, stats, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lastValue, stats, errors.WithStack(harnesserr.TimeoutError{
				Description:  description,
				Attempts:     stats.Attempts,
				Elapsed:      stats.Elapsed,
				LastObserved: lastObserved,
				LastErr:      lastErr,
			})
		}

		event := logger.Trace().
			Str("condition", description).
			Int("attempt", stats.Attempts).
			Any("observed", lastObserved.OrEmpty())
		if lastErr != nil {
			event = event.AnErr("lastErr", lastErr)
		}
		event.Msg("Condition not met yet.")

		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastValue, stats, errors.Wrapf(
				util.WrapCtxErrWithCause(ctx),
				"stopped awaiting %s after %d attempt(s)",
				description,
				stats.Attempts,
			)
		case <-timer.C:
		}

		interval = min(
			time.Duration(float64(interval)*opts.Multiplier),
			opts.MaxInterval,
		)
	}
}

// True is Condition for predicates that observe nothing beyond success.
func True(
	ctx context.Context,
	logger *logger.Logger,
	description string,
	opts Options,
	pred func(ctx context.Context) (bool, error),
) error {
	_, _, err := Condition(
		ctx,
		logger,
		description,
		opts,
		func(ctx context.Context) (bool, bool, error) {
			ok, err := pred(ctx)
			return ok, ok, err
		},
	)

	return err
}
