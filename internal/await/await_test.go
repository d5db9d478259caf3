package await

import (
	"context"
	"testing"
	"time"

	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type UnitTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (s *UnitTestSuite) SetupSuite() {
	s.logger = logger.NewDebugLogger()
}

func fastOptions(timeout time.Duration) Options {
	return Options{
		Timeout:      timeout,
		PollInterval: time.Millisecond,
		MaxInterval:  5 * time.Millisecond,
	}
}

func (s *UnitTestSuite) TestImmediateSuccess() {
	value, stats, err := Condition(
		context.Background(),
		s.logger,
		"already true",
		fastOptions(time.Second),
		func(context.Context) (string, bool, error) {
			return "i_1", true, nil
		},
	)

	s.Require().NoError(err)
	s.Assert().Equal("i_1", value)
	s.Assert().Equal(1, stats.Attempts)
}

func (s *UnitTestSuite) TestEventualSuccess() {
	calls := 0

	value, stats, err := Condition(
		context.Background(),
		s.logger,
		"secondary catches up",
		fastOptions(5*time.Second),
		func(context.Context) (string, bool, error) {
			calls++

			switch {
			case calls < 3:
				return "COLLSCAN", false, nil
			case calls < 5:
				return "", false, errors.New("not reachable yet")
			default:
				return "i_1", true, nil
			}
		},
	)

	s.Require().NoError(err)
	s.Assert().Equal("i_1", value)
	s.Assert().Equal(5, stats.Attempts)
}

func (s *UnitTestSuite) TestTimeoutReportsLastObservation() {
	predErr := errors.New("flaky read")
	calls := 0

	value, stats, err := Condition(
		context.Background(),
		s.logger,
		"never true",
		fastOptions(30*time.Millisecond),
		func(context.Context) (string, bool, error) {
			calls++
			if calls%2 == 0 {
				return "", false, predErr
			}
			return "COLLSCAN", false, nil
		},
	)

	s.Require().Error(err)
	s.Assert().Equal("COLLSCAN", value)
	s.Assert().GreaterOrEqual(stats.Attempts, 2)
	s.Assert().GreaterOrEqual(stats.Elapsed, 30*time.Millisecond)

	var te harnesserr.TimeoutError
	s.Require().ErrorAs(err, &te)
	s.Assert().Equal("never true", te.Description)
	s.Assert().Equal(stats.Attempts, te.Attempts)

	observed, ok := te.LastObserved.Get()
	s.Require().True(ok)
	s.Assert().Equal("COLLSCAN", observed)
	s.Assert().Equal(harnesserr.KindTimeout, harnesserr.KindOf(err))
}

func (s *UnitTestSuite) TestNegativeTimeoutEvaluatesOnce() {
	calls := 0
	err := True(
		context.Background(),
		s.logger,
		"one shot",
		Options{Timeout: -1},
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		},
	)

	s.Assert().Equal(harnesserr.KindTimeout, harnesserr.KindOf(err))
	s.Assert().Equal(1, calls)
}

func (s *UnitTestSuite) TestPermanentErrorStopsPolling() {
	fatal := errors.New("no such collection")
	calls := 0

	err := True(
		context.Background(),
		s.logger,
		"permanent",
		fastOptions(time.Minute),
		func(context.Context) (bool, error) {
			calls++
			return false, Permanent(fatal)
		},
	)

	s.Assert().ErrorIs(err, fatal)
	s.Assert().Equal(1, calls)
	s.Assert().NotEqual(harnesserr.KindTimeout, harnesserr.KindOf(err))
}

func (s *UnitTestSuite) TestCancellation() {
	ctx, cancel := context.WithCancel(context.Background())

	err := True(
		ctx,
		s.logger,
		"canceled",
		Options{Timeout: time.Minute, PollInterval: time.Second},
		func(context.Context) (bool, error) {
			cancel()
			return false, nil
		},
	)

	s.Assert().ErrorIs(err, context.Canceled)
}

func (s *UnitTestSuite) TestBackoffGrows() {
	var stamps []time.Time

	_ = True(
		context.Background(),
		s.logger,
		"backoff",
		Options{
			Timeout:      200 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
			MaxInterval:  40 * time.Millisecond,
			Multiplier:   2,
		},
		func(context.Context) (bool, error) {
			stamps = append(stamps, time.Now())
			return false, nil
		},
	)

	s.Require().GreaterOrEqual(len(stamps), 4)
	s.Assert().Less(
		len(stamps),
		20,
		"backoff should keep the attempt count well below timeout/pollInterval",
	)
	s.Assert().GreaterOrEqual(stamps[3].Sub(stamps[2]), 35*time.Millisecond)
}
