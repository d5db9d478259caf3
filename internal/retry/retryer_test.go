package retry

import (
	"context"
	"errors"
	"time"

	"github.com/10gen/replset-harness/internal/util"
	"go.mongodb.org/mongo-driver/mongo"
)

var someNetworkError = &mongo.CommandError{
	Labels: []string{"NetworkError"},
	Name:   "NetworkError",
}

var badError = errors.New("I am fatal!")

func fastRetryer() *Retryer {
	return New().WithBackoff(time.Millisecond, 4*time.Millisecond)
}

func (suite *UnitTestSuite) TestRetryer() {
	logger := suite.Logger()

	suite.Run("with a function that immediately succeeds", func() {
		attemptNumber := -1
		err := fastRetryer().Run(suite.Context(), logger, func(_ context.Context, ri *Info) error {
			attemptNumber = ri.GetAttemptNumber()
			return nil
		})
		suite.NoError(err)
		suite.Equal(0, attemptNumber)
	})

	suite.Run("with a function that succeeds after two attempts", func() {
		attemptNumber := -1
		err := fastRetryer().Run(suite.Context(), logger, func(_ context.Context, ri *Info) error {
			attemptNumber = ri.GetAttemptNumber()
			if attemptNumber < 2 {
				return someNetworkError
			}
			return nil
		})
		suite.NoError(err)
		suite.Equal(2, attemptNumber)
	})

	suite.Run("with a non-transient error", func() {
		calls := 0
		err := fastRetryer().Run(suite.Context(), logger, func(_ context.Context, _ *Info) error {
			calls++
			return badError
		})
		suite.ErrorIs(err, badError)
		suite.Equal(1, calls)
	})
}

func (suite *UnitTestSuite) TestRetryerDurationLimitIsZero() {
	retryer := fastRetryer().WithRetryLimit(0).WithDescription("initiating %s", "rs0")

	attemptNumber := -1
	err := retryer.Run(suite.Context(), suite.Logger(), func(_ context.Context, ri *Info) error {
		attemptNumber = ri.GetAttemptNumber()
		return someNetworkError
	})

	suite.Assert().ErrorIs(err, someNetworkError)
	suite.Assert().ErrorAs(err, &RetryDurationLimitExceededErr{})
	suite.Assert().ErrorContains(err, "initiating rs0")
	suite.Assert().Equal(0, attemptNumber)
}

func (suite *UnitTestSuite) TestCancelViaContext() {
	ctx, cancel := context.WithCancel(suite.Context())

	counter := 0
	err := New().Run(ctx, suite.Logger(), func(_ context.Context, _ *Info) error {
		counter++
		cancel()
		return someNetworkError
	})

	suite.Assert().ErrorIs(err, context.Canceled)
	suite.Assert().Equal(1, counter)
}

func (suite *UnitTestSuite) TestRetryOnAdditionalCodes() {
	notYetInitialized := mongo.CommandError{Code: util.NotYetInitialized}

	suite.Run("with a matching code", func() {
		calls := 0
		err := fastRetryer().WithErrorCodes(util.NotYetInitialized).Run(
			suite.Context(),
			suite.Logger(),
			func(_ context.Context, _ *Info) error {
				calls++
				if calls == 1 {
					return notYetInitialized
				}
				return nil
			},
		)
		suite.NoError(err)
		suite.Equal(2, calls)
	})

	suite.Run("without a matching code", func() {
		err := fastRetryer().WithErrorCodes(41, 43).Run(
			suite.Context(),
			suite.Logger(),
			func(_ context.Context, _ *Info) error {
				return notYetInitialized
			},
		)
		suite.Equal(util.NotYetInitialized, util.GetErrorCode(err))
	})
}
