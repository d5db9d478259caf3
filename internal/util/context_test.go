package util

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

func (suite *UnitTestSuite) TestWithTimeoutCause() {
	cause := errors.New("waiting for a primary")

	ctx, cancel := WithTimeoutCause(context.Background(), -1*time.Nanosecond, cause)
	defer cancel()

	err := WrapCtxErrWithCause(ctx)
	suite.Assert().ErrorIs(err, context.DeadlineExceeded)
	suite.Assert().ErrorIs(err, cause)
	suite.Assert().ErrorContains(err, "timed out after")
}

func (suite *UnitTestSuite) TestDetachedWithTimeout() {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, cancel2 := DetachedWithTimeout(parent, time.Minute)
	defer cancel2()

	suite.Assert().NoError(ctx.Err(), "detached context should outlive its parent")

	_, hasDeadline := ctx.Deadline()
	suite.Assert().True(hasDeadline)
}

func (suite *UnitTestSuite) TestBuildInfoAtLeast() {
	bi := BuildInfo{VersionArray: []int{4, 4, 2, 0}}

	suite.Assert().True(bi.AtLeast(4, 4))
	suite.Assert().True(bi.AtLeast(4, 2, 9))
	suite.Assert().False(bi.AtLeast(4, 4, 3))
	suite.Assert().False(bi.AtLeast(5))
	suite.Assert().True(bi.SupportsHiddenIndexes())

	suite.Assert().False(BuildInfo{VersionArray: []int{4, 2, 0, 0}}.SupportsHiddenIndexes())
}
