package util

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

func (suite *UnitTestSuite) TestIsTransientError() {
	type testCase struct {
		err    error
		expect bool
	}
	testCases := []testCase{
		{errors.New("Not transient"), false},
		{context.Canceled, false},
		{mongo.CommandError{Code: 6}, true},
		{mongo.CommandError{Code: 42}, false},
		{mongo.CommandError{Code: 10107}, true},
		{mongo.CommandError{Code: 0}, false},
		{mongo.CommandError{Code: 0, Message: "not master"}, true},
		{mongo.CommandError{Code: 1234567, Labels: []string{"NetworkError"}}, true},
		{mongo.CommandError{Code: 1234567, Labels: []string{"SomeNotTransientThing"}}, false},
		{mongo.CommandError{Code: 1234567, Labels: []string{"TransientTransactionError"}}, true},
		{errors.Wrap(io.EOF, "reading reply"), true},
	}
	for _, c := range testCases {
		suite.Assert().Equal(c.expect, IsTransientError(c.err), "%v", c.err)
	}
}

func (suite *UnitTestSuite) TestIsDeliveryError() {
	suite.Assert().False(IsDeliveryError(nil))

	suite.Assert().True(IsDeliveryError(io.EOF))
	suite.Assert().True(IsDeliveryError(errors.Wrap(context.DeadlineExceeded, "running explain")))
	suite.Assert().True(IsDeliveryError(mongo.ErrClientDisconnected))
	suite.Assert().True(IsDeliveryError(topology.ServerSelectionError{Wrapped: errors.New("no primary")}))
	suite.Assert().True(IsDeliveryError(mongo.CommandError{Labels: []string{"NetworkError"}}))

	suite.Assert().False(
		IsDeliveryError(mongo.CommandError{Code: IndexNotFound, Name: "IndexNotFound"}),
		"a server’s refusal is not a delivery failure",
	)
	suite.Assert().False(IsDeliveryError(errors.New("some other thing")))
}

func (suite *UnitTestSuite) TestGetErrorCode() {
	suite.Assert().Equal(0, GetErrorCode(nil))
	suite.Assert().Equal(
		IndexNotFound,
		GetErrorCode(errors.Wrap(mongo.CommandError{Code: IndexNotFound}, "collMod")),
	)
	suite.Assert().Equal(
		11000,
		GetErrorCode(mongo.WriteException{
			WriteErrors: []mongo.WriteError{{Code: 11000}},
		}),
	)
	suite.Assert().True(IsIndexNotFoundError(errors.Wrap(mongo.CommandError{Code: IndexNotFound}, "collMod")))
	suite.Assert().True(IsReplSetNotInitializedError(mongo.CommandError{Code: NotYetInitialized}))

	suite.Assert().Equal(
		"IndexNotFound",
		GetErrorCodeName(mongo.CommandError{Code: IndexNotFound, Name: "IndexNotFound"}),
	)
}
