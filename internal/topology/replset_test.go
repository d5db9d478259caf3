package topology

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/testutil"
	"github.com/stretchr/testify/suite"
)

// ReplSetTestSuite launches real mongods. It runs only when MONGOD_PATH
// names a mongod binary.
type ReplSetTestSuite struct {
	suite.Suite
	mongodPath string
	logger     *logger.Logger
}

func TestReplSetTestSuite(t *testing.T) {
	suite.Run(t, new(ReplSetTestSuite))
}

func (s *ReplSetTestSuite) SetupSuite() {
	s.mongodPath = testutil.MongodPath(s.T())
	s.logger = logger.NewDebugLogger()
}

func (s *ReplSetTestSuite) TestLifecycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rs, err := Start(ctx, s.logger, 2, Options{MongodPath: s.mongodPath, OplogSizeMB: 10})
	s.Require().NoError(err)
	defer func() {
		s.Assert().NoError(rs.Stop(context.Background()))
	}()

	s.Require().NoError(rs.Initiate(ctx))
	s.Require().NoError(rs.AwaitSecondariesReady(ctx, time.Minute))

	primary, err := rs.Primary()
	s.Require().NoError(err)
	s.Assert().Equal(0, primary.Index(), "the first node has the only nonzero priority")

	secondaries := rs.Secondaries()
	s.Require().Len(secondaries, 1)

	secondary := secondaries[0]
	oldClient := secondary.Client()
	oldPort := secondary.Port()

	s.Require().NoError(rs.Restart(ctx, secondary))

	s.Assert().Equal(oldPort, secondary.Port(), "restart keeps the port")
	s.Assert().NotSame(oldClient, secondary.Client(), "restart re-resolves the client")
	s.Assert().Equal(RoleSecondary, secondary.Role())
	s.Assert().True(secondary.Running())

	s.Require().NoError(rs.AwaitSecondariesReady(ctx, time.Minute))

	dirs := rs.tempDirs
	s.Require().NoError(rs.Stop(ctx))
	s.Require().NoError(rs.Stop(ctx))

	for _, node := range rs.Nodes() {
		s.Assert().False(node.Running(), "%s", node.Address())
		s.Assert().Nil(node.Client(), "%s", node.Address())
	}

	for _, dir := range dirs {
		_, err := os.Stat(dir)
		s.Assert().True(os.IsNotExist(err), "%s should be gone", dir)
	}
}

func (s *ReplSetTestSuite) TestAttach() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	launched, err := Start(ctx, s.logger, 2, Options{MongodPath: s.mongodPath})
	s.Require().NoError(err)
	defer func() {
		s.Assert().NoError(launched.Stop(context.Background()))
	}()

	s.Require().NoError(launched.Initiate(ctx))
	s.Require().NoError(launched.AwaitSecondariesReady(ctx, time.Minute))

	primary, err := launched.Primary()
	s.Require().NoError(err)

	attached, err := Attach(ctx, s.logger, "mongodb://"+primary.Address(), Options{})
	s.Require().NoError(err)

	s.Assert().Equal(launched.Name(), attached.Name())
	s.Assert().Len(attached.Nodes(), 2)
	s.Require().NoError(attached.AwaitSecondariesReady(ctx, time.Minute))

	attachedPrimary, err := attached.Primary()
	s.Require().NoError(err)
	s.Assert().Equal(primary.Address(), attachedPrimary.Address())

	s.Assert().Error(attached.Restart(ctx, attached.Secondaries()[0]))
	s.Require().NoError(attached.Stop(ctx))

	s.Assert().True(primary.Running(), "stopping an attachment leaves the nodes running")
}
