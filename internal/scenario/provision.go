package scenario

import (
	"context"
	"time"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Provisioner acquires a deployment for one scenario. The runner stops
// whatever it returns.
type Provisioner interface {
	Provision(ctx context.Context, sc Scenario) (Topology, error)
}

// ProvisionerFunc adapts a function to a Provisioner.
type ProvisionerFunc func(ctx context.Context, sc Scenario) (Topology, error)

func (f ProvisionerFunc) Provision(ctx context.Context, sc Scenario) (Topology, error) {
	return f(ctx, sc)
}

// LaunchProvisioner launches a new replica set for each scenario, forms
// it, and waits for its secondaries.
type LaunchProvisioner struct {
	Logger       *logger.Logger
	Options      topology.Options
	DefaultNodes int
	ReadyTimeout time.Duration
}

func (lp LaunchProvisioner) Provision(ctx context.Context, sc Scenario) (Topology, error) {
	nodeCount := lo.Ternary(sc.Nodes > 0, sc.Nodes, max(lp.DefaultNodes, 1))
	scLogger := lp.Logger.ForScenario(sc.Name)

	rs, err := topology.Start(ctx, scLogger, nodeCount, lp.Options)
	if err != nil {
		return nil, err
	}

	if err := rs.Initiate(ctx); err != nil {
		stopQuietly(ctx, scLogger, rs)
		return nil, err
	}

	timeout := lo.Ternary(lp.ReadyTimeout > 0, lp.ReadyTimeout, topology.DefaultElectionTimeout)
	if err := rs.AwaitSecondariesReady(ctx, timeout); err != nil {
		stopQuietly(ctx, scLogger, rs)
		return nil, err
	}

	return rs, nil
}

// AttachProvisioner lends every scenario the same running deployment.
// Scenarios that restart nodes cannot run on it.
type AttachProvisioner struct {
	Logger       *logger.Logger
	URI          string
	Options      topology.Options
	ReadyTimeout time.Duration
}

func (ap AttachProvisioner) Provision(ctx context.Context, sc Scenario) (Topology, error) {
	scLogger := ap.Logger.ForScenario(sc.Name)

	rs, err := topology.Attach(ctx, scLogger, ap.URI, ap.Options)
	if err != nil {
		return nil, err
	}

	if sc.Nodes > len(rs.Nodes()) {
		stopQuietly(ctx, scLogger, rs)
		return nil, errors.Errorf(
			"scenario needs %d nodes, but the deployment has %d",
			sc.Nodes,
			len(rs.Nodes()),
		)
	}

	timeout := lo.Ternary(ap.ReadyTimeout > 0, ap.ReadyTimeout, topology.DefaultElectionTimeout)
	if err := rs.AwaitSecondariesReady(ctx, timeout); err != nil {
		stopQuietly(ctx, scLogger, rs)
		return nil, err
	}

	return rs, nil
}

func stopQuietly(ctx context.Context, logger *logger.Logger, rs *topology.ReplSet) {
	cleanupCtx, cancel := util.DetachedWithTimeout(ctx, topology.DefaultTeardownTimeout)
	defer cancel()

	if err := rs.Stop(cleanupCtx); err != nil {
		logger.Warn().
			Err(err).
			Msg("Failed to stop deployment after failed provisioning.")
	}
}
