package scenarios

import (
	"context"
	"fmt"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/steps"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/10gen/replset-harness/internal/util"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Deployment is what a running deployment offers to scenarios.
type Deployment struct {
	Nodes int

	// Attached deployments were launched by something else, so their
	// nodes cannot be restarted.
	Attached bool

	// HiddenIndexes is true if the server understands hidden indexes.
	HiddenIndexes bool
}

var hiddenIndexScenarios = mapset.NewSet(
	"invisible_index",
	"replset_index_visibility",
	"replset_fcv_gating",
)

// Inspect describes rs.
func Inspect(ctx context.Context, rs *topology.ReplSet) (Deployment, error) {
	primary, err := rs.Primary()
	if err != nil {
		return Deployment{}, err
	}

	buildInfo, err := util.GetBuildInfo(ctx, primary.Client())
	if err != nil {
		return Deployment{}, errors.Wrapf(err, "inspecting %s", primary.Address())
	}

	return Deployment{
		Nodes:         len(rs.Nodes()),
		Attached:      rs.Attached(),
		HiddenIndexes: buildInfo.SupportsHiddenIndexes(),
	}, nil
}

// Restarts returns true if any of the scenario’s steps restarts nodes.
func Restarts(sc scenario.Scenario) bool {
	restartName := steps.RestartSecondaries().Name

	return lo.ContainsBy(
		lo.Flatten([][]scenario.Step{sc.Setup, sc.Steps, sc.Teardown}),
		func(step scenario.Step) bool {
			return step.Name == restartName
		},
	)
}

// Unrunnable returns why sc cannot run on d, or None if it can.
func Unrunnable(sc scenario.Scenario, d Deployment) mo.Option[string] {
	switch {
	case sc.Nodes > d.Nodes:
		return mo.Some(fmt.Sprintf("needs %d node(s) but the deployment has %d", sc.Nodes, d.Nodes))
	case d.Attached && Restarts(sc):
		return mo.Some("restarts secondaries, which an attached deployment does not allow")
	case !d.HiddenIndexes && hiddenIndexScenarios.Contains(sc.Name):
		return mo.Some("needs hidden indexes, which the server does not support")
	default:
		return mo.None[string]()
	}
}
