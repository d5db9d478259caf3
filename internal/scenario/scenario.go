// Package scenario runs scenarios: ordered steps against a deployment
// that each scenario acquires for itself and always tears down.
package scenario

import (
	"context"
	"time"

	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/topology"
)

// Action is one step’s work. It may contain assertions; an error ends
// the scenario.
type Action func(ctx context.Context, env *Env) error

// Step is one named action.
type Step struct {
	Name   string
	Action Action
}

// Scenario is a sequence of steps against one deployment.
type Scenario struct {
	Name        string
	Description string

	// Nodes is how many members to launch. Zero means the provisioner’s
	// default.
	Nodes int

	// Database is dropped before the first step, so a scenario never sees
	// another’s leftovers.
	Database string

	Setup    []Step
	Steps    []Step
	Teardown []Step
}

// Topology is what the runner needs from a deployment.
// *topology.ReplSet implements it.
type Topology interface {
	Nodes() []*topology.Node
	Primary() (*topology.Node, error)
	Secondaries() []*topology.Node
	Restart(ctx context.Context, node *topology.Node) error
	AwaitSecondariesReady(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context) error
}

// Env is what a step’s Action gets to work with.
type Env struct {
	Scenario string
	Database string
	Topology Topology
	Commands *command.Client
	Logger   *logger.Logger

	// Await bounds the polling that steps do for eventual consistency.
	Await await.Options
}

// Primary returns the deployment’s current primary.
func (e *Env) Primary() (*topology.Node, error) {
	return e.Topology.Primary()
}

// Secondaries returns the deployment’s non-primary nodes.
func (e *Env) Secondaries() []*topology.Node {
	return e.Topology.Secondaries()
}
