// Package steps builds the scenario steps that built-in scenarios and
// scenario files share.
package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/10gen/replset-harness/internal/assert"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
)

// On selects the nodes that a check runs against.
type On string

const (
	OnPrimary     On = "primary"
	OnSecondaries On = "secondaries"
	OnAll         On = "all"
)

// ParseOn validates a node selector. The empty string means OnPrimary.
func ParseOn(s string) (On, error) {
	switch On(s) {
	case "":
		return OnPrimary, nil
	case OnPrimary, OnSecondaries, OnAll:
		return On(s), nil
	default:
		return "", errors.Errorf("unknown node selector %#q (want %#q, %#q, or %#q)", s, OnPrimary, OnSecondaries, OnAll)
	}
}

func (o On) orPrimary() On {
	return lo.Ternary(o == "", OnPrimary, o)
}

func targets(env *scenario.Env, on On) ([]*topology.Node, error) {
	primary, err := env.Primary()
	if err != nil {
		return nil, err
	}

	switch on {
	case OnPrimary, "":
		return []*topology.Node{primary}, nil
	case OnSecondaries:
		secondaries := env.Secondaries()
		if len(secondaries) == 0 {
			return nil, errors.New("the deployment has no secondaries")
		}
		return secondaries, nil
	case OnAll:
		return append([]*topology.Node{primary}, env.Secondaries()...), nil
	default:
		return nil, errors.Errorf("unknown node selector %#q", on)
	}
}

func expectOutcome(result command.Result, expectFailure bool) error {
	if expectFailure {
		return assert.CommandFailed(result)
	}

	return assert.CommandWorked(result)
}

// DropDatabase drops the scenario’s database on the primary.
func DropDatabase() scenario.Step {
	return scenario.Step{
		Name: "drop database",
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			return assert.CommandWorked(env.Commands.DropDatabase(ctx, primary, env.Database))
		},
	}
}

// SetProfilingLevel sets the scenario database’s profiling level and
// slow-operation threshold on the primary.
func SetProfilingLevel(level, slowMS int) scenario.Step {
	return scenario.Step{
		Name: fmt.Sprintf("set profiling level %d, slowms %d", level, slowMS),
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			return assert.CommandWorked(
				env.Commands.SetProfilingLevel(ctx, primary, env.Database, level, slowMS),
			)
		},
	}
}

// Insert inserts count documents {field: i} into coll. If
// oneAtATime is set, each document gets its own insert command.
func Insert(coll, field string, count int, oneAtATime bool) scenario.Step {
	return scenario.Step{
		Name: fmt.Sprintf("insert %d documents {%s: i} into %s", count, field, coll),
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			if oneAtATime {
				return assert.CommandWorked(
					env.Commands.InsertSequential(ctx, primary, env.Database, coll, field, count),
				)
			}

			docs := lo.Times(count, func(i int) any {
				return bson.D{{field, i}}
			})

			return assert.CommandWorked(
				env.Commands.InsertMany(ctx, primary, env.Database, coll, docs),
			)
		},
	}
}

// CreateIndex creates an index on the primary and requires that the
// command work (or, with expectFailure, fail).
func CreateIndex(coll string, keys bson.D, opts command.IndexOptions, expectFailure bool) scenario.Step {
	var flags []string
	if opts.Hidden {
		flags = append(flags, "hidden")
	}
	if opts.Background {
		flags = append(flags, "background")
	}

	name := fmt.Sprintf("create index %s on %s", describeKeys(keys), coll)
	if len(flags) > 0 {
		name += " (" + strings.Join(flags, ", ") + ")"
	}
	if expectFailure {
		name += ", expecting failure"
	}

	return scenario.Step{
		Name: name,
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			return expectOutcome(
				env.Commands.CreateIndex(ctx, primary, env.Database, coll, keys, opts),
				expectFailure,
			)
		},
	}
}

// SetIndexHidden hides or unhides an index on the primary.
func SetIndexHidden(coll, index string, hidden bool) scenario.Step {
	return scenario.Step{
		Name: fmt.Sprintf("%s index %s on %s", lo.Ternary(hidden, "hide", "unhide"), index, coll),
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			err = assert.CommandWorked(
				env.Commands.SetIndexHidden(ctx, primary, env.Database, coll, index, hidden),
			)
			if util.IsIndexNotFoundError(err) {
				return errors.Wrapf(err, "%s.%s has no index %#q", env.Database, coll, index)
			}

			return err
		},
	}
}

// SetFCV sets the feature compatibility version on the primary. Servers
// from 7.0 onward get the confirm flag that they require.
func SetFCV(version string, expectFailure bool) scenario.Step {
	return scenario.Step{
		Name: fmt.Sprintf("set FCV %s%s", version, lo.Ternary(expectFailure, ", expecting failure", "")),
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			buildInfo, err := util.GetBuildInfo(ctx, primary.Client())
			if err != nil {
				return err
			}

			return expectOutcome(
				env.Commands.SetFeatureCompatibilityVersion(ctx, primary, version, buildInfo.AtLeast(7, 0)),
				expectFailure,
			)
		},
	}
}

// RestartSecondaries restarts every secondary, one at a time.
func RestartSecondaries() scenario.Step {
	return scenario.Step{
		Name: "restart secondaries",
		Action: func(ctx context.Context, env *scenario.Env) error {
			secondaries := env.Secondaries()
			if len(secondaries) == 0 {
				return errors.New("the deployment has no secondaries to restart")
			}

			for _, node := range secondaries {
				if err := env.Topology.Restart(ctx, node); err != nil {
					return errors.Wrapf(err, "restarting %s", node.Address())
				}
			}

			return nil
		},
	}
}

// AwaitSecondaries waits until every secondary is ready. A zero timeout
// means the Env’s polling timeout.
func AwaitSecondaries(timeout time.Duration) scenario.Step {
	return scenario.Step{
		Name: "await secondaries",
		Action: func(ctx context.Context, env *scenario.Env) error {
			return env.Topology.AwaitSecondariesReady(
				ctx,
				lo.Ternary(timeout > 0, timeout, env.Await.Timeout),
			)
		},
	}
}

func describeKeys(keys bson.D) string {
	parts := lo.Map(keys, func(e bson.E, _ int) string {
		return fmt.Sprintf("%s: %v", e.Key, e.Value)
	})

	return "{" + strings.Join(parts, ", ") + "}"
}
