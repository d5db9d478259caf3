package steps

import (
	"context"
	"fmt"

	"github.com/10gen/replset-harness/internal/assert"
	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/explain"
	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// PlanExpectation describes the winning plan that a find should get.
type PlanExpectation struct {
	Collection string
	Filter     bson.D

	// Index is the index that winningPlan.inputStage must scan. If it is
	// absent, the plan must be a collection scan.
	Index mo.Option[string]

	On On

	// Await polls until the plan matches or the Env’s polling timeout
	// passes. Without it the plan must match on the first explain.
	Await bool
}

func (pe PlanExpectation) describe() string {
	want := pe.Index.OrElse(explain.StageCollScan)
	return fmt.Sprintf(
		"find %s on %s uses %s on %s",
		describeKeys(pe.Filter),
		pe.Collection,
		want,
		pe.On.orPrimary(),
	)
}

func (pe PlanExpectation) check(plan explain.Plan, node string) error {
	if index, ok := pe.Index.Get(); ok {
		return assert.PlanUsesIndex(plan, index, "winning plan on %s should use index %s", node, index)
	}

	return assert.PlanIsCollScan(plan, "winning plan on %s should be a collection scan", node)
}

// ExpectPlan checks the winning plan of a find on each selected node.
func ExpectPlan(pe PlanExpectation) scenario.Step {
	return scenario.Step{
		Name: pe.describe(),
		Action: func(ctx context.Context, env *scenario.Env) error {
			nodes, err := targets(env, pe.On)
			if err != nil {
				return err
			}

			for _, node := range nodes {
				if err := expectPlanOn(ctx, env, node, pe); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func expectPlanOn(ctx context.Context, env *scenario.Env, node *topology.Node, pe PlanExpectation) error {
	explainOnce := func(ctx context.Context) (explain.Plan, error) {
		return env.Commands.Explain(ctx, node, env.Database, pe.Collection, pe.Filter)
	}

	if !pe.Await {
		plan, err := explainOnce(ctx)
		if err != nil {
			return err
		}

		return pe.check(plan, node.Address())
	}

	_, _, err := await.Condition(
		ctx,
		env.Logger,
		fmt.Sprintf("%s: %s", node.Address(), pe.describe()),
		env.Await,
		func(ctx context.Context) (string, bool, error) {
			plan, err := explainOnce(ctx)
			if err != nil {
				return "", false, err
			}

			return plan.String(), pe.check(plan, node.Address()) == nil, nil
		},
	)

	return err
}

// ProfileCountExpectation bounds the number of entries in the scenario
// database’s system.profile on the primary.
type ProfileCountExpectation struct {
	AtLeast  mo.Option[int64]
	LessThan mo.Option[int64]
	Message  string
}

// ExpectProfileCount checks the primary’s profiler entry count.
func ExpectProfileCount(pce ProfileCountExpectation) scenario.Step {
	var bounds []string
	if n, ok := pce.AtLeast.Get(); ok {
		bounds = append(bounds, fmt.Sprintf(">= %d", n))
	}
	if n, ok := pce.LessThan.Get(); ok {
		bounds = append(bounds, fmt.Sprintf("< %d", n))
	}

	return scenario.Step{
		Name: fmt.Sprintf("profile count %v", bounds),
		Action: func(ctx context.Context, env *scenario.Env) error {
			primary, err := env.Primary()
			if err != nil {
				return err
			}

			count, err := env.Commands.ProfileCount(ctx, primary, env.Database)
			if err != nil {
				return err
			}

			msg := lo.Ternary(pce.Message != "", pce.Message, "system.profile entry count")

			if n, ok := pce.AtLeast.Get(); ok {
				if err := assert.AtLeast(count, n, "%s", msg); err != nil {
					return err
				}
			}

			if n, ok := pce.LessThan.Get(); ok {
				if err := assert.LessThan(count, n, "%s", msg); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// IndexExpectation describes one entry of a collection’s index list.
type IndexExpectation struct {
	Collection string

	// Position is the index’s place in listIndexes output; the _id index
	// is at 0.
	Position int
	Name     string

	Background mo.Option[bool]
	Hidden     mo.Option[bool]

	On    On
	Await bool
}

func (ie IndexExpectation) describe() string {
	return fmt.Sprintf(
		"index %d of %s is %s on %s",
		ie.Position,
		ie.Collection,
		ie.Name,
		ie.On.orPrimary(),
	)
}

func (ie IndexExpectation) check(indexes []command.IndexDescriptor, node string) error {
	if ie.Position >= len(indexes) {
		return harnesserr.NewAssertionMismatch(
			len(indexes),
			ie.Position+1,
			"index count of %s on %s",
			ie.Collection,
			node,
		)
	}

	index := indexes[ie.Position]

	if err := assert.Equal(index.Name, ie.Name, "indexes[%d].name on %s", ie.Position, node); err != nil {
		return err
	}

	if want, ok := ie.Background.Get(); ok {
		if err := assert.Equal(index.Background, want, "indexes[%d].background on %s", ie.Position, node); err != nil {
			return err
		}
	}

	if want, ok := ie.Hidden.Get(); ok {
		if err := assert.Equal(index.Hidden, want, "indexes[%d].hidden on %s", ie.Position, node); err != nil {
			return err
		}
	}

	return nil
}

// ExpectIndex checks the index list on each selected node.
func ExpectIndex(ie IndexExpectation) scenario.Step {
	return scenario.Step{
		Name: ie.describe(),
		Action: func(ctx context.Context, env *scenario.Env) error {
			nodes, err := targets(env, ie.On)
			if err != nil {
				return err
			}

			for _, node := range nodes {
				if err := expectIndexOn(ctx, env, node, ie); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func expectIndexOn(ctx context.Context, env *scenario.Env, node *topology.Node, ie IndexExpectation) error {
	if !ie.Await {
		indexes, err := env.Commands.ListIndexes(ctx, node, env.Database, ie.Collection)
		if err != nil {
			return err
		}

		return ie.check(indexes, node.Address())
	}

	_, _, err := await.Condition(
		ctx,
		env.Logger,
		fmt.Sprintf("%s: %s", node.Address(), ie.describe()),
		env.Await,
		func(ctx context.Context) ([]string, bool, error) {
			indexes, err := env.Commands.ListIndexes(ctx, node, env.Database, ie.Collection)
			if err != nil {
				return nil, false, err
			}

			names := lo.Map(indexes, func(idx command.IndexDescriptor, _ int) string {
				return idx.Name
			})

			checkErr := ie.check(indexes, node.Address())
			if checkErr != nil && !assert.IsMismatch(checkErr) {
				return names, false, await.Permanent(checkErr)
			}

			return names, checkErr == nil, nil
		},
	)

	return errors.Wrapf(err, "awaiting index metadata on %s", node.Address())
}
