package scenarios

import (
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/steps"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// InvisibleIndex checks that hiding an index steers the planner to a
// collection scan, and that unhiding it steers it back.
func InvisibleIndex() scenario.Scenario {
	const coll = "mytab"
	filter := bson.D{{"a", 1000}}

	usesIndex := steps.ExpectPlan(steps.PlanExpectation{
		Collection: coll,
		Filter:     filter,
		Index:      mo.Some("a_1"),
	})
	collScan := steps.ExpectPlan(steps.PlanExpectation{
		Collection: coll,
		Filter:     filter,
	})

	return scenario.Scenario{
		Name:        "invisible_index",
		Description: "A hidden index is ignored by the planner until it is unhidden.",
		Nodes:       1,
		Database:    "invisibleIdx",
		Steps: []scenario.Step{
			steps.Insert(coll, "a", 10_000, false),
			steps.CreateIndex(coll, bson.D{{"a", 1}}, command.IndexOptions{}, false),
			usesIndex,
			steps.SetIndexHidden(coll, "a_1", true),
			collScan,
			steps.SetIndexHidden(coll, "a_1", true),
			collScan,
			steps.SetIndexHidden(coll, "a_1", false),
			usesIndex,
			steps.SetIndexHidden(coll, "a_1", false),
			usesIndex,
		},
	}
}

func planOn(on steps.On, coll string, filter bson.D, index mo.Option[string]) scenario.Step {
	return steps.ExpectPlan(steps.PlanExpectation{
		Collection: coll,
		Filter:     filter,
		Index:      index,
		On:         on,
		Await:      on != steps.OnPrimary,
	})
}

// ReplSetIndexVisibility checks that index visibility replicates to
// secondaries and survives a secondary’s restart.
func ReplSetIndexVisibility() scenario.Scenario {
	const coll = "test"
	byI := bson.D{{"i", 1000}}
	byM := bson.D{{"m", 1000}}

	return scenario.Scenario{
		Name:        "replset_index_visibility",
		Description: "Hiding and unhiding an index is seen on every secondary, even after a restart.",
		Nodes:       2,
		Database:    "replsetIndexVisibility",
		Steps: []scenario.Step{
			steps.CreateIndex(coll, bson.D{{"m", 1}}, command.IndexOptions{}, false),
			steps.CreateIndex(coll, bson.D{{"i", 1}}, command.IndexOptions{Hidden: true}, false),
			planOn(steps.OnPrimary, coll, byI, mo.None[string]()),
			planOn(steps.OnSecondaries, coll, byI, mo.None[string]()),

			steps.SetIndexHidden(coll, "i_1", false),
			planOn(steps.OnPrimary, coll, byI, mo.Some("i_1")),
			planOn(steps.OnSecondaries, coll, byI, mo.Some("i_1")),

			steps.SetIndexHidden(coll, "i_1", true),
			planOn(steps.OnPrimary, coll, byI, mo.None[string]()),
			planOn(steps.OnSecondaries, coll, byI, mo.None[string]()),

			planOn(steps.OnPrimary, coll, byM, mo.Some("m_1")),
			steps.CreateIndex(coll, bson.D{{"m", 1}}, command.IndexOptions{}, false),

			steps.RestartSecondaries(),
			steps.AwaitSecondaries(0),
			planOn(steps.OnSecondaries, coll, byI, mo.None[string]()),
		},
	}
}

// ReplSetFCVGating checks that a hidden index cannot be created below
// the feature compatibility version that introduced hidden indexes, and
// can be once the version is raised.
func ReplSetFCVGating(low, high string) scenario.Scenario {
	const coll = "test"
	byI := bson.D{{"i", 1000}}

	return scenario.Scenario{
		Name:        "replset_fcv_gating",
		Description: "Hidden index creation follows the feature compatibility version.",
		Nodes:       2,
		Database:    "replsetFcvGating",
		Steps: []scenario.Step{
			steps.SetFCV(low, false),
			steps.CreateIndex(coll, bson.D{{"i", 1}}, command.IndexOptions{Hidden: true}, true),
			steps.CreateIndex(coll, bson.D{{"m", 1}}, command.IndexOptions{}, false),

			steps.SetFCV(high, false),
			steps.CreateIndex(coll, bson.D{{"i", 1}}, command.IndexOptions{Hidden: true}, false),
			planOn(steps.OnPrimary, coll, byI, mo.None[string]()),
			planOn(steps.OnSecondaries, coll, byI, mo.None[string]()),
		},
		Teardown: []scenario.Step{
			steps.SetFCV(high, false),
		},
	}
}

// ReplSetIndexMetadata checks the index list that listIndexes reports on
// the primary and on every secondary.
func ReplSetIndexMetadata() scenario.Scenario {
	const coll = "index_test"

	return scenario.Scenario{
		Name:        "replset_index_metadata",
		Description: "A background index replicates with its name and background flag.",
		Nodes:       2,
		Database:    "replsetIndexMetadata",
		Steps: []scenario.Step{
			steps.CreateIndex(coll, bson.D{{"a", 1}}, command.IndexOptions{Background: true}, false),
			steps.ExpectIndex(steps.IndexExpectation{
				Collection: coll,
				Position:   1,
				Name:       "a_1",
				Background: mo.Some(true),
				On:         steps.OnPrimary,
			}),
			steps.ExpectIndex(steps.IndexExpectation{
				Collection: coll,
				Position:   1,
				Name:       "a_1",
				Background: mo.Some(true),
				On:         steps.OnSecondaries,
				Await:      true,
			}),
		},
	}
}
