package scenarios

import (
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/steps"
	"github.com/samber/mo"
)

const (
	profiledInserts   = 10
	defaultSlowMS     = 100
	profileNoiseBound = 2
)

// DBLevelSlowMS checks that a database-level slowms of 0 profiles every
// insert.
func DBLevelSlowMS() scenario.Scenario {
	return scenario.Scenario{
		Name:        "db_level_slowms",
		Description: "With a database-level slowms of 0, each insert lands in system.profile.",
		Nodes:       1,
		Database:    "slowdb20171229",
		Steps: []scenario.Step{
			steps.SetProfilingLevel(1, 0),
			steps.ExpectProfileCount(steps.ProfileCountExpectation{
				LessThan: mo.Some[int64](profileNoiseBound),
				Message:  "system.profile should be empty at the beginning",
			}),
			steps.Insert("test", "i", profiledInserts, true),
			steps.ExpectProfileCount(steps.ProfileCountExpectation{
				AtLeast: mo.Some[int64](profiledInserts),
				Message: "every insert should be profiled",
			}),
		},
		Teardown: []scenario.Step{
			steps.SetProfilingLevel(0, defaultSlowMS),
		},
	}
}

// DBLevelQuickMS checks that a database-level slowms of 10 seconds
// profiles none of a handful of fast inserts.
func DBLevelQuickMS() scenario.Scenario {
	return scenario.Scenario{
		Name:        "db_level_quickms",
		Description: "With a database-level slowms of 10000, fast inserts stay out of system.profile.",
		Nodes:       1,
		Database:    "quickdb20171229",
		Steps: []scenario.Step{
			steps.SetProfilingLevel(1, 10_000),
			steps.ExpectProfileCount(steps.ProfileCountExpectation{
				LessThan: mo.Some[int64](profileNoiseBound),
				Message:  "system.profile should be empty at the beginning",
			}),
			steps.Insert("test", "i", profiledInserts, true),
			steps.ExpectProfileCount(steps.ProfileCountExpectation{
				LessThan: mo.Some[int64](profileNoiseBound),
				Message:  "no insert should be slow enough to profile",
			}),
		},
		Teardown: []scenario.Step{
			steps.SetProfilingLevel(0, defaultSlowMS),
		},
	}
}
