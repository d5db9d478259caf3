package webserver

import (
	"sort"
	"time"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/msync"
	"github.com/samber/lo"
)

// ScenarioProgress is one scenario’s latest state.
type ScenarioProgress struct {
	Name  string         `json:"name"`
	RunID string         `json:"runID,omitempty"`
	State scenario.State `json:"state"`
	Since time.Time      `json:"since"`

	// Outcome stays set once the scenario’s steps end, so that a torn
	// down scenario still shows how it went.
	Outcome scenario.State `json:"outcome,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Progress is the body of the progress endpoint.
type Progress struct {
	Scenarios []ScenarioProgress     `json:"scenarios"`
	Counts    map[scenario.State]int `json:"counts"`
	Finished  int                    `json:"finished"`
	Total     int                    `json:"total"`
}

// Tracker follows scenario state transitions. Its Observe method is meant
// for Runner.OnTransition.
type Tracker struct {
	scenarios *msync.Guarded[map[string]ScenarioProgress]
}

// NewTracker returns a Tracker that reports the named scenarios as
// pending until they transition.
func NewTracker(names []string) *Tracker {
	now := time.Now()

	return &Tracker{
		scenarios: msync.NewGuarded(lo.SliceToMap(names, func(name string) (string, ScenarioProgress) {
			return name, ScenarioProgress{
				Name:  name,
				State: scenario.Pending,
				Since: now,
			}
		})),
	}
}

// Observe records a transition.
func (t *Tracker) Observe(transition scenario.Transition) {
	t.scenarios.Update(func(scenarios map[string]ScenarioProgress) map[string]ScenarioProgress {
		sp := scenarios[transition.Scenario]
		sp.Name = transition.Scenario
		sp.RunID = transition.RunID
		sp.State = transition.To
		sp.Since = transition.At

		if transition.To.IsOutcome() {
			sp.Outcome = transition.To
		}

		if transition.Err != nil {
			sp.Error = transition.Err.Error()
		}

		scenarios[transition.Scenario] = sp
		return scenarios
	})
}

// Progress returns a snapshot of every tracked scenario, sorted by name.
func (t *Tracker) Progress() Progress {
	scenarios := lo.Values(t.scenarios.Snapshot())

	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].Name < scenarios[j].Name
	})

	return Progress{
		Scenarios: scenarios,
		Counts: lo.CountValuesBy(scenarios, func(sp ScenarioProgress) scenario.State {
			return sp.State
		}),
		Finished: lo.CountBy(scenarios, func(sp ScenarioProgress) bool {
			return sp.State == scenario.TornDown
		}),
		Total: len(scenarios),
	}
}
