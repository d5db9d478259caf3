package scenario

import (
	"fmt"
	"slices"
)

// State is a scenario run’s position in its lifecycle:
//
//	Pending -> SettingUp -> Running -> {Passed | Failed | Errored} -> TornDown
//
// A run that cannot finish setting up goes straight from SettingUp to
// Errored.
type State string

const (
	Pending   State = "pending"
	SettingUp State = "setting up"
	Running   State = "running"
	Passed    State = "passed"
	Failed    State = "failed"
	Errored   State = "errored"
	TornDown  State = "torn down"
)

var transitions = map[State][]State{
	Pending:   {SettingUp},
	SettingUp: {Running, Errored},
	Running:   {Passed, Failed, Errored},
	Passed:    {TornDown},
	Failed:    {TornDown},
	Errored:   {TornDown},
}

// IsOutcome returns true for the states that end a run’s steps.
func (s State) IsOutcome() bool {
	return s == Passed || s == Failed || s == Errored
}

// CanTransition returns true if a run may move from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// mustTransition panics if the transition is illegal: that would be a bug
// in the runner, not a scenario failure.
func mustTransition(from, to State) {
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("illegal scenario state transition: %s -> %s", from, to))
	}
}
