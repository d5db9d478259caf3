// Package assert provides assertion primitives for scenario steps. Each
// returns nil on success or an error from the harnesserr taxonomy; none
// panics.
package assert

import (
	"fmt"

	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/explain"
	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/constraints"
)

// CommandWorked requires that the command worked. A command that failed
// or was never delivered yields the Result’s CommandError.
func CommandWorked(result command.Result) error {
	return result.AsError()
}

// CommandFailed requires that the server received and refused the
// command. An undelivered command is not a failure in this sense: it
// yields the Result’s CommandError so that the scenario errors out.
func CommandFailed(result command.Result) error {
	switch result.Outcome {
	case command.Failed:
		return nil
	case command.Worked:
		return harnesserr.NewAssertionMismatch(
			result.Outcome.String(),
			command.Failed.String(),
			"%#q on %s should have failed",
			result.Command,
			result.Node,
		)
	default:
		return result.AsError()
	}
}

// Equal requires that actual and expected be equal in the sense of
// testify’s ObjectsAreEqual.
func Equal(actual, expected any, msg string, args ...any) error {
	if assert.ObjectsAreEqual(expected, actual) {
		return nil
	}

	return harnesserr.NewAssertionMismatch(actual, expected, msg, args...)
}

// True requires that cond hold.
func True(cond bool, msg string, args ...any) error {
	return Equal(cond, true, msg, args...)
}

// AtLeast requires that actual >= minimum.
func AtLeast[T constraints.Integer | constraints.Float](actual, minimum T, msg string, args ...any) error {
	if actual >= minimum {
		return nil
	}

	return harnesserr.NewAssertionMismatch(actual, bound{">=", minimum}, msg, args...)
}

// LessThan requires that actual < limit.
func LessThan[T constraints.Integer | constraints.Float](actual, limit T, msg string, args ...any) error {
	if actual < limit {
		return nil
	}

	return harnesserr.NewAssertionMismatch(actual, bound{"<", limit}, msg, args...)
}

// PlanUsesIndex requires that the winning plan’s input stage scan the
// named index, i.e. winningPlan.inputStage.indexName equals indexName.
func PlanUsesIndex(plan explain.Plan, indexName string, msg string, args ...any) error {
	actual := plan.InputIndexName().OrElse(plan.String())
	if actual == indexName {
		return nil
	}

	return harnesserr.NewAssertionMismatch(actual, indexName, msg, args...)
}

// PlanIsCollScan requires that winningPlan.stage be COLLSCAN.
func PlanIsCollScan(plan explain.Plan, msg string, args ...any) error {
	if plan.IsCollScan() {
		return nil
	}

	return harnesserr.NewAssertionMismatch(plan.String(), explain.StageCollScan, msg, args...)
}

// IsMismatch returns true if err is an assertion mismatch.
func IsMismatch(err error) bool {
	var mismatch harnesserr.AssertionMismatch
	return errors.As(err, &mismatch)
}

type bound struct {
	op    string
	value any
}

func (b bound) String() string {
	return fmt.Sprintf("%s %v", b.op, b.value)
}
