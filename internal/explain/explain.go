// Package explain models the query-planner section of an explain
// command’s response.
package explain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// Stage names that assertions compare against.
const (
	StageCollScan = "COLLSCAN"
	StageIxScan   = "IXSCAN"
	StageFetch    = "FETCH"
)

// Stage is one node of a winning plan.
type Stage struct {
	Stage       string  `bson:"stage"`
	IndexName   string  `bson:"indexName,omitempty"`
	InputStage  *Stage  `bson:"inputStage,omitempty"`
	InputStages []Stage `bson:"inputStages,omitempty"`
}

// Plan is a parsed winning plan, along with the raw explain response that
// it came from.
type Plan struct {
	Namespace   string
	WinningPlan Stage
	Raw         bson.Raw
}

type queryPlanner struct {
	Namespace   string   `bson:"namespace"`
	WinningPlan bson.Raw `bson:"winningPlan"`
}

// Parse extracts the winning plan from an explain response. Servers that
// use the slot-based engine nest the classic plan under
// winningPlan.queryPlan; that subdocument is used when present.
func Parse(raw bson.Raw) (Plan, error) {
	var resp struct {
		QueryPlanner *queryPlanner `bson:"queryPlanner"`
	}

	if err := bson.Unmarshal(raw, &resp); err != nil {
		return Plan{}, errors.Wrap(err, "failed to decode explain response")
	}

	if resp.QueryPlanner == nil {
		return Plan{}, errors.Errorf("explain response lacks queryPlanner: %v", raw)
	}

	if len(resp.QueryPlanner.WinningPlan) == 0 {
		return Plan{}, errors.Errorf("explain response lacks queryPlanner.winningPlan: %v", raw)
	}

	winning := resp.QueryPlanner.WinningPlan
	if nested, ok := winning.Lookup("queryPlan").DocumentOK(); ok {
		winning = nested
	}

	var stage Stage
	if err := bson.Unmarshal(winning, &stage); err != nil {
		return Plan{}, errors.Wrapf(err, "failed to decode winning plan %v", winning)
	}

	if stage.Stage == "" {
		return Plan{}, errors.Errorf("winning plan has no stage: %v", winning)
	}

	return Plan{
		Namespace:   resp.QueryPlanner.Namespace,
		WinningPlan: stage,
		Raw:         raw,
	}, nil
}

// RootStage returns the name of the winning plan’s top stage
// (winningPlan.stage).
func (p Plan) RootStage() string {
	return p.WinningPlan.Stage
}

// InputIndexName returns winningPlan.inputStage.indexName, if the plan has
// an input stage that names an index.
func (p Plan) InputIndexName() mo.Option[string] {
	input := p.WinningPlan.InputStage
	if input == nil || input.IndexName == "" {
		return mo.None[string]()
	}

	return mo.Some(input.IndexName)
}

// IsCollScan returns true if the plan’s top stage is a collection scan.
func (p Plan) IsCollScan() bool {
	return p.RootStage() == StageCollScan
}

// String renders the plan as a chain of stages, e.g. “FETCH <- IXSCAN(a_1)”.
func (p Plan) String() string {
	return p.WinningPlan.String()
}

func (s Stage) String() string {
	var sb strings.Builder

	sb.WriteString(s.Stage)
	if s.IndexName != "" {
		sb.WriteString("(" + s.IndexName + ")")
	}

	switch {
	case s.InputStage != nil:
		sb.WriteString(" <- " + s.InputStage.String())
	case len(s.InputStages) > 0:
		children := lo.Map(
			s.InputStages,
			func(child Stage, _ int) string {
				return child.String()
			},
		)
		sb.WriteString(" <- [" + strings.Join(children, ", ") + "]")
	}

	return sb.String()
}
