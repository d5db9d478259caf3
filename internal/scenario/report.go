package scenario

import (
	"fmt"
	"io"
	"time"

	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/reportutils"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const maxDetailLen = 160

// StepReport records one step.
type StepReport struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Report is the result of one run.
type Report struct {
	RunID    string
	Scenario string
	Outcome  State
	Duration time.Duration

	// FailedStep names the step that ended the run, if one did.
	FailedStep string
	Err        error

	TeardownErr error
	Steps       []StepReport
}

// OK returns true if the scenario passed and tore down cleanly.
func (r Report) OK() bool {
	return r.Outcome == Passed && r.TeardownErr == nil
}

// Kind returns the error kind that ended the run, if any.
func (r Report) Kind() harnesserr.Kind {
	return harnesserr.KindOf(r.Err)
}

// FailedScenarios returns the names of the scenarios whose reports are
// not OK.
func FailedScenarios(reports []Report) []string {
	return lo.FilterMap(reports, func(r Report, _ int) (string, bool) {
		return r.Scenario, !r.OK()
	})
}

// RenderReports writes a table of the reports, then the untruncated
// errors of every report that is not OK, then a summary line.
func RenderReports(w io.Writer, reports []Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Scenario", "Outcome", "Duration", "Steps", "Failed Step", "Detail"})
	table.SetAutoWrapText(false)

	for _, r := range reports {
		detail := ""

		switch {
		case r.Err != nil:
			detail = fmt.Sprintf("[%s] %v", r.Kind(), r.Err)
		case r.TeardownErr != nil:
			detail = fmt.Sprintf("[teardown] %v", r.TeardownErr)
		}

		table.Append([]string{
			r.Scenario,
			string(r.Outcome),
			reportutils.DurationToHMS(r.Duration),
			reportutils.FmtCount(len(r.Steps)),
			r.FailedStep,
			reportutils.Truncate(detail, maxDetailLen),
		})
	}

	table.Render()

	for _, r := range reports {
		if r.OK() {
			continue
		}

		fmt.Fprintf(w, "\n%s (%s, run %s):\n", r.Scenario, r.Outcome, r.RunID)

		if r.Err != nil {
			fmt.Fprintf(w, "  step %#q [%s]: %v\n", r.FailedStep, r.Kind(), r.Err)
		}

		if r.TeardownErr != nil {
			fmt.Fprintf(w, "  teardown: %v\n", r.TeardownErr)
		}
	}

	passed := lo.CountBy(reports, Report.OK)

	fmt.Fprintf(
		w,
		"%s of %s scenario(s) passed (%s%%).\n",
		reportutils.FmtCount(passed),
		reportutils.FmtCount(len(reports)),
		reportutils.FmtPercent(passed, len(reports)),
	)
}
