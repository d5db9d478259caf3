package scenario

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Phase names the part of a scenario that a step belongs to.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseSteps    Phase = "steps"
	PhaseTeardown Phase = "teardown"
)

// Transition describes one state change of one run.
type Transition struct {
	RunID    string
	Scenario string
	From     State
	To       State
	At       time.Time
	Err      error
}

// Options configure a Runner.
type Options struct {
	// TeardownTimeout bounds teardown, which runs on a context detached
	// from the run’s so that it happens even after cancellation.
	TeardownTimeout time.Duration

	// Await is the polling configuration that steps get in their Env.
	Await await.Options
}

// Runner runs scenarios. It is safe to run several scenarios at once;
// each gets its own deployment from the Provisioner.
type Runner struct {
	logger      *logger.Logger
	provisioner Provisioner
	commands    *command.Client
	opts        Options

	observersMu sync.RWMutex
	observers   []func(Transition)

	resetDatabase func(ctx context.Context, env *Env) error
}

// NewRunner returns a Runner that acquires deployments from provisioner
// and sends commands through commands.
func NewRunner(
	logger *logger.Logger,
	provisioner Provisioner,
	commands *command.Client,
	opts Options,
) *Runner {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = topology.DefaultTeardownTimeout
	}

	return &Runner{
		logger:        logger,
		provisioner:   provisioner,
		commands:      commands,
		opts:          opts,
		resetDatabase: dropScenarioDatabase,
	}
}

// OnTransition registers fn to be called on every state change of every
// run. fn must not block.
func (r *Runner) OnTransition(fn func(Transition)) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()

	r.observers = append(r.observers, fn)
}

type run struct {
	runner *Runner
	id     string
	sc     Scenario
	logger *logger.Logger
	state  State
	report Report
}

func (rn *run) transition(to State, err error) {
	mustTransition(rn.state, to)

	from := rn.state
	rn.state = to

	rn.logger.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Scenario changed state.")

	t := Transition{
		RunID:    rn.id,
		Scenario: rn.sc.Name,
		From:     from,
		To:       to,
		At:       time.Now(),
		Err:      err,
	}

	rn.runner.observersMu.RLock()
	defer rn.runner.observersMu.RUnlock()

	for _, fn := range rn.runner.observers {
		fn(t)
	}
}

// Run runs one scenario: it acquires a deployment, drops the scenario’s
// database, runs the setup steps and then the steps in order, stopping at
// the first error, and finally tears down. Teardown happens on every path,
// including cancellation and panics in steps.
func (r *Runner) Run(ctx context.Context, sc Scenario) Report {
	rn := &run{
		runner: r,
		id:     uuid.New().String(),
		sc:     sc,
		logger: r.logger.ForScenario(sc.Name),
		state:  Pending,
	}

	rn.report = Report{
		RunID:    rn.id,
		Scenario: sc.Name,
	}

	start := time.Now()
	rn.logger.Info().
		Str("runID", rn.id).
		Msg("Starting scenario.")

	rn.transition(SettingUp, nil)

	topo, err := r.provisioner.Provision(ctx, sc)
	if err != nil {
		rn.finish(Errored, "", harnesserr.NewSetupError(err, "provision deployment"))
		rn.transition(TornDown, nil)
		rn.report.Duration = time.Since(start)

		return rn.report
	}

	env := &Env{
		Scenario: sc.Name,
		Database: sc.Database,
		Topology: topo,
		Commands: r.commands,
		Logger:   rn.logger,
		Await:    r.opts.Await,
	}

	defer func() {
		rn.teardown(ctx, env)
		rn.transition(TornDown, rn.report.TeardownErr)
		rn.report.Duration = time.Since(start)

		rn.logEnd()
	}()

	if err := r.resetDatabase(ctx, env); err != nil {
		rn.finish(Errored, "", harnesserr.NewSetupError(err, "drop database %#q", sc.Database))
		return rn.report
	}

	for _, step := range sc.Setup {
		if err := rn.runStep(ctx, env, PhaseSetup, step); err != nil {
			if harnesserr.KindOf(err) != harnesserr.KindSetup {
				err = harnesserr.NewSetupError(err, "setup step %#q", step.Name)
			}

			rn.finish(Errored, step.Name, err)
			return rn.report
		}
	}

	rn.transition(Running, nil)

	for _, step := range sc.Steps {
		if err := rn.runStep(ctx, env, PhaseSteps, step); err != nil {
			rn.finish(OutcomeFor(err), step.Name, err)
			return rn.report
		}
	}

	rn.finish(Passed, "", nil)

	return rn.report
}

func (rn *run) finish(outcome State, failedStep string, err error) {
	rn.report.Outcome = outcome
	rn.report.FailedStep = failedStep
	rn.report.Err = err

	rn.transition(outcome, err)
}

func (rn *run) logEnd() {
	event := rn.logger.Info()
	if !rn.report.OK() {
		event = rn.logger.Error()
	}

	if rn.report.Err != nil {
		event = event.Err(rn.report.Err).Str("failedStep", rn.report.FailedStep)
	}

	if rn.report.TeardownErr != nil {
		event = event.AnErr("teardownErr", rn.report.TeardownErr)
	}

	event.
		Str("outcome", string(rn.report.Outcome)).
		Stringer("duration", rn.report.Duration).
		Msg("Scenario finished.")
}

// runStep runs one step and records it in the report. A panic in the
// step becomes an error.
func (rn *run) runStep(ctx context.Context, env *Env, phase Phase, step Step) (err error) {
	stepLogger := logger.NewSubLogger(rn.logger, "step", step.Name)
	stepEnv := *env
	stepEnv.Logger = stepLogger

	start := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.Errorf("step panicked: %v\n%s", recovered, debug.Stack())
		}

		rn.report.Steps = append(rn.report.Steps, StepReport{
			Name:     step.Name,
			Phase:    phase,
			Duration: time.Since(start),
			Err:      err,
		})

		if err != nil {
			stepLogger.Debug().Err(err).Msg("Step failed.")
		} else {
			stepLogger.Debug().Msg("Step done.")
		}
	}()

	if ctx.Err() != nil {
		return errors.Wrapf(util.WrapCtxErrWithCause(ctx), "scenario aborted before %s step %#q", phase, step.Name)
	}

	stepLogger.Debug().Str("phase", string(phase)).Msg("Running step.")

	return step.Action(ctx, &stepEnv)
}

// teardown runs the teardown steps and stops the deployment. Both run on a
// context that the caller’s cancellation does not reach.
func (rn *run) teardown(ctx context.Context, env *Env) {
	cleanupCtx, cancel := util.DetachedWithTimeout(ctx, rn.runner.opts.TeardownTimeout)
	defer cancel()

	var teardownErr error

	for _, step := range rn.sc.Teardown {
		if err := rn.runStep(cleanupCtx, env, PhaseTeardown, step); err != nil && teardownErr == nil {
			teardownErr = errors.Wrapf(err, "teardown step %#q", step.Name)
		}
	}

	if err := env.Topology.Stop(cleanupCtx); err != nil && teardownErr == nil {
		teardownErr = errors.Wrap(err, "stopping deployment")
	}

	rn.report.TeardownErr = teardownErr
}

// OutcomeFor maps a step error to the run’s outcome. Infrastructure
// trouble (setup, undelivered commands, cancellation) errors the run;
// everything that the deployment itself got wrong fails it.
func OutcomeFor(err error) State {
	switch harnesserr.KindOf(err) {
	case "":
		return Passed
	case harnesserr.KindAssertion, harnesserr.KindCommand, harnesserr.KindTimeout:
		return Failed
	default:
		return Errored
	}
}

func dropScenarioDatabase(ctx context.Context, env *Env) error {
	if env.Database == "" {
		return nil
	}

	primary, err := env.Primary()
	if err != nil {
		return err
	}

	return env.Commands.DropDatabase(ctx, primary, env.Database).AsError()
}

// RunAll runs scenarios with up to parallelism at once. Each scenario
// gets its own deployment; steps within a scenario never run
// concurrently. Reports come back in the scenarios’ order.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario, parallelism int) []Report {
	reports := make([]Report, len(scenarios))

	var eg errgroup.Group
	eg.SetLimit(max(parallelism, 1))

	for i, sc := range scenarios {
		eg.Go(func() error {
			reports[i] = r.Run(ctx, sc)
			return nil
		})
	}

	// Runs report their errors in their Reports.
	_ = eg.Wait()

	return reports
}
