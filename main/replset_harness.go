package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/scenariofile"
	"github.com/10gen/replset-harness/internal/scenarios"
	"github.com/10gen/replset-harness/internal/topology"
	"github.com/10gen/replset-harness/internal/webserver"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/samber/lo"
	"github.com/urfave/cli"
	"github.com/urfave/cli/altsrc"
)

const (
	configFileFlag      = "configFile"
	timeoutFlag         = "timeout"
	nodesFlag           = "nodes"
	mongodFlag          = "mongod"
	uriFlag             = "uri"
	parallelFlag        = "parallel"
	logPathFlag         = "logPath"
	debugFlag           = "debug"
	serverPortFlag      = "serverPort"
	fcvLowFlag          = "fcvLow"
	fcvHighFlag         = "fcvHigh"
	visibilityFieldFlag = "visibilityField"
	oplogSizeFlag       = "oplogSizeMB"
	keepDataFlag        = "keepData"
)

func main() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scenarioFlags := []cli.Flag{
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  fcvLowFlag,
			Usage: "feature compatibility `version` below the hidden-index floor; enables replset_fcv_gating with --" + fcvHighFlag,
		}),
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  fcvHighFlag,
			Usage: "feature compatibility `version` at or above the hidden-index floor",
		}),
	}

	runFlags := append([]cli.Flag{
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  configFileFlag,
			Usage: "path to an optional YAML config file",
		}),
		altsrc.NewIntFlag(cli.IntFlag{
			Name:  timeoutFlag,
			Value: int(await.DefaultTimeout / time.Second),
			Usage: "`seconds` to wait for eventually-consistent conditions and for secondaries to be ready",
		}),
		altsrc.NewIntFlag(cli.IntFlag{
			Name:  nodesFlag,
			Value: 2,
			Usage: "`number` of nodes to launch for scenarios that do not say",
		}),
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  mongodFlag,
			Value: topology.DefaultMongodPath,
			Usage: "`path` to the mongod binary to launch",
		}),
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  uriFlag,
			Usage: "connection `URI` of a running deployment to use instead of launching one",
		}),
		altsrc.NewIntFlag(cli.IntFlag{
			Name:  parallelFlag,
			Value: 1,
			Usage: "`number` of scenarios to run at once",
		}),
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  logPathFlag,
			Value: "stderr",
			Usage: "logging `path`: stdout, stderr, or a directory for a rotating log file",
		}),
		altsrc.NewBoolFlag(cli.BoolFlag{
			Name:  debugFlag,
			Usage: "Turn on debug logging",
		}),
		altsrc.NewIntFlag(cli.IntFlag{
			Name:  serverPortFlag,
			Usage: "`port` for the progress web server; 0 disables it",
		}),
		altsrc.NewStringFlag(cli.StringFlag{
			Name:  visibilityFieldFlag,
			Value: command.DefaultVisibilityField,
			Usage: "index option `name` that hides an index (“invisible” on some forks)",
		}),
		altsrc.NewIntFlag(cli.IntFlag{
			Name:  oplogSizeFlag,
			Value: 10,
			Usage: "oplog size in `megabytes` for launched nodes; 0 means the server default",
		}),
		altsrc.NewBoolFlag(cli.BoolFlag{
			Name:  keepDataFlag,
			Usage: "Leave launched nodes’ data directories in place",
		}),
	}, scenarioFlags...)

	app := &cli.App{
		Name:  "replset-harness",
		Usage: "drive a MongoDB deployment through index and profiler scenarios",
		Commands: []cli.Command{
			{
				Name:      "run",
				Usage:     "run scenarios: built-in names or YAML scenario files (all built-ins if none given)",
				ArgsUsage: "[scenario-file|builtin-name]...",
				Flags:     runFlags,
				Before: func(cCtx *cli.Context) error {
					confFile := cCtx.String(configFileFlag)

					if len(confFile) > 0 {
						readConfFunc := altsrc.InitInputSourceWithContext(runFlags, altsrc.NewYamlSourceFromFlagFunc(configFileFlag))
						return readConfFunc(cCtx)
					}

					return nil
				},
				Action: func(cCtx *cli.Context) error {
					return runAction(ctx, cCtx)
				},
			},
			{
				Name:  "list",
				Usage: "list the built-in scenarios",
				Flags: scenarioFlags,
				Action: func(cCtx *cli.Context) error {
					listScenarios(scenarioConfig(cCtx))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Stack().Msg("Fatal Error")
	}
}

func scenarioConfig(cCtx *cli.Context) scenarios.Config {
	return scenarios.Config{
		FCVLow:  cCtx.String(fcvLowFlag),
		FCVHigh: cCtx.String(fcvHighFlag),
	}
}

func listScenarios(cfg scenarios.Config) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scenario", "Nodes", "Description"})
	table.SetAutoWrapText(false)

	for _, sc := range scenarios.All(cfg) {
		table.Append([]string{
			sc.Name,
			lo.Ternary(sc.Nodes > 0, fmt.Sprint(sc.Nodes), "default"),
			sc.Description,
		})
	}

	table.Render()
}

func runAction(ctx context.Context, cCtx *cli.Context) error {
	harnessLogger, err := logger.NewFromPath(cCtx.String(logPathFlag))
	if err != nil {
		return err
	}

	if cCtx.Bool(debugFlag) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	toRun, err := resolveScenarios(scenarioConfig(cCtx), cCtx.Args())
	if err != nil {
		return err
	}

	timeout := time.Duration(cCtx.Int(timeoutFlag)) * time.Second
	if timeout <= 0 {
		return errors.Errorf("--%s must be positive", timeoutFlag)
	}

	provisioner, err := buildProvisioner(harnessLogger, cCtx, timeout)
	if err != nil {
		return err
	}

	if uri := cCtx.String(uriFlag); uri != "" {
		deployment, err := inspectAttached(ctx, harnessLogger, uri)
		if err != nil {
			return err
		}

		toRun, err = keepRunnable(harnessLogger, toRun, deployment)
		if err != nil {
			return err
		}
	}

	commands := command.NewClient(harnessLogger)
	commands.VisibilityField = cCtx.String(visibilityFieldFlag)

	runner := scenario.NewRunner(
		harnessLogger,
		provisioner,
		commands,
		scenario.Options{
			TeardownTimeout: topology.DefaultTeardownTimeout,
			Await:           await.Options{Timeout: timeout},
		},
	)

	tracker := webserver.NewTracker(lo.Map(toRun, func(sc scenario.Scenario, _ int) string {
		return sc.Name
	}))
	runner.OnTransition(tracker.Observe)

	if port := cCtx.Int(serverPortFlag); port != 0 {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()

		server := webserver.NewWebServer(port, tracker, harnessLogger)
		go func() {
			if err := server.Run(serverCtx); err != nil {
				harnessLogger.Error().Err(err).Msg("Progress web server stopped.")
			}
		}()
	}

	harnessLogger.Info().
		Strs("scenarios", lo.Map(toRun, func(sc scenario.Scenario, _ int) string { return sc.Name })).
		Int("parallel", cCtx.Int(parallelFlag)).
		Msg("Running scenarios.")

	reports := runner.RunAll(ctx, toRun, cCtx.Int(parallelFlag))

	scenario.RenderReports(os.Stdout, reports)

	if failed := scenario.FailedScenarios(reports); len(failed) > 0 {
		return cli.NewExitError(
			fmt.Sprintf("%d scenario(s) did not pass: %s", len(failed), strings.Join(failed, ", ")),
			1,
		)
	}

	return nil
}

func buildProvisioner(
	harnessLogger *logger.Logger,
	cCtx *cli.Context,
	timeout time.Duration,
) (scenario.Provisioner, error) {
	if uri := cCtx.String(uriFlag); uri != "" {
		if err := checkAttachFlags(cCtx.IsSet(mongodFlag), cCtx.Int(parallelFlag)); err != nil {
			return nil, err
		}

		return scenario.AttachProvisioner{
			Logger:       harnessLogger,
			URI:          uri,
			ReadyTimeout: timeout,
		}, nil
	}

	nodes := cCtx.Int(nodesFlag)
	if nodes < 1 {
		return nil, errors.Errorf("--%s must be at least 1", nodesFlag)
	}

	return scenario.LaunchProvisioner{
		Logger: harnessLogger,
		Options: topology.Options{
			MongodPath:  cCtx.String(mongodFlag),
			OplogSizeMB: cCtx.Int(oplogSizeFlag),
			KeepData:    cCtx.Bool(keepDataFlag),
		},
		DefaultNodes: nodes,
		ReadyTimeout: max(timeout, topology.DefaultElectionTimeout),
	}, nil
}

// checkAttachFlags validates the flags that go with --uri. Scenarios on
// one attached deployment share its server-wide state (e.g., the FCV), so
// they run one at a time.
func checkAttachFlags(mongodSet bool, parallel int) error {
	if mongodSet {
		return errors.Errorf("--%s and --%s are mutually exclusive", uriFlag, mongodFlag)
	}

	if parallel > 1 {
		return errors.Errorf("--%s must be 1 with --%s, not %d", parallelFlag, uriFlag, parallel)
	}

	return nil
}

// resolveScenarios treats each argument as a scenario file if one exists
// at that path, and as a built-in name otherwise.
func resolveScenarios(cfg scenarios.Config, args []string) ([]scenario.Scenario, error) {
	if len(args) == 0 {
		return scenarios.All(cfg), nil
	}

	var resolved []scenario.Scenario

	for _, arg := range args {
		if _, err := os.Stat(arg); err == nil {
			fromFile, err := scenariofile.Load(arg)
			if err != nil {
				return nil, err
			}

			resolved = append(resolved, fromFile...)
			continue
		}

		builtin, err := scenarios.Lookup(cfg, arg)
		if err != nil {
			return nil, errors.Wrapf(
				err,
				"%#q is neither a scenario file nor a built-in (built-ins: %s)",
				arg,
				strings.Join(scenarios.Names(cfg), ", "),
			)
		}

		resolved = append(resolved, builtin)
	}

	duplicates := lo.FindDuplicatesBy(resolved, func(sc scenario.Scenario) string {
		return sc.Name
	})
	if len(duplicates) > 0 {
		return nil, errors.Errorf("scenario %#q is named more than once", duplicates[0].Name)
	}

	return resolved, nil
}

func inspectAttached(ctx context.Context, harnessLogger *logger.Logger, uri string) (scenarios.Deployment, error) {
	rs, err := topology.Attach(ctx, harnessLogger, uri, topology.Options{})
	if err != nil {
		return scenarios.Deployment{}, err
	}

	deployment, err := scenarios.Inspect(ctx, rs)

	if stopErr := rs.Stop(ctx); stopErr != nil {
		harnessLogger.Warn().
			Err(stopErr).
			Msg("Failed to disconnect after inspecting the deployment.")
	}

	return deployment, err
}

// keepRunnable drops the scenarios that cannot run on the deployment and
// logs why. It fails if none remain.
func keepRunnable(
	harnessLogger *logger.Logger,
	toRun []scenario.Scenario,
	deployment scenarios.Deployment,
) ([]scenario.Scenario, error) {
	runnable := lo.Filter(toRun, func(sc scenario.Scenario, _ int) bool {
		reason, unrunnable := scenarios.Unrunnable(sc, deployment).Get()
		if unrunnable {
			harnessLogger.Warn().
				Str("scenario", sc.Name).
				Str("reason", reason).
				Msg("Skipping scenario that cannot run on this deployment.")
		}

		return !unrunnable
	})

	if len(runnable) == 0 {
		return nil, errors.Errorf(
			"none of the %d scenario(s) can run on this deployment (%d node(s), attached: %t)",
			len(toRun),
			deployment.Nodes,
			deployment.Attached,
		)
	}

	return runnable, nil
}
