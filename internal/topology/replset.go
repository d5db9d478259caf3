// Package topology launches, forms, restarts, and tears down the
// MongoDB deployments that scenarios run against. It can also attach to
// a deployment that something else runs.
package topology

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/retry"
	"github.com/10gen/replset-harness/internal/util"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const serverSelectionTimeout = 10 * time.Second

// ReplSet is a deployment under test. It owns its nodes’ clients and lends
// them out through the Node handles.
type ReplSet struct {
	name     string
	opts     Options
	logger   *logger.Logger
	commands *command.Client
	nodes    []*Node
	tempDirs []string

	// attached deployments were launched by something else. The harness
	// only connects to and disconnects from them.
	attached   bool
	standalone bool

	stopMu  sync.Mutex
	stopped bool
}

// Start launches nodeCount mongods as members of a new replica set and
// connects to each. Call Initiate to form the set.
func Start(ctx context.Context, logger *logger.Logger, nodeCount int, opts Options) (*ReplSet, error) {
	if nodeCount < 1 {
		return nil, harnesserr.NewSetupError(
			errors.Errorf("a replica set needs at least 1 node, not %d", nodeCount),
			"start replica set",
		)
	}

	opts = opts.withDefaults()

	rs := &ReplSet{
		name:     opts.ReplSetName,
		opts:     opts,
		logger:   logger,
		commands: command.NewClient(logger),
	}

	logger.Info().
		Str("replSet", rs.name).
		Int("nodes", nodeCount).
		Str("mongod", opts.MongodPath).
		Msg("Starting replica set.")

	start := time.Now()

	// Concurrent mongods sometimes fail to start on “--port 0”, so the
	// nodes launch one at a time.
	for i := range nodeCount {
		node, err := rs.launchNode(ctx, i)
		if node != nil {
			rs.nodes = append(rs.nodes, node)
		}

		if err != nil {
			rs.abandon(ctx)
			return nil, harnesserr.NewSetupError(err, "launch node %d of %#q", i, rs.name)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, node := range rs.nodes {
		eg.Go(func() error {
			return rs.connect(egCtx, node)
		})
	}

	if err := eg.Wait(); err != nil {
		rs.abandon(ctx)
		return nil, harnesserr.NewSetupError(err, "connect to %#q members", rs.name)
	}

	logger.Info().
		Str("replSet", rs.name).
		Strs("members", lo.Map(rs.nodes, nodeAddress)).
		Stringer("elapsed", time.Since(start)).
		Msg("Replica set members are up.")

	return rs, nil
}

// Name returns the replica set’s name, or "" for an attached standalone.
func (rs *ReplSet) Name() string {
	return rs.name
}

// Attached returns true if the harness did not launch the deployment.
func (rs *ReplSet) Attached() bool {
	return rs.attached
}

// Nodes returns all nodes in member order.
func (rs *ReplSet) Nodes() []*Node {
	return slices.Clone(rs.nodes)
}

// Primary returns the node that was primary as of the last role refresh.
func (rs *ReplSet) Primary() (*Node, error) {
	primaries := lo.Filter(rs.nodes, func(node *Node, _ int) bool {
		return node.Role() == RolePrimary
	})

	switch len(primaries) {
	case 1:
		return primaries[0], nil
	case 0:
		return nil, errors.Errorf("%#q has no primary (%s)", rs.name, rs.describeRoles())
	default:
		return nil, errors.Errorf("%#q has %d primaries (%s)", rs.name, len(primaries), rs.describeRoles())
	}
}

// Secondaries returns every node that was not primary as of the last role
// refresh, in member order.
func (rs *ReplSet) Secondaries() []*Node {
	return lo.Filter(rs.nodes, func(node *Node, _ int) bool {
		return node.Role() != RolePrimary
	})
}

// Initiate forms the replica set and waits for a primary. If
// SinglePrimaryPriority is set, every member but the first gets priority 0
// so that the first node becomes primary.
func (rs *ReplSet) Initiate(ctx context.Context) error {
	if rs.attached {
		return errors.Errorf("cannot initiate %#q: the harness did not launch it", rs.name)
	}

	singlePrimary := rs.opts.SinglePrimaryPriority.OrElse(true)

	members := lo.Map(rs.nodes, func(node *Node, i int) bson.D {
		return bson.D{
			{"_id", i},
			{"host", node.Address()},
			{"priority", lo.Ternary(i == 0 || !singlePrimary, 1, 0)},
		}
	})

	config := bson.D{
		{"_id", rs.name},
		{"members", members},
	}

	err := retry.New().
		WithDescription("initiating replica set %#q", rs.name).
		WithErrorCodes(util.NodeNotFound).
		WithRetryLimit(rs.opts.ElectionTimeout).
		Run(ctx, rs.logger, func(ctx context.Context, _ *retry.Info) error {
			result := rs.commands.RunCommand(
				ctx,
				rs.nodes[0],
				"admin",
				bson.D{{"replSetInitiate", config}},
			)

			if result.Code == util.AlreadyInitialized {
				rs.logger.Debug().
					Str("replSet", rs.name).
					Msg("Replica set was already initiated.")

				return nil
			}

			return result.AsError()
		})
	if err != nil {
		return harnesserr.NewSetupError(err, "initiate %#q", rs.name)
	}

	primary, err := rs.awaitPrimary(ctx, rs.opts.ElectionTimeout)
	if err != nil {
		return harnesserr.NewSetupError(err, "elect a primary in %#q", rs.name)
	}

	rs.logger.Info().
		Str("replSet", rs.name).
		Str("primary", primary.Address()).
		Msg("Replica set initiated.")

	return nil
}

func (rs *ReplSet) awaitPrimary(ctx context.Context, timeout time.Duration) (*Node, error) {
	_, _, err := await.Condition(
		ctx,
		rs.logger,
		fmt.Sprintf("%#q elects a primary", rs.name),
		await.Options{Timeout: timeout},
		func(ctx context.Context) (string, bool, error) {
			if err := rs.RefreshRoles(ctx); err != nil {
				return rs.describeRoles(), false, err
			}

			_, err := rs.Primary()
			return rs.describeRoles(), err == nil, nil
		},
	)
	if err != nil {
		return nil, err
	}

	return rs.Primary()
}

// RefreshRoles asks every node for its current role. Nodes that are not
// ready to answer are marked unknown.
func (rs *ReplSet) RefreshRoles(ctx context.Context) error {
	for _, node := range rs.nodes {
		if node.Client() == nil {
			node.setRole(RoleUnknown)
			continue
		}

		resp, _, err := hello(ctx, rs.commands, node)
		if err != nil {
			node.setRole(RoleUnknown)

			if isNotYetReadyError(err) {
				continue
			}

			return errors.Wrapf(err, "failed to get role of %s", node.Address())
		}

		node.setRole(resp.role())
	}

	return nil
}

func (rs *ReplSet) describeRoles() string {
	return strings.Join(lo.Map(rs.nodes, func(node *Node, _ int) string {
		return node.String()
	}), ", ")
}

// AwaitSecondariesReady waits until the primary’s replSetGetStatus lists
// every member as PRIMARY or SECONDARY and every non-primary node says
// that it is a secondary.
func (rs *ReplSet) AwaitSecondariesReady(ctx context.Context, timeout time.Duration) error {
	if rs.standalone {
		return nil
	}

	expected := mapset.NewSet(lo.Map(rs.nodes, nodeAddress)...)

	_, _, err := await.Condition(
		ctx,
		rs.logger,
		fmt.Sprintf("%#q secondaries are ready", rs.name),
		await.Options{Timeout: timeout},
		func(ctx context.Context) (string, bool, error) {
			if err := rs.RefreshRoles(ctx); err != nil {
				return rs.describeRoles(), false, err
			}

			primary, err := rs.Primary()
			if err != nil {
				return rs.describeRoles(), false, nil
			}

			status, err := getReplSetStatus(ctx, rs.commands, primary)
			if err != nil {
				return rs.describeRoles(), false, err
			}

			healthy := mapset.NewSet[string]()
			for _, member := range status.Members {
				if member.StateStr == string(RolePrimary) || member.StateStr == string(RoleSecondary) {
					healthy.Add(member.Name)
				}
			}

			converged := mapset.NewSet[string]()
			for _, node := range rs.nodes {
				if node.Role() != RoleUnknown {
					converged.Add(node.Address())
				}
			}

			ready := expected.IsSubset(healthy) && expected.IsSubset(converged)

			return status.String(), ready, nil
		},
	)

	return err
}

// Restart stops a node and relaunches it on the same port with the same
// data directory. The node gets a new client; any client obtained before
// the restart is disconnected. Restart returns once the node reports
// PRIMARY or SECONDARY.
func (rs *ReplSet) Restart(ctx context.Context, node *Node) error {
	if rs.attached {
		return errors.Errorf("cannot restart %s: the harness did not launch it", node.Address())
	}

	if !slices.Contains(rs.nodes, node) {
		return errors.Errorf("%s is not a member of %#q", node.Address(), rs.name)
	}

	nodeLogger := rs.logger.ForNode(node.Address())
	nodeLogger.Info().Msg("Restarting node.")

	if err := rs.stopNode(ctx, node); err != nil {
		return harnesserr.NewSetupError(err, "stop %s for restart", node.Address())
	}

	proc, err := startProcess(nodeLogger, rs.opts.MongodPath, rs.mongodArgs(node, node.port, true))
	if err != nil {
		return harnesserr.NewSetupError(err, "relaunch %s (log: %s)", node.Address(), node.LogPath())
	}

	node.setProcess(proc)

	if err := rs.connect(ctx, node); err != nil {
		return harnesserr.NewSetupError(err, "reconnect to %s (log: %s)", node.Address(), node.LogPath())
	}

	role, _, err := await.Condition(
		ctx,
		nodeLogger,
		fmt.Sprintf("%s rejoins %#q", node.Address(), rs.name),
		await.Options{Timeout: rs.opts.StartupTimeout},
		func(ctx context.Context) (Role, bool, error) {
			resp, _, err := hello(ctx, rs.commands, node)
			if err != nil {
				return RoleUnknown, false, err
			}

			role := resp.role()
			node.setRole(role)

			return role, role != RoleUnknown, nil
		},
	)
	if err != nil {
		return errors.Wrapf(err, "%s did not rejoin (log: %s)", node.Address(), node.LogPath())
	}

	nodeLogger.Info().
		Str("role", string(role)).
		Msg("Node restarted.")

	return nil
}

// Stop disconnects every client and, for launched deployments, stops
// every node and removes the temporary directories (unless KeepData is
// set). Stop is idempotent.
func (rs *ReplSet) Stop(ctx context.Context) error {
	rs.stopMu.Lock()
	defer rs.stopMu.Unlock()

	if rs.stopped {
		return nil
	}
	rs.stopped = true

	var eg errgroup.Group
	for _, node := range rs.nodes {
		eg.Go(func() error {
			return rs.stopNode(ctx, node)
		})
	}

	err := eg.Wait()

	if !rs.opts.KeepData {
		for _, dir := range rs.tempDirs {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				rs.logger.Warn().
					Err(rmErr).
					Str("dir", dir).
					Msg("Failed to remove node directory.")
			}
		}
	} else if len(rs.tempDirs) > 0 {
		rs.logger.Info().
			Strs("dirs", rs.tempDirs).
			Msg("Keeping node directories.")
	}

	if err != nil {
		return errors.Wrapf(err, "failed to stop %#q cleanly", rs.name)
	}

	rs.logger.Info().
		Str("replSet", rs.name).
		Bool("attached", rs.attached).
		Msg("Topology stopped.")

	return nil
}

// abandon stops whatever a failed Start launched. It runs even if ctx is
// already canceled.
func (rs *ReplSet) abandon(ctx context.Context) {
	cleanupCtx, cancel := util.DetachedWithTimeout(ctx, rs.opts.TeardownTimeout)
	defer cancel()

	if err := rs.Stop(cleanupCtx); err != nil {
		rs.logger.Warn().
			Err(err).
			Str("replSet", rs.name).
			Msg("Failed to clean up after failed start.")
	}
}

func (rs *ReplSet) launchNode(ctx context.Context, index int) (*Node, error) {
	dir, err := os.MkdirTemp("", appName+"-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create node directory")
	}

	rs.tempDirs = append(rs.tempDirs, dir)

	node := &Node{
		index:   index,
		host:    strings.Split(rs.opts.BindIP, ",")[0],
		dbPath:  dir,
		logPath: filepath.Join(dir, "log"),
		role:    RoleUnknown,
	}

	nodeLogger := logger.NewSubLogger(rs.logger, "member", strconv.Itoa(index))

	proc, err := startProcess(nodeLogger, rs.opts.MongodPath, rs.mongodArgs(node, 0, false))
	if err != nil {
		return nil, err
	}

	node.setProcess(proc)

	port, err := discoverPort(ctx, nodeLogger, proc, node.logPath, rs.opts.StartupTimeout)
	if err != nil {
		return node, err
	}

	node.port = port

	nodeLogger.Debug().
		Int("pid", proc.pid).
		Str("address", node.Address()).
		Str("dbpath", dir).
		Msg("mongod is listening.")

	return node, nil
}

func (rs *ReplSet) mongodArgs(node *Node, port int, restart bool) []string {
	args := []string{
		"--replSet", rs.name,
		"--port", strconv.Itoa(port),
		"--dbpath", node.dbPath,
		"--logpath", node.logPath,
		"--bind_ip", rs.opts.BindIP,
	}

	if restart {
		args = append(args, "--logappend")
	}

	if rs.opts.OplogSizeMB > 0 {
		args = append(args, "--oplogSize", strconv.Itoa(rs.opts.OplogSizeMB))
	}

	return append(args, rs.opts.ExtraArgs...)
}

// connect gives the node a new direct client and waits until the node
// answers hello.
func (rs *ReplSet) connect(ctx context.Context, node *Node) error {
	client, err := mongo.Connect(
		ctx,
		options.Client().
			SetHosts([]string{node.Address()}).
			SetDirect(true).
			SetAppName(appName).
			SetServerSelectionTimeout(serverSelectionTimeout),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", node.Address())
	}

	node.setClient(client)

	return await.True(
		ctx,
		rs.logger.ForNode(node.Address()),
		fmt.Sprintf("%s answers hello", node.Address()),
		await.Options{Timeout: rs.opts.StartupTimeout},
		func(ctx context.Context) (bool, error) {
			if proc := node.process(); proc != nil && proc.hasExited() {
				return false, await.Permanent(errors.Errorf(
					"mongod process %d exited (%v); see %s",
					proc.pid,
					proc.exitErr,
					node.logPath,
				))
			}

			resp, _, err := hello(ctx, rs.commands, node)
			if err != nil {
				if isNotYetReadyError(err) {
					return false, err
				}

				return false, await.Permanent(err)
			}

			node.setRole(resp.role())

			return true, nil
		},
	)
}

// stopNode shuts the node down: first by the shutdown command, then by
// SIGTERM, then by SIGKILL, waiting ShutdownTimeout after each. The node’s
// client is disconnected either way.
func (rs *ReplSet) stopNode(ctx context.Context, node *Node) error {
	nodeLogger := rs.logger.ForNode(node.Address())
	proc := node.process()

	if proc != nil && !proc.hasExited() && node.Client() != nil {
		nodeLogger.Debug().Msg("Attempting graceful shutdown.")

		shutdownCtx, cancel := context.WithTimeout(ctx, rs.opts.ShutdownTimeout)
		result := rs.commands.RunCommand(
			shutdownCtx,
			node,
			"admin",
			bson.D{{"shutdown", 1}, {"force", true}},
		)
		cancel()

		// A node that shuts down closes the connection, so an undelivered
		// reply is normal here.
		if result.Outcome == command.Failed {
			nodeLogger.Warn().
				Err(result.Err).
				Msg("Shutdown command failed.")
		}
	}

	if client := node.takeClient(); client != nil {
		if err := client.Disconnect(ctx); err != nil {
			nodeLogger.Debug().
				Err(err).
				Msg("Failed to disconnect client.")
		}
	}

	if proc == nil || proc.waitExit(ctx, rs.opts.ShutdownTimeout) {
		return nil
	}

	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL} {
		nodeLogger.Warn().
			Int("pid", proc.pid).
			Stringer("signal", sig).
			Msg("mongod has not exited; signaling it.")

		if err := proc.signal(sig); err != nil {
			return err
		}

		if proc.waitExit(ctx, rs.opts.ShutdownTimeout) {
			return nil
		}
	}

	return errors.Errorf("mongod process %d did not exit", proc.pid)
}

func nodeAddress(node *Node, _ int) string {
	return node.Address()
}
