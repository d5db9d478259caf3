package topology

import (
	"context"
	"net"
	"strconv"

	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Attach connects to a running standalone or replica set. Every member
// that hello reports gets its own direct client. Restarting an attached
// node is unsupported, and Stop only disconnects.
func Attach(ctx context.Context, logger *logger.Logger, uri string, opts Options) (*ReplSet, error) {
	opts = opts.withDefaults()

	connStr, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, harnesserr.NewSetupError(err, "parse connection string")
	}

	if len(connStr.Hosts) == 0 {
		return nil, harnesserr.NewSetupError(errors.New("no hosts"), "parse connection string")
	}

	rs := &ReplSet{
		opts:     opts,
		logger:   logger,
		commands: command.NewClient(logger),
		attached: true,
	}

	seed := &Node{role: RoleUnknown}
	if err := seed.setAddress(connStr.Hosts[0]); err != nil {
		return nil, harnesserr.NewSetupError(err, "parse seed address")
	}

	seedClient, err := connectAttached(ctx, uri, seed.Address())
	if err != nil {
		return nil, harnesserr.NewSetupError(err, "connect to %s", seed.Address())
	}

	seed.setClient(seedClient)

	resp, _, err := hello(ctx, rs.commands, seed)
	if err != nil {
		_ = seedClient.Disconnect(ctx)
		return nil, harnesserr.NewSetupError(err, "query %s for members", seed.Address())
	}

	if resp.SetName == "" {
		rs.standalone = true
		seed.setRole(RolePrimary)
		rs.nodes = []*Node{seed}

		logger.Info().
			Str("address", seed.Address()).
			Msg("Attached to standalone.")

		return rs, nil
	}

	_ = seedClient.Disconnect(ctx)
	seed.takeClient()

	rs.name = resp.SetName

	for i, addr := range resp.members() {
		node := &Node{index: i, role: RoleUnknown}
		if err := node.setAddress(addr); err != nil {
			rs.abandon(ctx)
			return nil, harnesserr.NewSetupError(err, "parse member address")
		}

		client, err := connectAttached(ctx, uri, node.Address())
		if err != nil {
			rs.abandon(ctx)
			return nil, harnesserr.NewSetupError(err, "connect to %s", node.Address())
		}

		node.setClient(client)
		rs.nodes = append(rs.nodes, node)
	}

	if err := rs.RefreshRoles(ctx); err != nil {
		rs.abandon(ctx)
		return nil, harnesserr.NewSetupError(err, "query %#q roles", rs.name)
	}

	logger.Info().
		Str("replSet", rs.name).
		Str("members", rs.describeRoles()).
		Msg("Attached to replica set.")

	return rs, nil
}

// connectAttached connects directly to one host, keeping the URI’s other
// options (e.g., credentials or TLS).
func connectAttached(ctx context.Context, uri, addr string) (*mongo.Client, error) {
	return mongo.Connect(
		ctx,
		options.Client().
			ApplyURI(uri).
			SetHosts([]string{addr}).
			SetDirect(true).
			SetAppName(appName).
			SetServerSelectionTimeout(serverSelectionTimeout),
	)
}

func (n *Node) setAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// A bare host uses the default port.
		host, portStr = addr, "27017"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.Wrapf(err, "invalid port in %#q", addr)
	}

	n.host = host
	n.port = port

	return nil
}
