package topology

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

const (
	DefaultMongodPath      = "mongod"
	DefaultBindIP          = "localhost"
	DefaultStartupTimeout  = 2 * time.Minute
	DefaultElectionTimeout = time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTeardownTimeout = 2 * time.Minute

	appName = "replset-harness"
)

// Options configure how a deployment is launched, formed, and torn down.
type Options struct {
	// MongodPath is the mongod binary. It defaults to “mongod” in $PATH.
	MongodPath string

	// ReplSetName defaults to a random “rs-” name.
	ReplSetName string

	BindIP string

	// OplogSizeMB, if nonzero, sets each node’s --oplogSize.
	OplogSizeMB int

	// ExtraArgs are appended to every mongod’s arguments.
	ExtraArgs []string

	// SinglePrimaryPriority gives every member but the first priority 0 so
	// that the first node always becomes primary. It defaults to true.
	SinglePrimaryPriority mo.Option[bool]

	StartupTimeout  time.Duration
	ElectionTimeout time.Duration
	ShutdownTimeout time.Duration
	TeardownTimeout time.Duration

	// KeepData leaves the nodes’ temporary directories in place at stop.
	KeepData bool
}

func (o Options) withDefaults() Options {
	if o.MongodPath == "" {
		o.MongodPath = DefaultMongodPath
	}

	if o.ReplSetName == "" {
		o.ReplSetName = "rs-" + uuid.New().String()[:8]
	}

	if o.BindIP == "" {
		o.BindIP = DefaultBindIP
	}

	if o.SinglePrimaryPriority.IsAbsent() {
		o.SinglePrimaryPriority = mo.Some(true)
	}

	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}

	if o.ElectionTimeout <= 0 {
		o.ElectionTimeout = DefaultElectionTimeout
	}

	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}

	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}

	return o
}
