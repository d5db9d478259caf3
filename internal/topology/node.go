package topology

import (
	"net"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
)

// Role is a node’s replica-set state as of the last refresh.
type Role string

const (
	RolePrimary   Role = "PRIMARY"
	RoleSecondary Role = "SECONDARY"
	RoleUnknown   Role = "UNKNOWN"
)

// Node is one mongod. Its identity is its address; its client is
// replaced, never reused, whenever the node restarts.
type Node struct {
	index   int
	host    string
	port    int
	dbPath  string
	logPath string

	mu     sync.RWMutex
	client *mongo.Client
	role   Role
	proc   *process
}

// Address returns the node’s host:port.
func (n *Node) Address() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

// Port returns the node’s listening port.
func (n *Node) Port() int {
	return n.port
}

// Index returns the node’s position (and replica-set member _id).
func (n *Node) Index() int {
	return n.index
}

// LogPath returns the mongod log file, or "" if the harness did not
// launch the node.
func (n *Node) LogPath() string {
	return n.logPath
}

// Client returns the node’s current direct-connection client. Callers
// must not cache it across a restart.
func (n *Node) Client() *mongo.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.client
}

// Role returns the node’s role as of the last refresh.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.role
}

// Running returns true if the node can take commands: a launched node
// whose process is alive, or an attached node that is still connected.
func (n *Node) Running() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.proc != nil {
		return !n.proc.hasExited()
	}

	return n.client != nil
}

func (n *Node) String() string {
	return n.Address() + " (" + string(n.Role()) + ")"
}

func (n *Node) setRole(role Role) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.role = role
}

func (n *Node) setClient(client *mongo.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.client = client
}

// takeClient detaches the node’s client and returns it.
func (n *Node) takeClient() *mongo.Client {
	n.mu.Lock()
	defer n.mu.Unlock()

	client := n.client
	n.client = nil
	n.role = RoleUnknown

	return client
}

func (n *Node) process() *process {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.proc
}

func (n *Node) setProcess(proc *process) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.proc = proc
}
