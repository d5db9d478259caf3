package topology

import (
	"context"
	"fmt"
	"strings"

	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const commandNotFound = 59

type helloResponse struct {
	IsWritablePrimary bool     `bson:"isWritablePrimary"`
	IsMaster          bool     `bson:"ismaster"`
	Secondary         bool     `bson:"secondary"`
	SetName           string   `bson:"setName"`
	Hosts             []string `bson:"hosts"`
	Passives          []string `bson:"passives"`
	Primary           string   `bson:"primary"`
	Me                string   `bson:"me"`
}

func (h helloResponse) writable() bool {
	return h.IsWritablePrimary || h.IsMaster
}

func (h helloResponse) role() Role {
	switch {
	case h.writable():
		return RolePrimary
	case h.Secondary:
		return RoleSecondary
	default:
		return RoleUnknown
	}
}

// members returns every data-bearing member that hello reports. Members
// with priority 0 are listed as passives.
func (h helloResponse) members() []string {
	return append(append([]string{}, h.Hosts...), h.Passives...)
}

type memberStatus struct {
	ID       int    `bson:"_id"`
	Name     string `bson:"name"`
	StateStr string `bson:"stateStr"`
}

type replSetStatus struct {
	Set     string         `bson:"set"`
	Members []memberStatus `bson:"members"`
}

func (s replSetStatus) String() string {
	parts := make([]string, 0, len(s.Members))

	for _, m := range s.Members {
		parts = append(parts, fmt.Sprintf("%s=%s", m.Name, m.StateStr))
	}

	return strings.Join(parts, ", ")
}

// hello asks the node for its replication role. Servers older than 4.4.2
// only know the legacy isMaster spelling.
func hello(ctx context.Context, commands *command.Client, target command.Target) (helloResponse, command.Result, error) {
	result := commands.RunCommand(ctx, target, "admin", bson.D{{"hello", 1}})
	if result.Outcome == command.Failed && result.Code == commandNotFound {
		result = commands.RunCommand(ctx, target, "admin", bson.D{{"isMaster", 1}})
	}

	if err := result.AsError(); err != nil {
		return helloResponse{}, result, err
	}

	var resp helloResponse
	if err := bson.Unmarshal(result.Response, &resp); err != nil {
		return helloResponse{}, result, errors.Wrapf(err, "failed to decode hello reply from %s", target.Address())
	}

	return resp, result, nil
}

func getReplSetStatus(ctx context.Context, commands *command.Client, target command.Target) (replSetStatus, error) {
	result := commands.RunCommand(ctx, target, "admin", bson.D{{"replSetGetStatus", 1}})
	if err := result.AsError(); err != nil {
		return replSetStatus{}, err
	}

	var status replSetStatus
	if err := bson.Unmarshal(result.Response, &status); err != nil {
		return replSetStatus{}, errors.Wrapf(err, "failed to decode replSetGetStatus reply from %s", target.Address())
	}

	return status, nil
}

// isNotYetReadyError returns true for errors that a node returns while it
// is still starting or has no replica-set config yet.
func isNotYetReadyError(err error) bool {
	return util.IsTransientError(err) ||
		util.IsDeliveryError(err) ||
		util.IsReplSetNotInitializedError(err) ||
		util.GetErrorCode(err) == util.InvalidReplicaSetConfig
}
