// Package command sends commands to individual deployment nodes and
// reports each command’s outcome as a tagged Result.
package command

import (
	"context"
	"time"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/util"
	clone "github.com/huandu/go-clone/generic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultVisibilityField is the index option that hides an index from the
// query planner.
const DefaultVisibilityField = "hidden"

// Target is a node that commands can be sent to. The topology owns the
// underlying client; a Target only lends it.
type Target interface {
	Address() string
	Client() *mongo.Client
}

// Client runs commands against Targets. It holds no connection state of
// its own.
type Client struct {
	logger *logger.Logger

	// VisibilityField is the name of the index option that hides an
	// index. Some server builds spell it “invisible”.
	VisibilityField string
}

// NewClient returns a Client that logs to the given logger.
func NewClient(logger *logger.Logger) *Client {
	return &Client{
		logger:          logger,
		VisibilityField: DefaultVisibilityField,
	}
}

// RunCommand sends cmd to the target’s db. It never returns a bare error:
// failures are tagged in the Result.
func (c *Client) RunCommand(ctx context.Context, target Target, db string, cmd bson.D) Result {
	return c.run(ctx, target, db, cmd, nil)
}

func (c *Client) runRead(ctx context.Context, target Target, db string, cmd bson.D) Result {
	return c.run(ctx, target, db, cmd, readpref.SecondaryPreferred())
}

func (c *Client) run(
	ctx context.Context,
	target Target,
	db string,
	cmd bson.D,
	readPref *readpref.ReadPref,
) Result {
	result := Result{
		Node:     target.Address(),
		Database: db,
		Request:  clone.Clone(cmd),
	}

	if len(cmd) > 0 {
		result.Command = cmd[0].Key
	}

	opts := options.RunCmd()
	if readPref != nil {
		opts.SetReadPreference(readPref)
	}

	start := time.Now()
	resp, err := target.Client().Database(db).RunCommand(ctx, cmd, opts).Raw()
	result.Duration = time.Since(start)

	if err == nil {
		result.Response = resp
		err = writeErrorFromResponse(resp)
	}

	var serverErr mongo.ServerError

	switch {
	case err == nil:
		result.Outcome = Worked
	case util.IsDeliveryError(err):
		result.Outcome = Undelivered
		result.Err = err
	case errors.As(err, &serverErr) || result.Response != nil:
		result.Outcome = Failed
		result.Err = err
		result.Code = util.GetErrorCode(err)
		result.CodeName = util.GetErrorCodeName(err)
	default:
		// The driver refused the command before sending it (e.g., it
		// could not encode it), so no server saw it.
		result.Outcome = Undelivered
		result.Err = err
	}

	c.logResult(result)

	return result
}

func (c *Client) logResult(result Result) {
	level := zerolog.DebugLevel
	if result.Outcome == Undelivered {
		level = zerolog.WarnLevel
	}

	event := c.logger.WithLevel(level).
		Str("node", result.Node).
		Str("db", result.Database).
		Str("command", result.Command).
		Stringer("outcome", result.Outcome).
		Dur("duration", result.Duration)

	if result.Err != nil {
		event = event.Err(result.Err)
	}

	event.Msg("Ran command.")
}

type writeErrorDoc struct {
	Index   int    `bson:"index"`
	Code    int    `bson:"code"`
	Message string `bson:"errmsg"`
}

type writeResponse struct {
	WriteErrors       []writeErrorDoc `bson:"writeErrors"`
	WriteConcernError *struct {
		Code    int    `bson:"code"`
		Name    string `bson:"codeName"`
		Message string `bson:"errmsg"`
	} `bson:"writeConcernError"`
}

// writeErrorFromResponse returns an error if an ok:1 reply carries write
// errors or a write concern error. Write commands report those without
// setting ok:0.
func writeErrorFromResponse(resp bson.Raw) error {
	_, hasWriteErrors := resp.Lookup("writeErrors").ArrayOK()
	_, hasWCError := resp.Lookup("writeConcernError").DocumentOK()

	if !hasWriteErrors && !hasWCError {
		return nil
	}

	var parsed writeResponse
	if err := bson.Unmarshal(resp, &parsed); err != nil {
		return errors.Wrap(err, "failed to decode write errors")
	}

	if len(parsed.WriteErrors) == 0 && parsed.WriteConcernError == nil {
		return nil
	}

	we := mongo.WriteException{
		Raw: resp,
	}

	for _, wErr := range parsed.WriteErrors {
		we.WriteErrors = append(we.WriteErrors, mongo.WriteError{
			Index:   wErr.Index,
			Code:    wErr.Code,
			Message: wErr.Message,
		})
	}

	if wce := parsed.WriteConcernError; wce != nil {
		we.WriteConcernError = &mongo.WriteConcernError{
			Name:    wce.Name,
			Code:    wce.Code,
			Message: wce.Message,
		}
	}

	return we
}
