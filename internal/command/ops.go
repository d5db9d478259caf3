package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/10gen/replset-harness/internal/explain"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
)

const insertBatchSize = 1_000

// IndexOptions are the createIndexes options that scenarios set.
type IndexOptions struct {
	// Name defaults to the server’s generated name (e.g., “a_1”).
	Name       string
	Hidden     bool
	Background bool
}

// Explain runs a queryPlanner-verbosity explain of a find on the target.
// Secondaries are read with secondaryPreferred.
func (c *Client) Explain(
	ctx context.Context,
	target Target,
	db, coll string,
	filter any,
) (explain.Plan, error) {
	result := c.runRead(
		ctx,
		target,
		db,
		bson.D{
			{"explain", bson.D{
				{"find", coll},
				{"filter", filter},
			}},
			{"verbosity", "queryPlanner"},
		},
	)

	if err := result.AsError(); err != nil {
		return explain.Plan{}, err
	}

	plan, err := explain.Parse(result.Response)
	if err != nil {
		return explain.Plan{}, errors.Wrapf(err, "explain of %s.%s on %s", db, coll, target.Address())
	}

	return plan, nil
}

// InsertMany inserts docs in batches. It returns the first failed batch’s
// Result, or else the last batch’s.
func (c *Client) InsertMany(
	ctx context.Context,
	target Target,
	db, coll string,
	docs []any,
) Result {
	if len(docs) == 0 {
		return c.nothingToInsert(target, db)
	}

	var result Result

	for _, batch := range lo.Chunk(docs, insertBatchSize) {
		result = c.RunCommand(
			ctx,
			target,
			db,
			bson.D{
				{"insert", coll},
				{"documents", batch},
			},
		)

		if !result.Worked() {
			break
		}
	}

	return result
}

// InsertSequential inserts n documents {field: i}, one insert command per
// document, so that each insert is its own profiled operation.
func (c *Client) InsertSequential(
	ctx context.Context,
	target Target,
	db, coll, field string,
	n int,
) Result {
	if n <= 0 {
		return c.nothingToInsert(target, db)
	}

	var result Result

	for i := range n {
		result = c.RunCommand(
			ctx,
			target,
			db,
			bson.D{
				{"insert", coll},
				{"documents", bson.A{bson.D{{field, i}}}},
			},
		)

		if !result.Worked() {
			break
		}
	}

	return result
}

// nothingToInsert is the Result of an insert with no documents. The
// server rejects such an insert, so it is never sent.
func (c *Client) nothingToInsert(target Target, db string) Result {
	return Result{
		Outcome:  Undelivered,
		Command:  "insert",
		Node:     target.Address(),
		Database: db,
		Err:      errors.New("no documents to insert"),
	}
}

// CreateIndex creates one index.
func (c *Client) CreateIndex(
	ctx context.Context,
	target Target,
	db, coll string,
	keys bson.D,
	opts IndexOptions,
) Result {
	spec := bson.D{
		{"key", keys},
		{"name", lo.Ternary(opts.Name != "", opts.Name, DefaultIndexName(keys))},
	}

	if opts.Hidden {
		spec = append(spec, bson.E{c.VisibilityField, true})
	}

	if opts.Background {
		spec = append(spec, bson.E{"background", true})
	}

	return c.RunCommand(
		ctx,
		target,
		db,
		bson.D{
			{"createIndexes", coll},
			{"indexes", bson.A{spec}},
		},
	)
}

// SetIndexHidden hides or unhides the named index via collMod.
func (c *Client) SetIndexHidden(
	ctx context.Context,
	target Target,
	db, coll, name string,
	hidden bool,
) Result {
	return c.RunCommand(
		ctx,
		target,
		db,
		bson.D{
			{"collMod", coll},
			{"index", bson.D{
				{"name", name},
				{c.VisibilityField, hidden},
			}},
		},
	)
}

// ListIndexes returns the collection’s index descriptors in the order
// that the server lists them.
func (c *Client) ListIndexes(
	ctx context.Context,
	target Target,
	db, coll string,
) ([]IndexDescriptor, error) {
	result := c.runRead(ctx, target, db, bson.D{{"listIndexes", coll}})
	if err := result.AsError(); err != nil {
		return nil, err
	}

	values, err := c.drainCursor(ctx, target, db, coll, result.Response)
	if err != nil {
		return nil, errors.Wrapf(err, "listing indexes of %s.%s on %s", db, coll, target.Address())
	}

	descriptors := make([]IndexDescriptor, 0, len(values))
	for i, val := range values {
		doc, ok := val.DocumentOK()
		if !ok {
			return nil, errors.Errorf("index #%d from %s is a %s, not a document", i, target.Address(), val.Type)
		}

		descriptor, err := parseIndexDescriptor(doc, c.VisibilityField)
		if err != nil {
			return nil, errors.Wrapf(err, "index #%d from %s", i, target.Address())
		}

		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}

// drainCursor returns every document of a command cursor, issuing
// getMore until the server reports cursor id 0.
func (c *Client) drainCursor(
	ctx context.Context,
	target Target,
	db, coll string,
	firstReply bson.Raw,
) ([]bson.RawValue, error) {
	var values []bson.RawValue

	reply := firstReply
	batchField := "firstBatch"

	for {
		batch, ok := reply.Lookup("cursor", batchField).ArrayOK()
		if !ok {
			return nil, errors.Errorf("reply lacks cursor.%s: %v", batchField, reply)
		}

		batchValues, err := batch.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read cursor.%s", batchField)
		}

		values = append(values, batchValues...)

		cursorID, ok := reply.Lookup("cursor", "id").Int64OK()
		if !ok {
			return nil, errors.Errorf("reply lacks cursor.id: %v", reply)
		}

		if cursorID == 0 {
			return values, nil
		}

		result := c.runRead(
			ctx,
			target,
			db,
			bson.D{
				{"getMore", cursorID},
				{"collection", coll},
			},
		)
		if err := result.AsError(); err != nil {
			return nil, err
		}

		reply = result.Response
		batchField = "nextBatch"
	}
}

// DropDatabase drops db.
func (c *Client) DropDatabase(ctx context.Context, target Target, db string) Result {
	return c.RunCommand(ctx, target, db, bson.D{{"dropDatabase", 1}})
}

// SetProfilingLevel sets db’s profiling level and slow-operation
// threshold, in milliseconds.
func (c *Client) SetProfilingLevel(
	ctx context.Context,
	target Target,
	db string,
	level, slowMS int,
) Result {
	return c.RunCommand(
		ctx,
		target,
		db,
		bson.D{
			{"profile", level},
			{"slowms", slowMS},
		},
	)
}

// ProfileCount returns the number of entries in db.system.profile.
func (c *Client) ProfileCount(ctx context.Context, target Target, db string) (int64, error) {
	result := c.RunCommand(ctx, target, db, bson.D{{"count", "system.profile"}})
	if err := result.AsError(); err != nil {
		return 0, err
	}

	n, ok := result.Response.Lookup("n").AsInt64OK()
	if !ok {
		return 0, errors.Errorf("count reply from %s lacks a numeric “n”: %v", target.Address(), result.Response)
	}

	return n, nil
}

// SetFeatureCompatibilityVersion sets the deployment’s FCV. Servers from
// 7.0 onward require confirm.
func (c *Client) SetFeatureCompatibilityVersion(
	ctx context.Context,
	target Target,
	version string,
	confirm bool,
) Result {
	cmd := bson.D{{"setFeatureCompatibilityVersion", version}}
	if confirm {
		cmd = append(cmd, bson.E{"confirm", true})
	}

	return c.RunCommand(ctx, target, "admin", cmd)
}

// DefaultIndexName returns the name that the server generates for an
// index on the given keys, e.g. “a_1” or “a_1_b_-1”.
func DefaultIndexName(keys bson.D) string {
	parts := make([]string, 0, 2*len(keys))

	for _, key := range keys {
		parts = append(parts, key.Key, fmt.Sprint(key.Value))
	}

	return strings.Join(parts, "_")
}
