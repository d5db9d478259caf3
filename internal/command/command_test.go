package command

import (
	"context"
	"testing"
	"time"

	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/util"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// unreachableTarget is a node that nothing listens on.
type unreachableTarget struct {
	client *mongo.Client
}

func (unreachableTarget) Address() string {
	return "localhost:1"
}

func (ut unreachableTarget) Client() *mongo.Client {
	return ut.client
}

func newUnreachableTarget(t *testing.T) unreachableTarget {
	client, err := mongo.Connect(
		context.Background(),
		options.Client().
			SetHosts([]string{"localhost:1"}).
			SetDirect(true).
			SetServerSelectionTimeout(100*time.Millisecond),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	return unreachableTarget{client}
}

func TestDefaultIndexName(t *testing.T) {
	assert.Equal(t, "a_1", DefaultIndexName(bson.D{{"a", 1}}))
	assert.Equal(t, "a_1_b_-1", DefaultIndexName(bson.D{{"a", 1}, {"b", -1}}))
	assert.Equal(t, "loc_2dsphere", DefaultIndexName(bson.D{{"loc", "2dsphere"}}))
	assert.Equal(t, "m_1", DefaultIndexName(bson.D{{"m", 1.0}}))
}

func TestParseIndexDescriptor(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{"v", int32(2)},
		{"key", bson.D{{"i", 1}}},
		{"name", "i_1"},
		{"invisible", true},
		{"background", 1.0},
	})
	require.NoError(t, err)

	desc, err := parseIndexDescriptor(raw, "invisible")
	require.NoError(t, err)

	assert.Equal(t, "i_1", desc.Name)
	assert.Equal(t, bson.D{{"i", int32(1)}}, desc.Key)
	assert.Equal(t, 2, desc.Version)
	assert.True(t, desc.Hidden)
	assert.True(t, desc.Background)

	desc, err = parseIndexDescriptor(raw, DefaultVisibilityField)
	require.NoError(t, err)
	assert.False(t, desc.Hidden, "hidden is unset under the default field name")

	raw, err = bson.Marshal(bson.D{{"v", 2}, {"key", bson.D{{"_id", 1}}}})
	require.NoError(t, err)

	_, err = parseIndexDescriptor(raw, DefaultVisibilityField)
	assert.ErrorContains(t, err, "lacks a name")
}

func TestWriteErrorFromResponse(t *testing.T) {
	clean, err := bson.Marshal(bson.D{{"n", 1}, {"ok", 1.0}})
	require.NoError(t, err)
	assert.NoError(t, writeErrorFromResponse(clean))

	dupKey, err := bson.Marshal(bson.D{
		{"n", 0},
		{"writeErrors", bson.A{
			bson.D{{"index", 0}, {"code", 11000}, {"errmsg", "E11000 duplicate key"}},
		}},
		{"ok", 1.0},
	})
	require.NoError(t, err)

	err = writeErrorFromResponse(dupKey)
	require.Error(t, err)
	assert.Equal(t, 11000, util.GetErrorCode(err))
	assert.False(t, util.IsDeliveryError(err))

	wce, err := bson.Marshal(bson.D{
		{"n", 1},
		{"writeConcernError", bson.D{{"code", 64}, {"codeName", "WriteConcernFailed"}, {"errmsg", "waiting"}}},
		{"ok", 1.0},
	})
	require.NoError(t, err)

	err = writeErrorFromResponse(wce)
	require.Error(t, err)
	assert.Equal(t, 64, util.GetErrorCode(err))
}

func TestResultAsError(t *testing.T) {
	worked := Result{Outcome: Worked, Command: "collMod", Node: "localhost:1"}
	assert.NoError(t, worked.AsError())
	assert.True(t, worked.Delivered())

	failed := Result{
		Outcome:  Failed,
		Command:  "createIndexes",
		Node:     "localhost:1",
		Database: "test",
		Code:     72,
		CodeName: "InvalidOptions",
		Err:      mongo.CommandError{Code: 72, Name: "InvalidOptions", Message: "bad option"},
	}
	err := failed.AsError()
	require.Error(t, err)

	var cmdErr harnesserr.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.True(t, cmdErr.Delivered)
	assert.Equal(t, 72, cmdErr.Code)
	assert.Equal(t, harnesserr.KindCommand, harnesserr.KindOf(err))
	assert.Equal(t, util.InvalidOptions, util.GetErrorCode(cmdErr.Err))

	undelivered := Result{
		Outcome: Undelivered,
		Command: "explain",
		Node:    "localhost:2",
		Err:     mongo.ErrClientDisconnected,
	}
	assert.False(t, undelivered.Delivered())
	assert.Equal(t, harnesserr.KindDelivery, harnesserr.KindOf(undelivered.AsError()))
	assert.ErrorIs(t, undelivered.AsError(), mongo.ErrClientDisconnected)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "worked", Worked.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "undelivered", Undelivered.String())
}

func TestUnsendableCommandIsUndelivered(t *testing.T) {
	client := NewClient(logger.NewDebugLogger())
	target := newUnreachableTarget(t)

	result := client.RunCommand(context.Background(), target, "admin", nil)

	assert.Equal(t, Undelivered, result.Outcome, "%v", result.Err)
	assert.Zero(t, result.Code)
	assert.False(t, result.Delivered())
	assert.Equal(t, harnesserr.KindDelivery, harnesserr.KindOf(result.AsError()))
}

func TestEmptyInsertsAreNotWorked(t *testing.T) {
	client := NewClient(logger.NewDebugLogger())
	target := newUnreachableTarget(t)
	ctx := context.Background()

	for _, result := range []Result{
		client.InsertMany(ctx, target, "test", "coll", nil),
		client.InsertSequential(ctx, target, "test", "coll", "i", 0),
	} {
		assert.Equal(t, Undelivered, result.Outcome)
		assert.Equal(t, "insert", result.Command)
		assert.Equal(t, "test", result.Database)
		assert.ErrorContains(t, result.AsError(), "no documents to insert")
	}
}

func TestZeroResult(t *testing.T) {
	var result Result

	assert.False(t, result.Worked())
	assert.False(t, result.Delivered())
	assert.Equal(t, "unset", result.Outcome.String())
	assert.ErrorContains(t, result.AsError(), "no command was run")
}

func TestDrainCursor(t *testing.T) {
	client := NewClient(logger.NewDebugLogger())
	target := newUnreachableTarget(t)
	ctx := context.Background()

	single, err := bson.Marshal(bson.D{
		{"cursor", bson.D{
			{"id", int64(0)},
			{"ns", "test.coll"},
			{"firstBatch", bson.A{
				bson.D{{"name", "_id_"}},
				bson.D{{"name", "a_1"}},
			}},
		}},
		{"ok", 1.0},
	})
	require.NoError(t, err)

	values, err := client.drainCursor(ctx, target, "test", "coll", single)
	require.NoError(t, err)
	assert.Len(t, values, 2)

	open, err := bson.Marshal(bson.D{
		{"cursor", bson.D{
			{"id", int64(12345)},
			{"ns", "test.coll"},
			{"firstBatch", bson.A{bson.D{{"name", "_id_"}}}},
		}},
		{"ok", 1.0},
	})
	require.NoError(t, err)

	_, err = client.drainCursor(ctx, target, "test", "coll", open)
	require.Error(t, err, "an open cursor needs a getMore")

	var cmdErr harnesserr.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "getMore", cmdErr.Command)

	noID, err := bson.Marshal(bson.D{
		{"cursor", bson.D{{"firstBatch", bson.A{}}}},
		{"ok", 1.0},
	})
	require.NoError(t, err)

	_, err = client.drainCursor(ctx, target, "test", "coll", noID)
	assert.ErrorContains(t, err, "cursor.id")
}
