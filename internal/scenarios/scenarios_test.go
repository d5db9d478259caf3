package scenarios

import (
	"testing"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllIsSortedAndComplete(t *testing.T) {
	names := Names(Config{})

	assert.Equal(
		t,
		[]string{
			"db_level_quickms",
			"db_level_slowms",
			"invisible_index",
			"replset_index_metadata",
			"replset_index_visibility",
		},
		names,
	)

	for _, sc := range All(Config{}) {
		assert.NotEmpty(t, sc.Database, "%s should name its database", sc.Name)
		assert.NotEmpty(t, sc.Steps, "%s should have steps", sc.Name)
		assert.NotEmpty(t, sc.Description, "%s should describe itself", sc.Name)
	}
}

func TestFCVGatingNeedsBothVersions(t *testing.T) {
	assert.NotContains(t, Names(Config{FCVLow: "3.6"}), "replset_fcv_gating")
	assert.NotContains(t, Names(Config{FCVHigh: "4.0"}), "replset_fcv_gating")

	cfg := Config{FCVLow: "3.6", FCVHigh: "4.0"}
	assert.Contains(t, Names(cfg), "replset_fcv_gating")

	sc, err := Lookup(cfg, "replset_fcv_gating")
	require.NoError(t, err)
	assert.Equal(t, "set FCV 3.6", sc.Steps[0].Name)
	assert.Equal(t, "create index {i: 1} on test (hidden), expecting failure", sc.Steps[1].Name)
	assert.Equal(t, "set FCV 4.0", sc.Teardown[0].Name)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup(Config{}, "nope")
	assert.ErrorContains(t, err, "nope")
}

func TestReplicaSetScenariosNeedTwoNodes(t *testing.T) {
	for _, sc := range All(Config{FCVLow: "3.6", FCVHigh: "4.0"}) {
		if Restarts(sc) {
			assert.GreaterOrEqual(t, sc.Nodes, 2, "%s restarts secondaries", sc.Name)
		}
	}
}

func TestScenariosHaveTheirOwnDatabases(t *testing.T) {
	all := All(Config{FCVLow: "4.2", FCVHigh: "4.4"})

	byDatabase := lo.GroupBy(all, func(sc scenario.Scenario) string {
		return sc.Database
	})

	for db, sharing := range byDatabase {
		assert.Len(
			t,
			sharing,
			1,
			"database %#q shared by %v",
			db,
			lo.Map(sharing, func(sc scenario.Scenario, _ int) string { return sc.Name }),
		)
	}
}

func TestUnrunnable(t *testing.T) {
	cfg := Config{FCVLow: "4.2", FCVHigh: "4.4"}

	launched := Deployment{Nodes: 2, HiddenIndexes: true}
	for _, sc := range All(cfg) {
		assert.True(t, Unrunnable(sc, launched).IsAbsent(), "%s should run on a launched pair", sc.Name)
	}

	visibility, err := Lookup(cfg, "replset_index_visibility")
	require.NoError(t, err)
	require.True(t, Restarts(visibility))

	reason, unrunnable := Unrunnable(visibility, Deployment{Nodes: 3, Attached: true, HiddenIndexes: true}).Get()
	assert.True(t, unrunnable)
	assert.Contains(t, reason, "restarts secondaries")

	metadata, err := Lookup(cfg, "replset_index_metadata")
	require.NoError(t, err)
	assert.False(t, Restarts(metadata))
	assert.True(t, Unrunnable(metadata, Deployment{Nodes: 3, Attached: true}).IsAbsent())

	reason, unrunnable = Unrunnable(metadata, Deployment{Nodes: 1, Attached: true}).Get()
	assert.True(t, unrunnable)
	assert.Contains(t, reason, "needs 2 node(s) but the deployment has 1")

	invisible, err := Lookup(cfg, "invisible_index")
	require.NoError(t, err)

	reason, unrunnable = Unrunnable(invisible, Deployment{Nodes: 1}).Get()
	assert.True(t, unrunnable)
	assert.Contains(t, reason, "hidden indexes")
}
