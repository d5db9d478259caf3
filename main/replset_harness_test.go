package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/scenarios"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveScenarios(t *testing.T) {
	cfg := scenarios.Config{}

	all, err := resolveScenarios(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(scenarios.All(cfg)))

	picked, err := resolveScenarios(cfg, []string{"invisible_index", "db_level_slowms"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "invisible_index", picked[0].Name)
	assert.Equal(t, "db_level_slowms", picked[1].Name)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: custom\nsteps: [dropDatabase]\n"), 0o644))

	mixed, err := resolveScenarios(cfg, []string{path, "invisible_index"})
	require.NoError(t, err)
	require.Len(t, mixed, 2)
	assert.Equal(t, "custom", mixed[0].Name)

	_, err = resolveScenarios(cfg, []string{"no_such_scenario"})
	assert.ErrorContains(t, err, "neither a scenario file nor a built-in")

	_, err = resolveScenarios(cfg, []string{"invisible_index", "invisible_index"})
	assert.ErrorContains(t, err, "more than once")

	_, err = resolveScenarios(cfg, []string{"replset_fcv_gating"})
	assert.Error(t, err, "FCV gating needs both versions")

	gated, err := resolveScenarios(scenarios.Config{FCVLow: "3.6", FCVHigh: "4.0"}, []string{"replset_fcv_gating"})
	require.NoError(t, err)
	assert.Len(t, gated, 1)
}

func TestKeepRunnableOnAttached(t *testing.T) {
	cfg := scenarios.Config{}
	harnessLogger := logger.NewDebugLogger()

	attachedPair := scenarios.Deployment{Nodes: 2, Attached: true, HiddenIndexes: true}

	kept, err := keepRunnable(harnessLogger, scenarios.All(cfg), attachedPair)
	require.NoError(t, err)

	names := lo.Map(kept, func(sc scenario.Scenario, _ int) string { return sc.Name })
	assert.NotContains(t, names, "replset_index_visibility", "restarting needs launched nodes")
	assert.Contains(t, names, "replset_index_metadata")
	assert.Contains(t, names, "invisible_index")

	standalone := scenarios.Deployment{Nodes: 1, Attached: true, HiddenIndexes: true}

	kept, err = keepRunnable(harnessLogger, scenarios.All(cfg), standalone)
	require.NoError(t, err)

	names = lo.Map(kept, func(sc scenario.Scenario, _ int) string { return sc.Name })
	assert.NotContains(t, names, "replset_index_metadata", "it needs 2 nodes")
	assert.Contains(t, names, "db_level_slowms")

	visibility, err := scenarios.Lookup(cfg, "replset_index_visibility")
	require.NoError(t, err)

	_, err = keepRunnable(harnessLogger, []scenario.Scenario{visibility}, attachedPair)
	assert.ErrorContains(t, err, "none of the 1 scenario(s) can run")
}

func TestCheckAttachFlags(t *testing.T) {
	assert.NoError(t, checkAttachFlags(false, 1))
	assert.ErrorContains(t, checkAttachFlags(true, 1), "mutually exclusive")
	assert.ErrorContains(t, checkAttachFlags(false, 3), "--parallel must be 1 with --uri, not 3")
}
