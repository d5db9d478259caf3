package scenariofile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

const visibilityFile = `
name: hidden_index_smoke
description: Hide an index and watch the secondaries.
nodes: 2
database: test
steps:
  - createIndex: {collection: c, keys: {a: 1, b: -1}, hidden: true}
  - expectPlan: {collection: c, filter: {a: 5}, collscan: true, on: secondaries, await: true}
  - setIndexHidden: {collection: c, name: a_1_b_-1, hidden: false}
  - expectPlan:
      collection: c
      filter: {a: 5}
      index: a_1_b_-1
  - restartSecondaries
  - awaitSecondaries: {timeout: 45s}
teardown:
  - dropDatabase
---
name: profiling
database: slowdb
steps:
  - setProfilingLevel: {level: 1, slowms: 0}
  - insert: {collection: test, field: i, count: 10, oneAtATime: true}
  - expectProfileCount: {atLeast: 10}
`

func TestParseMultipleDocuments(t *testing.T) {
	parsed, err := Parse(strings.NewReader(visibilityFile))
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	smoke := parsed[0]
	assert.Equal(t, "hidden_index_smoke", smoke.Name)
	assert.Equal(t, 2, smoke.Nodes)
	assert.Equal(t, "test", smoke.Database)
	assert.Equal(
		t,
		[]string{
			"create index {a: 1, b: -1} on c (hidden)",
			"find {a: 5} on c uses COLLSCAN on secondaries",
			"unhide index a_1_b_-1 on c",
			"find {a: 5} on c uses a_1_b_-1 on primary",
			"restart secondaries",
			"await secondaries",
		},
		stepNames(smoke.Steps),
	)
	assert.Equal(t, []string{"drop database"}, stepNames(smoke.Teardown))

	profiling := parsed[1]
	assert.Equal(t, 0, profiling.Nodes)
	assert.Equal(
		t,
		[]string{
			"set profiling level 1, slowms 0",
			"insert 10 documents {i: i} into test",
			"profile count [>= 10]",
		},
		stepNames(profiling.Steps),
	)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(visibilityFile), 0o644))

	parsed, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, parsed, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "missing.yaml")
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		label   string
		content string
		errMsg  string
	}{
		{"empty", "", "no scenarios"},
		{"no name", "steps: [dropDatabase]", "needs a name"},
		{"no steps", "name: x", "at least one step"},
		{"negative nodes", "name: x\nnodes: -1\nsteps: [dropDatabase]", "negative"},
		{"unknown top-level field", "name: x\nstep: [dropDatabase]", "step"},
		{"unknown step", "name: x\nsteps: [explode]", "unknown step type `explode`"},
		{"two types", "name: x\nsteps:\n  - {dropDatabase: {}, restartSecondaries: {}}", "exactly one type"},
		{"unknown parameter", "name: x\nsteps:\n  - insert: {collection: c, count: 1, colour: red}", "unknown parameter `colour`"},
		{"missing collection", "name: x\nsteps:\n  - insert: {count: 1}", "`collection` is required"},
		{"zero count", "name: x\nsteps:\n  - insert: {collection: c}", "count must be positive"},
		{"no keys", "name: x\nsteps:\n  - createIndex: {collection: c}", "at least one field"},
		{"keys not a mapping", "name: x\nsteps:\n  - createIndex: {collection: c, keys: [a]}", "must be a mapping"},
		{"plan needs one target", "name: x\nsteps:\n  - expectPlan: {collection: c}", "exactly one of"},
		{"plan has both targets", "name: x\nsteps:\n  - expectPlan: {collection: c, index: a_1, collscan: true}", "exactly one of"},
		{"bad selector", "name: x\nsteps:\n  - expectPlan: {collection: c, index: a_1, on: arbiters}", "arbiters"},
		{"no bounds", "name: x\nsteps:\n  - expectProfileCount: {}", "atLeast"},
		{"bad level", "name: x\nsteps:\n  - setProfilingLevel: {level: 3}", "level must be"},
		{"missing hidden", "name: x\nsteps:\n  - setIndexHidden: {collection: c, name: a_1}", "`hidden` is required"},
		{"bad timeout", "name: x\nsteps:\n  - awaitSecondaries: {timeout: soon}", "invalid timeout"},
		{"params not a mapping", "name: x\nsteps:\n  - setFCV: [4.0]", "must be a mapping"},
	}

	for _, c := range cases {
		t.Run(c.label, func(t *testing.T) {
			_, err := Parse(strings.NewReader(c.content))
			assert.ErrorContains(t, err, c.errMsg)
		})
	}
}

func TestErrorsNameTheStep(t *testing.T) {
	_, err := Parse(strings.NewReader("name: x\nsteps:\n  - dropDatabase\n  - insert: {count: 1}\n"))
	assert.ErrorContains(t, err, "steps[1] (line 4)")
	assert.ErrorContains(t, err, "document 1")
}

func TestDocumentFromNodeKeepsOrderAndTypes(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal(
		[]byte("{z: 1, a: -1, big: 5000000000, f: 1.5, ok: true, s: hi, nested: {x: [1, two]}, n: null}"),
		&node,
	))

	doc, err := documentFromNode(&node, "keys")
	require.NoError(t, err)

	assert.Equal(
		t,
		bson.D{
			{"z", int32(1)},
			{"a", int32(-1)},
			{"big", int64(5_000_000_000)},
			{"f", 1.5},
			{"ok", true},
			{"s", "hi"},
			{"nested", bson.D{{"x", bson.A{int32(1), "two"}}}},
			{"n", nil},
		},
		doc,
	)

	empty, err := documentFromNode(&yaml.Node{}, "filter")
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, empty)
}

func TestStepTypes(t *testing.T) {
	types := StepTypes()
	assert.Len(t, types, len(stepCompilers))
	assert.IsIncreasing(t, types)
	assert.Contains(t, types, "expectPlan")
}

func stepNames(steps []scenario.Step) []string {
	return lo.Map(steps, func(step scenario.Step, _ int) string {
		return step.Name
	})
}
