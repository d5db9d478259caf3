// Package scenariofile loads scenarios from YAML documents.
//
// A document looks like:
//
//	name: hidden_index_smoke
//	nodes: 2
//	database: test
//	steps:
//	  - createIndex: {collection: c, keys: {a: 1}, hidden: true}
//	  - expectPlan: {collection: c, filter: {a: 5}, collscan: true, on: secondaries, await: true}
//	  - restartSecondaries
//
// A file may hold several documents, each one scenario.
package scenariofile

import (
	"bytes"
	"io"
	"os"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type document struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Nodes       int         `yaml:"nodes"`
	Database    string      `yaml:"database"`
	Setup       []yaml.Node `yaml:"setup"`
	Steps       []yaml.Node `yaml:"steps"`
	Teardown    []yaml.Node `yaml:"teardown"`
}

// Load reads every scenario in the file at path.
func Load(path string) ([]scenario.Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario file %#q", path)
	}

	scenarios, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, errors.Wrapf(err, "scenario file %#q", path)
	}

	return scenarios, nil
}

// Parse reads every scenario document from r.
func Parse(r io.Reader) ([]scenario.Scenario, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var scenarios []scenario.Scenario

	for docNum := 1; ; docNum++ {
		var doc document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", docNum)
		}

		sc, err := doc.compile()
		if err != nil {
			return nil, errors.Wrapf(err, "document %d (%#q)", docNum, doc.Name)
		}

		scenarios = append(scenarios, sc)
	}

	if len(scenarios) == 0 {
		return nil, errors.New("no scenarios found")
	}

	return scenarios, nil
}

func (doc document) compile() (scenario.Scenario, error) {
	if doc.Name == "" {
		return scenario.Scenario{}, errors.New("scenario needs a name")
	}

	if doc.Nodes < 0 {
		return scenario.Scenario{}, errors.Errorf("node count (%d) cannot be negative", doc.Nodes)
	}

	if len(doc.Steps) == 0 {
		return scenario.Scenario{}, errors.New("scenario needs at least one step")
	}

	sc := scenario.Scenario{
		Name:        doc.Name,
		Description: doc.Description,
		Nodes:       doc.Nodes,
		Database:    doc.Database,
	}

	var err error

	if sc.Setup, err = compileSteps("setup", doc.Setup); err != nil {
		return scenario.Scenario{}, err
	}

	if sc.Steps, err = compileSteps("steps", doc.Steps); err != nil {
		return scenario.Scenario{}, err
	}

	if sc.Teardown, err = compileSteps("teardown", doc.Teardown); err != nil {
		return scenario.Scenario{}, err
	}

	return sc, nil
}

func compileSteps(section string, nodes []yaml.Node) ([]scenario.Step, error) {
	compiled := make([]scenario.Step, 0, len(nodes))

	for i := range nodes {
		step, err := compileStep(&nodes[i])
		if err != nil {
			return nil, errors.Wrapf(err, "%s[%d] (line %d)", section, i, nodes[i].Line)
		}

		compiled = append(compiled, step)
	}

	return compiled, nil
}
