package scenariofile

import (
	"sort"
	"strings"
	"time"

	"github.com/10gen/replset-harness/internal/command"
	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/10gen/replset-harness/internal/steps"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"
)

type stepCompiler func(params *yaml.Node) (scenario.Step, error)

var stepCompilers = map[string]stepCompiler{
	"dropDatabase":       compileDropDatabase,
	"setProfilingLevel":  compileSetProfilingLevel,
	"insert":             compileInsert,
	"createIndex":        compileCreateIndex,
	"setIndexHidden":     compileSetIndexHidden,
	"setFCV":             compileSetFCV,
	"expectPlan":         compileExpectPlan,
	"expectProfileCount": compileExpectProfileCount,
	"expectIndex":        compileExpectIndex,
	"restartSecondaries": compileRestartSecondaries,
	"awaitSecondaries":   compileAwaitSecondaries,
}

// StepTypes returns the step types that scenario files may use.
func StepTypes() []string {
	types := lo.Keys(stepCompilers)
	sort.Strings(types)
	return types
}

// A step is either a bare type name or a one-key mapping from the type
// name to its parameters.
func compileStep(node *yaml.Node) (scenario.Step, error) {
	var (
		stepType string
		params   *yaml.Node
	)

	switch node.Kind {
	case yaml.ScalarNode:
		stepType = node.Value
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return scenario.Step{}, errors.Errorf(
				"a step must have exactly one type, not %d",
				len(node.Content)/2,
			)
		}
		stepType = node.Content[0].Value
		params = node.Content[1]
	default:
		return scenario.Step{}, errors.New("a step must be a type name or a one-key mapping")
	}

	compile, ok := stepCompilers[stepType]
	if !ok {
		return scenario.Step{}, errors.Errorf(
			"unknown step type %#q (known: %s)",
			stepType,
			strings.Join(StepTypes(), ", "),
		)
	}

	step, err := compile(params)
	if err != nil {
		return scenario.Step{}, errors.Wrapf(err, "%s", stepType)
	}

	return step, nil
}

// decodeParams decodes a step’s parameters, rejecting unknown fields. A
// missing or null params node leaves target untouched.
func decodeParams(params *yaml.Node, target any) error {
	if params == nil || params.Tag == "!!null" {
		return nil
	}

	if params.Kind != yaml.MappingNode {
		return errors.New("parameters must be a mapping")
	}

	if err := params.Decode(target); err != nil {
		return err
	}

	allowed := yamlFieldNames(target)
	for i := 0; i < len(params.Content); i += 2 {
		key := params.Content[i].Value
		if !allowed.Contains(key) {
			return errors.Errorf("unknown parameter %#q (line %d)", key, params.Content[i].Line)
		}
	}

	return nil
}

func requireField(value, field string) error {
	if value == "" {
		return errors.Errorf("%#q is required", field)
	}

	return nil
}

func compileDropDatabase(params *yaml.Node) (scenario.Step, error) {
	if err := decodeParams(params, &struct{}{}); err != nil {
		return scenario.Step{}, err
	}

	return steps.DropDatabase(), nil
}

func compileSetProfilingLevel(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Level  *int `yaml:"level"`
		SlowMS *int `yaml:"slowms"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if p.Level == nil {
		return scenario.Step{}, errors.New("`level` is required")
	}

	if *p.Level < 0 || *p.Level > 2 {
		return scenario.Step{}, errors.Errorf("level must be 0, 1, or 2, not %d", *p.Level)
	}

	return steps.SetProfilingLevel(*p.Level, lo.FromPtrOr(p.SlowMS, 100)), nil
}

func compileInsert(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Collection string `yaml:"collection"`
		Field      string `yaml:"field"`
		Count      int    `yaml:"count"`
		OneAtATime bool   `yaml:"oneAtATime"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Collection, "collection"); err != nil {
		return scenario.Step{}, err
	}

	if p.Count <= 0 {
		return scenario.Step{}, errors.Errorf("count must be positive, not %d", p.Count)
	}

	return steps.Insert(p.Collection, lo.Ternary(p.Field == "", "i", p.Field), p.Count, p.OneAtATime), nil
}

func compileCreateIndex(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Collection    string    `yaml:"collection"`
		Keys          yaml.Node `yaml:"keys"`
		Name          string    `yaml:"name"`
		Hidden        bool      `yaml:"hidden"`
		Background    bool      `yaml:"background"`
		ExpectFailure bool      `yaml:"expectFailure"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Collection, "collection"); err != nil {
		return scenario.Step{}, err
	}

	keys, err := documentFromNode(&p.Keys, "keys")
	if err != nil {
		return scenario.Step{}, err
	}

	if len(keys) == 0 {
		return scenario.Step{}, errors.New("`keys` must name at least one field")
	}

	return steps.CreateIndex(
		p.Collection,
		keys,
		command.IndexOptions{
			Name:       p.Name,
			Hidden:     p.Hidden,
			Background: p.Background,
		},
		p.ExpectFailure,
	), nil
}

func compileSetIndexHidden(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Collection string `yaml:"collection"`
		Name       string `yaml:"name"`
		Hidden     *bool  `yaml:"hidden"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Collection, "collection"); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Name, "name"); err != nil {
		return scenario.Step{}, err
	}

	if p.Hidden == nil {
		return scenario.Step{}, errors.New("`hidden` is required")
	}

	return steps.SetIndexHidden(p.Collection, p.Name, *p.Hidden), nil
}

func compileSetFCV(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Version       string `yaml:"version"`
		ExpectFailure bool   `yaml:"expectFailure"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Version, "version"); err != nil {
		return scenario.Step{}, err
	}

	return steps.SetFCV(p.Version, p.ExpectFailure), nil
}

func compileExpectPlan(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Collection string    `yaml:"collection"`
		Filter     yaml.Node `yaml:"filter"`
		Index      string    `yaml:"index"`
		CollScan   bool      `yaml:"collscan"`
		On         string    `yaml:"on"`
		Await      bool      `yaml:"await"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Collection, "collection"); err != nil {
		return scenario.Step{}, err
	}

	if (p.Index == "") == !p.CollScan {
		return scenario.Step{}, errors.New("exactly one of `index` and `collscan` is required")
	}

	filter, err := documentFromNode(&p.Filter, "filter")
	if err != nil {
		return scenario.Step{}, err
	}

	on, err := steps.ParseOn(p.On)
	if err != nil {
		return scenario.Step{}, err
	}

	return steps.ExpectPlan(steps.PlanExpectation{
		Collection: p.Collection,
		Filter:     filter,
		Index:      lo.Ternary(p.CollScan, mo.None[string](), mo.Some(p.Index)),
		On:         on,
		Await:      p.Await,
	}), nil
}

func compileExpectProfileCount(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		AtLeast  *int64 `yaml:"atLeast"`
		LessThan *int64 `yaml:"lessThan"`
		Message  string `yaml:"message"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if p.AtLeast == nil && p.LessThan == nil {
		return scenario.Step{}, errors.New("at least one of `atLeast` and `lessThan` is required")
	}

	return steps.ExpectProfileCount(steps.ProfileCountExpectation{
		AtLeast:  mo.PointerToOption(p.AtLeast),
		LessThan: mo.PointerToOption(p.LessThan),
		Message:  p.Message,
	}), nil
}

func compileExpectIndex(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Collection string `yaml:"collection"`
		Position   int    `yaml:"position"`
		Name       string `yaml:"name"`
		Background *bool  `yaml:"background"`
		Hidden     *bool  `yaml:"hidden"`
		On         string `yaml:"on"`
		Await      bool   `yaml:"await"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Collection, "collection"); err != nil {
		return scenario.Step{}, err
	}

	if err := requireField(p.Name, "name"); err != nil {
		return scenario.Step{}, err
	}

	if p.Position < 0 {
		return scenario.Step{}, errors.Errorf("position cannot be negative (%d)", p.Position)
	}

	on, err := steps.ParseOn(p.On)
	if err != nil {
		return scenario.Step{}, err
	}

	return steps.ExpectIndex(steps.IndexExpectation{
		Collection: p.Collection,
		Position:   p.Position,
		Name:       p.Name,
		Background: mo.PointerToOption(p.Background),
		Hidden:     mo.PointerToOption(p.Hidden),
		On:         on,
		Await:      p.Await,
	}), nil
}

func compileRestartSecondaries(params *yaml.Node) (scenario.Step, error) {
	if err := decodeParams(params, &struct{}{}); err != nil {
		return scenario.Step{}, err
	}

	return steps.RestartSecondaries(), nil
}

func compileAwaitSecondaries(params *yaml.Node) (scenario.Step, error) {
	var p struct {
		Timeout string `yaml:"timeout"`
	}
	if err := decodeParams(params, &p); err != nil {
		return scenario.Step{}, err
	}

	var timeout time.Duration
	if p.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(p.Timeout)
		if err != nil {
			return scenario.Step{}, errors.Wrapf(err, "invalid timeout %#q", p.Timeout)
		}
	}

	return steps.AwaitSecondaries(timeout), nil
}
