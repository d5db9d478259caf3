package scenariofile

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// documentFromNode converts a YAML mapping to a bson.D, keeping the
// mapping’s key order. An absent node is an empty document.
func documentFromNode(node *yaml.Node, field string) (bson.D, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return bson.D{}, nil
	}

	value, err := valueFromNode(node)
	if err != nil {
		return nil, errors.Wrapf(err, "%#q", field)
	}

	doc, ok := value.(bson.D)
	if !ok {
		return nil, errors.Errorf("%#q must be a mapping (line %d)", field, node.Line)
	}

	return doc, nil
}

func valueFromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return valueFromNode(node.Content[0])
	case yaml.AliasNode:
		return valueFromNode(node.Alias)
	case yaml.MappingNode:
		doc := make(bson.D, 0, len(node.Content)/2)
		for i := 0; i < len(node.Content); i += 2 {
			value, err := valueFromNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: node.Content[i].Value, Value: value})
		}
		return doc, nil
	case yaml.SequenceNode:
		arr := make(bson.A, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := valueFromNode(child)
			if err != nil {
				return nil, err
			}
			arr = append(arr, value)
		}
		return arr, nil
	case yaml.ScalarNode:
		return scalarFromNode(node)
	default:
		return nil, errors.Errorf("unsupported YAML node (line %d)", node.Line)
	}
}

// Integers that fit in 32 bits become int32, as the shell would send
// them; larger ones become int64.
func scalarFromNode(node *yaml.Node) (any, error) {
	switch node.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := node.Decode(&b)
		return b, errors.Wrapf(err, "line %d", node.Line)
	case "!!int":
		n, err := strconv.ParseInt(strings.ReplaceAll(node.Value, "_", ""), 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", node.Line)
		}
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
		return n, nil
	case "!!float":
		var f float64
		err := node.Decode(&f)
		return f, errors.Wrapf(err, "line %d", node.Line)
	default:
		return node.Value, nil
	}
}

// yamlFieldNames returns the yaml tag names of the struct that target
// points to.
func yamlFieldNames(target any) mapset.Set[string] {
	names := mapset.NewThreadUnsafeSet[string]()

	structType := reflect.TypeOf(target).Elem()
	for i := range structType.NumField() {
		tag := structType.Field(i).Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			names.Add(name)
		}
	}

	return names
}
