package command

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// IndexDescriptor is one entry of a listIndexes reply.
type IndexDescriptor struct {
	Name       string
	Key        bson.D
	Version    int
	Hidden     bool
	Background bool
	Raw        bson.Raw
}

func parseIndexDescriptor(doc bson.Raw, visibilityField string) (IndexDescriptor, error) {
	var parsed struct {
		Name string `bson:"name"`
		Key  bson.D `bson:"key"`
	}

	if err := bson.Unmarshal(doc, &parsed); err != nil {
		return IndexDescriptor{}, errors.Wrapf(err, "failed to decode index spec %v", doc)
	}

	if parsed.Name == "" {
		return IndexDescriptor{}, errors.Errorf("index spec lacks a name: %v", doc)
	}

	version, _ := doc.Lookup("v").AsInt64OK()

	return IndexDescriptor{
		Name:       parsed.Name,
		Key:        parsed.Key,
		Version:    int(version),
		Hidden:     isTruthy(doc.Lookup(visibilityField)),
		Background: isTruthy(doc.Lookup("background")),
		Raw:        doc,
	}, nil
}

// isTruthy interprets an index option the way the server does: booleans
// as themselves and numbers as nonzero. Old servers stored some flags as
// numbers.
func isTruthy(val bson.RawValue) bool {
	if val.Type == bsontype.Boolean {
		return val.Boolean()
	}

	if n, ok := val.AsInt64OK(); ok {
		return n != 0
	}

	return false
}
