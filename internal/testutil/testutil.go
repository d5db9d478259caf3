// Package testutil holds helpers for the harness’s own tests.
package testutil

import (
	"os"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	// MongodPathEnv names a mongod binary for tests that launch nodes.
	MongodPathEnv = "MONGOD_PATH"

	// URIEnv names an already-running deployment for tests that attach.
	URIEnv = "HARNESS_TEST_URI"
)

// MustMarshal wraps `bson.Marshal` with a panic on failure.
func MustMarshal(doc any) bson.Raw {
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic("bson.Marshal (error in test): " + err.Error())
	}

	return raw
}

// MongodPath returns the mongod binary that tests should launch, or skips
// the test if there is none.
func MongodPath(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping mongod-requiring tests in short mode")
	}

	path := os.Getenv(MongodPathEnv)
	if path == "" {
		t.Skipf("Set %s to run tests that launch mongod.", MongodPathEnv)
	}

	return path
}

// AttachURI returns the connection string of a running deployment, or
// skips the test if there is none.
func AttachURI(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping deployment-requiring tests in short mode")
	}

	uri := os.Getenv(URIEnv)
	if uri == "" {
		t.Skipf("Set %s to run tests against an existing deployment.", URIEnv)
	}

	return uri
}

// DBNameForTest derives a database name from the test’s name.
func DBNameForTest(t *testing.T) string {
	return strings.ReplaceAll(
		strings.ReplaceAll(t.Name(), "/", "-"),
		".",
		"-",
	)
}

