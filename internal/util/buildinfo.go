package util

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// BuildInfo holds the parts of `buildInfo` that the harness cares about.
type BuildInfo struct {
	Version      string
	VersionArray []int
}

// GetBuildInfo fetches the server’s version.
func GetBuildInfo(ctx context.Context, client *mongo.Client) (BuildInfo, error) {
	commandResult := client.Database("admin").RunCommand(ctx, bson.D{{"buildInfo", 1}})

	var resp struct {
		Version      string `bson:"version"`
		VersionArray []int  `bson:"versionArray"`
	}

	if err := commandResult.Decode(&resp); err != nil {
		return BuildInfo{}, errors.Wrapf(err, "failed to run %#q", "buildInfo")
	}

	if len(resp.VersionArray) < 2 {
		return BuildInfo{}, errors.Errorf("%#q returned a short version array (%v)", "buildInfo", resp.VersionArray)
	}

	return BuildInfo{
		Version:      resp.Version,
		VersionArray: resp.VersionArray,
	}, nil
}

// AtLeast returns whether the server’s version is >= the version given as
// separate numbers.
func (bi BuildInfo) AtLeast(nums ...int) bool {
	for i, num := range nums {
		if i >= len(bi.VersionArray) {
			return true
		}

		if bi.VersionArray[i] != num {
			return bi.VersionArray[i] > num
		}
	}

	return true
}

// SupportsHiddenIndexes returns whether the server understands the `hidden`
// index option, which first shipped in 4.4.
func (bi BuildInfo) SupportsHiddenIndexes() bool {
	return bi.AtLeast(4, 4)
}
