// Package scenarios holds the built-in scenarios.
package scenarios

import (
	"sort"

	"github.com/10gen/replset-harness/internal/scenario"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Config tunes the built-in scenarios.
type Config struct {
	// FCVLow and FCVHigh are feature compatibility versions below and at
	// the server’s hidden-index floor. The FCV gating scenario exists only
	// when both are set.
	FCVLow  string
	FCVHigh string
}

// All returns every built-in scenario, sorted by name.
func All(cfg Config) []scenario.Scenario {
	all := []scenario.Scenario{
		DBLevelSlowMS(),
		DBLevelQuickMS(),
		InvisibleIndex(),
		ReplSetIndexVisibility(),
		ReplSetIndexMetadata(),
	}

	if cfg.FCVLow != "" && cfg.FCVHigh != "" {
		all = append(all, ReplSetFCVGating(cfg.FCVLow, cfg.FCVHigh))
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})

	return all
}

// Names returns the names of the built-in scenarios.
func Names(cfg Config) []string {
	return lo.Map(All(cfg), func(sc scenario.Scenario, _ int) string {
		return sc.Name
	})
}

// Lookup returns the named built-in scenario.
func Lookup(cfg Config, name string) (scenario.Scenario, error) {
	sc, found := lo.Find(All(cfg), func(sc scenario.Scenario) bool {
		return sc.Name == name
	})
	if !found {
		return scenario.Scenario{}, errors.Errorf("no built-in scenario is named %#q", name)
	}

	return sc, nil
}
