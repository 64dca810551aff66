package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/loop"
)

// Built-in profile names
const (
	ProfileEconomic  = "economic"
	ProfileBalanced  = "balanced"
	ProfilePremium   = "premium"
	ProfileUnlimited = "unlimited"

	DefaultProfile = ProfileBalanced
)

// Profile bundles loop and cost limits under a name
type Profile struct {
	Name        string
	Description string
	Loop        loop.Policy
	Cost        cost.Policy
}

var profiles = map[string]Profile{
	ProfileEconomic: {
		Name:        ProfileEconomic,
		Description: "single round, tight unit budget",
		Loop: loop.Policy{
			MaxIterations:     1,
			QualityTarget:     0.75,
			MarginalThreshold: 0.20,
			UnitBudget:        5000,
			TimeBudget:        10 * time.Minute,
		},
		Cost: cost.Policy{WarnAtPercent: 80, HardStopAtUnits: 8000, TrackByAgent: true},
	},
	ProfileBalanced: {
		Name:        ProfileBalanced,
		Description: "up to three rounds, asks before each extra round",
		Loop:        loop.DefaultPolicy(),
		Cost:        cost.Policy{WarnAtPercent: 80, HardStopAtUnits: 15000, TrackByAgent: true},
	},
	ProfilePremium: {
		Name:        ProfilePremium,
		Description: "up to five rounds for high quality targets",
		Loop: loop.Policy{
			MaxIterations:       5,
			QualityTarget:       0.95,
			MarginalThreshold:   0.05,
			UnitBudget:          50000,
			TimeBudget:          60 * time.Minute,
			RequireConfirmation: true,
		},
		Cost: cost.Policy{WarnAtPercent: 90, HardStopAtUnits: 80000, TrackByAgent: true},
	},
	ProfileUnlimited: {
		Name:        ProfileUnlimited,
		Description: "no caps, continues until quality plateaus",
		Loop: loop.Policy{
			QualityTarget:     0.99,
			MarginalThreshold: 0.01,
			AutoContinue:      true,
		},
		Cost: cost.Policy{},
	},
}

// LookupProfile returns the named built-in profile
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %v)", name, ProfileNames())
	}
	return p, nil
}

// ProfileNames returns the built-in profile names in sorted order
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
