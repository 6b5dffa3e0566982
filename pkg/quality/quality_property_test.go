//go:build property
// +build property

package quality

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hardstop-labs/sentinel/pkg/config"
)

// Property: under Policy B the quality cap dominates — no combination of
// score class and source floor produces a final classification above it.
func TestApplyPolicyCapDominance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	classes := gen.IntRange(0, 2)

	properties.Property("Policy B never exceeds the cap", prop.ForAll(
		func(scoreClass, cap, floor int) bool {
			cfg := config.DefaultQuality()
			final, _ := ApplyPolicy(scoreClass, cap, floor, cfg)
			return final <= cap && final >= 0 && final <= 2
		},
		classes, classes, classes,
	))

	properties.Property("Policy A floor is authoritative", prop.ForAll(
		func(scoreClass, cap, floor int) bool {
			cfg := config.DefaultQuality()
			cfg.AllowQualityOverrideFloor = false
			final, _ := ApplyPolicy(scoreClass, cap, floor, cfg)
			return final >= floor && final <= 2
		},
		classes, classes, classes,
	))

	properties.Property("final never drops below min(floor, cap) under Policy B", prop.ForAll(
		func(scoreClass, cap, floor int) bool {
			cfg := config.DefaultQuality()
			final, _ := ApplyPolicy(scoreClass, cap, floor, cfg)
			lower := floor
			if cap < lower {
				lower = cap
			}
			return final >= lower
		},
		classes, classes, classes,
	))

	properties.TestingRun(t)
}
