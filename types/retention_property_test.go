package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_RetentionScaling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("retention stays within 1x-3x of the category base", prop.ForAll(
		func(importance float64) bool {
			for _, c := range AllCategories() {
				d := RetentionFor(c, ClampImportance(importance))
				base := c.BaseRetention()
				if d < base || d > 3*base {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-10, 10),
	))

	properties.Property("retention is monotonic in importance", prop.ForAll(
		func(lo, hi float64) bool {
			if lo > hi {
				lo, hi = hi, lo
			}
			for _, c := range AllCategories() {
				if RetentionFor(c, ClampImportance(lo)) > RetentionFor(c, ClampImportance(hi)) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("clamp is idempotent and bounded", prop.ForAll(
		func(v float64) bool {
			c := ClampImportance(v)
			return c >= 0 && c <= 1 && ClampImportance(c) == c
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}
