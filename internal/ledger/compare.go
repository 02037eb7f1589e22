// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"slices"

	"github.com/imagewright/imagewright/pkg/recipe"
)

type (
	// StageComparison reports whether a stage key was carried over.
	StageComparison struct {
		Stage  recipe.Stage
		Reused bool
	}

	// Comparison is the result of Compare.
	Comparison struct {
		// PackagesRecorded is false when either record lacks a package set.
		PackagesRecorded bool
		SamePackages     bool
		Added            []string
		Removed          []string
		Stages           []StageComparison
	}
)

// Compare reports the package set difference from a to b and, per stage,
// whether b reused a's key.
func Compare(a, b *Record) Comparison {
	var c Comparison

	if len(a.Packages) > 0 && len(b.Packages) > 0 {
		c.PackagesRecorded = true
		c.Added = difference(b.Packages, a.Packages)
		c.Removed = difference(a.Packages, b.Packages)
		c.SamePackages = len(c.Added) == 0 && len(c.Removed) == 0
	}

	for _, stage := range recipe.Stages() {
		ka, okA := a.LayerKey(stage)
		kb, okB := b.LayerKey(stage)
		if !okA && !okB {
			continue
		}
		c.Stages = append(c.Stages, StageComparison{Stage: stage, Reused: okA && okB && ka == kb})
	}
	return c
}

// difference returns the sorted elements of x missing from y.
func difference(x, y []string) []string {
	var out []string
	for _, v := range x {
		if !slices.Contains(y, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}
