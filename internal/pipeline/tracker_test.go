// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/imagewright/imagewright/pkg/recipe"
)

func TestTrackerAdvanceInOrder(t *testing.T) {
	t.Parallel()

	var seen []recipe.Stage
	tr := NewTracker(func(_, to recipe.Stage) { seen = append(seen, to) })

	stages := recipe.Stages()
	for _, s := range stages[1:] {
		if err := tr.Advance(s); err != nil {
			t.Fatalf("Advance(%s) = %v", s, err)
		}
	}
	if !tr.Done() {
		t.Errorf("Done() = false after reaching %s", tr.Current())
	}
	if diff := cmp.Diff(stages[1:], seen); diff != "" {
		t.Errorf("callback stages mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerRejectsSkipsAndBacksteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []recipe.Stage
		to    recipe.Stage
	}{
		{"skip", nil, recipe.StageSystemDepsInstalled},
		{"repeat", []recipe.Stage{recipe.StageEnvConfigured}, recipe.StageEnvConfigured},
		{"backwards", []recipe.Stage{recipe.StageEnvConfigured}, recipe.StageBase},
		{"source before deps", []recipe.Stage{recipe.StageEnvConfigured, recipe.StageSystemDepsInstalled}, recipe.StageSourceCopied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := NewTracker(nil)
			for _, s := range tt.setup {
				if err := tr.Advance(s); err != nil {
					t.Fatalf("setup Advance(%s) = %v", s, err)
				}
			}
			before := tr.Current()
			err := tr.Advance(tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Advance(%s) = %v, want ErrInvalidTransition", tt.to, err)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.From != before || te.To != tt.to {
				t.Errorf("TransitionError = %+v, want %s -> %s", te, before, tt.to)
			}
			if tr.Current() != before {
				t.Errorf("Current() = %s after refused transition, want %s", tr.Current(), before)
			}
		})
	}
}

func TestTrackerAdvanceFromTerminal(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	if err := tr.AdvanceTo(recipe.StageEntrypointDefined); err != nil {
		t.Fatalf("AdvanceTo() = %v", err)
	}
	if err := tr.Advance(recipe.StageBase); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Advance past terminal = %v, want ErrInvalidTransition", err)
	}
}

func TestTrackerAdvanceTo(t *testing.T) {
	t.Parallel()

	var seen []recipe.Stage
	tr := NewTracker(func(_, to recipe.Stage) { seen = append(seen, to) })

	if err := tr.AdvanceTo(recipe.StageAppDepsInstalled); err != nil {
		t.Fatalf("AdvanceTo() = %v", err)
	}
	want := []recipe.Stage{recipe.StageEnvConfigured, recipe.StageSystemDepsInstalled, recipe.StageAppDepsInstalled}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	// Behind the current stage is a no-op.
	if err := tr.AdvanceTo(recipe.StageEnvConfigured); err != nil {
		t.Errorf("AdvanceTo(behind) = %v, want nil", err)
	}
	if tr.Current() != recipe.StageAppDepsInstalled {
		t.Errorf("Current() = %s, want %s", tr.Current(), recipe.StageAppDepsInstalled)
	}

	if err := tr.AdvanceTo(recipe.Stage("bogus")); !errors.Is(err, recipe.ErrInvalidStage) {
		t.Errorf("AdvanceTo(bogus) = %v, want ErrInvalidStage", err)
	}
}
