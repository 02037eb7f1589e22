// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"

	"github.com/imagewright/imagewright/pkg/recipe"
)

// ErrInvalidTransition is the sentinel wrapped by TransitionError.
var ErrInvalidTransition = errors.New("invalid stage transition")

type (
	// TransitionError reports a refused stage change.
	TransitionError struct {
		From recipe.Stage
		To   recipe.Stage
	}

	// Tracker holds the current build stage. It starts at StageBase and only
	// moves to the immediate successor. It is not safe for concurrent use.
	Tracker struct {
		current   recipe.Stage
		onAdvance func(from, to recipe.Stage)
	}
)

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTracker returns a tracker at StageBase. onAdvance, if non-nil, is called
// after every accepted transition.
func NewTracker(onAdvance func(from, to recipe.Stage)) *Tracker {
	return &Tracker{current: recipe.StageBase, onAdvance: onAdvance}
}

// Current returns the current stage.
func (t *Tracker) Current() recipe.Stage { return t.current }

// Done reports whether the terminal stage was reached.
func (t *Tracker) Done() bool { return t.current.Terminal() }

// Advance moves to `to`, which must be the successor of the current stage.
func (t *Tracker) Advance(to recipe.Stage) error {
	next, ok := t.current.Next()
	if !ok || next != to {
		return &TransitionError{From: t.current, To: to}
	}
	from := t.current
	t.current = to
	if t.onAdvance != nil {
		t.onAdvance(from, to)
	}
	return nil
}

// AdvanceTo steps through every stage up to and including target. Reaching a
// stage at or behind the current one is a no-op.
func (t *Tracker) AdvanceTo(target recipe.Stage) error {
	if err := target.Validate(); err != nil {
		return err
	}
	for t.current.Index() < target.Index() {
		next, _ := t.current.Next()
		if err := t.Advance(next); err != nil {
			return err
		}
	}
	return nil
}
