// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
)

const (
	// StageBase is the state before any instruction has run on top of the base image.
	StageBase Stage = "base"
	// StageEnvConfigured follows the ENV instruction.
	StageEnvConfigured Stage = "env-configured"
	// StageSystemDepsInstalled follows the OS package install and cache purge.
	StageSystemDepsInstalled Stage = "system-deps-installed"
	// StageAppDepsInstalled follows the manifest copy and the pip install.
	StageAppDepsInstalled Stage = "app-deps-installed"
	// StageSourceCopied follows the verbatim copy of the build context.
	StageSourceCopied Stage = "source-copied"
	// StagePortDeclared follows EXPOSE.
	StagePortDeclared Stage = "port-declared"
	// StageEntrypointDefined is terminal.
	StageEntrypointDefined Stage = "entrypoint-defined"
)

// ErrInvalidStage is returned when a Stage value is not one of the defined stages.
var ErrInvalidStage = errors.New("invalid build stage")

type (
	// Stage is a named point in the linear build state machine.
	Stage string

	// InvalidStageError is returned when a Stage value is not recognized.
	InvalidStageError struct {
		Value Stage
	}
)

// Stages returns every stage in build order.
func Stages() []Stage {
	return []Stage{
		StageBase,
		StageEnvConfigured,
		StageSystemDepsInstalled,
		StageAppDepsInstalled,
		StageSourceCopied,
		StagePortDeclared,
		StageEntrypointDefined,
	}
}

func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("invalid build stage %q", e.Value)
}

func (e *InvalidStageError) Unwrap() error { return ErrInvalidStage }

func (s Stage) String() string { return string(s) }

// Validate returns an error if s is not a defined stage.
func (s Stage) Validate() error {
	if s.Index() < 0 {
		return &InvalidStageError{Value: s}
	}
	return nil
}

// Index returns the position of s in build order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages() {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the successor of s. The terminal stage and unknown stages
// have no successor.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	all := Stages()
	if i < 0 || i == len(all)-1 {
		return "", false
	}
	return all[i+1], true
}

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool { return s == StageEntrypointDefined }
