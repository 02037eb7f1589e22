// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/pkg/recipe"
)

const (
	// StepReused means the step's key matches the previous build.
	StepReused StepStatus = "reused"
	// StepRebuild means the step, or one before it, changed.
	StepRebuild StepStatus = "rebuild"
)

type (
	// Inputs are the external values folded into the key chain.
	Inputs struct {
		// BaseIdentity is the base image digest reference, or name:tag.
		BaseIdentity string
		// ManifestDigest is consumed by the manifest copy only.
		ManifestDigest string
		// SourceDigest is consumed by the source copy only.
		SourceDigest string
	}

	// Step is one keyed instruction.
	Step struct {
		Index       int
		Instruction recipe.Instruction
		Key         string
	}

	// Plan is the full key chain for a recipe and its inputs.
	Plan struct {
		Inputs Inputs
		Steps  []Step
	}

	// StepStatus classifies a step against a previous build.
	StepStatus string

	// StepDiff pairs a step with its status.
	StepDiff struct {
		Step        Step
		PreviousKey string
		Status      StepStatus
	}
)

// NewPlan keys every instruction. The first key is derived from the base
// identity; each later key hashes the previous key, the instruction text and
// the content the instruction consumes.
func NewPlan(r *recipe.Recipe, in Inputs) *Plan {
	p := &Plan{Inputs: in}
	prev := hashParts("base", in.BaseIdentity)
	for i, ins := range r.Instructions() {
		key := prev
		if i > 0 {
			key = hashParts(prev, ins.String(), input(ins, in))
		}
		p.Steps = append(p.Steps, Step{Index: i, Instruction: ins, Key: key})
		prev = key
	}
	return p
}

// Key identifies the image: the final step key.
func (p *Plan) Key() string {
	return p.Steps[len(p.Steps)-1].Key
}

// ShortKey is the first 12 characters of Key.
func (p *Plan) ShortKey() string {
	return p.Key()[:12]
}

// StageKey returns the key of the last step completing stage.
func (p *Plan) StageKey(stage recipe.Stage) string {
	key := ""
	for _, s := range p.Steps {
		if s.Instruction.Stage == stage {
			key = s.Key
		}
	}
	return key
}

// Layers converts the plan to ledger layers.
func (p *Plan) Layers() []ledger.Layer {
	layers := make([]ledger.Layer, 0, len(p.Steps))
	for _, s := range p.Steps {
		layers = append(layers, ledger.Layer{
			Stage:       s.Instruction.Stage,
			Key:         s.Key,
			Instruction: s.Instruction.String(),
		})
	}
	return layers
}

// Diff compares the plan with a previous build record. Once a step differs,
// it and every later step are rebuilt. A nil record rebuilds everything.
func (p *Plan) Diff(prev *ledger.Record) []StepDiff {
	diffs := make([]StepDiff, 0, len(p.Steps))
	changed := prev == nil
	for _, s := range p.Steps {
		d := StepDiff{Step: s, Status: StepRebuild}
		if prev != nil && s.Index < len(prev.Layers) {
			d.PreviousKey = prev.Layers[s.Index].Key
		}
		if !changed && d.PreviousKey == s.Key {
			d.Status = StepReused
		} else {
			changed = true
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func input(ins recipe.Instruction, in Inputs) string {
	switch ins.Input {
	case recipe.InputManifest:
		return in.ManifestDigest
	case recipe.InputSource:
		return in.SourceDigest
	default:
		return ""
	}
}

// hashParts hashes length-prefixed parts so that boundaries are unambiguous.
func hashParts(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
