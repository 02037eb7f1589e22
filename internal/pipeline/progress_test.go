// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/imagewright/imagewright/pkg/recipe"
)

// classicOutput renders docker classic builder headers for every step.
func classicOutput(r *recipe.Recipe) string {
	ins := r.Instructions()
	var b strings.Builder
	for i, in := range ins {
		fmt.Fprintf(&b, "Step %d/%d : %s\n ---> Running in 0123456789ab\n", i+1, len(ins), in)
	}
	return b.String()
}

func TestProgressWriterFormats(t *testing.T) {
	t.Parallel()

	r := recipe.Default()
	ins := r.Instructions()

	tests := []struct {
		name   string
		output string
		want   recipe.Stage
	}{
		{
			name:   "docker classic",
			output: classicOutput(r),
			// The CMD header means the port stage has finished.
			want: recipe.StagePortDeclared,
		},
		{
			name: "buildkit",
			output: "#1 [internal] load build definition from Dockerfile\n" +
				"#5 [1/5] FROM docker.io/library/python:3.11-slim@sha256:abcd\n" +
				"#6 [2/5] WORKDIR /app\n" +
				"#7 [3/5] RUN " + ins[3].Body + "\n" +
				"#7 0.412 Get:1 http://deb.debian.org/debian bookworm InRelease\n" +
				"#8 [4/5] COPY requirements.txt .\n" +
				"#9 [5/5] RUN " + ins[5].Body + "\n",
			// BuildKit omits ENV; the pip step header completes the manifest copy only.
			want: recipe.StageSystemDepsInstalled,
		},
		{
			name: "podman",
			output: "STEP 1/9: FROM python:3.11-slim\n" +
				"STEP 2/9: ENV " + ins[1].Body + "\n" +
				"STEP 3/9: WORKDIR /app\n" +
				"--> 1a2b3c\n" +
				"STEP 4/9: RUN " + ins[3].Body + "\n" +
				"STEP 5/9: COPY requirements.txt .\n",
			want: recipe.StageSystemDepsInstalled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := NewTracker(nil)
			w := newProgressWriter(tr, NewPlan(r, baseInputs).Steps)
			if _, err := w.Write([]byte(tt.output)); err != nil {
				t.Fatalf("Write() = %v", err)
			}
			if err := w.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if tr.Current() != tt.want {
				t.Errorf("Current() = %s, want %s", tr.Current(), tt.want)
			}
		})
	}
}

func TestProgressWriterSplitWrites(t *testing.T) {
	t.Parallel()

	r := recipe.Default()
	tr := NewTracker(nil)
	w := newProgressWriter(tr, NewPlan(r, baseInputs).Steps)

	out := classicOutput(r)
	for i := 0; i < len(out); i += 7 {
		end := min(i+7, len(out))
		if _, err := w.Write([]byte(out[i:end])); err != nil {
			t.Fatalf("Write() = %v", err)
		}
	}
	if tr.Current() != recipe.StagePortDeclared {
		t.Errorf("Current() = %s, want %s", tr.Current(), recipe.StagePortDeclared)
	}
}

func TestProgressWriterIgnoresUnknownSteps(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	w := newProgressWriter(tr, NewPlan(recipe.Default(), baseInputs).Steps)
	_, _ = w.Write([]byte("Step 3/9 : RUN echo unrelated\nsome log line\n"))
	if tr.Current() != recipe.StageBase {
		t.Errorf("Current() = %s, want %s", tr.Current(), recipe.StageBase)
	}
}
