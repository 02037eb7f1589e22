// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const wantDefaultDockerfile = `FROM python:3.11-slim
ENV PYTHONDONTWRITEBYTECODE=1 PYTHONUNBUFFERED=1
WORKDIR /app
RUN apt-get update && apt-get install -y --no-install-recommends build-essential curl && rm -rf /var/lib/apt/lists/*
COPY requirements.txt .
RUN pip install --upgrade pip && pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE 8000
CMD ["uvicorn","app.main:app","--host","0.0.0.0","--port","8000"]
`

func TestDefaultDockerfile(t *testing.T) {
	t.Parallel()

	got := Default().Dockerfile()
	if diff := cmp.Diff(wantDefaultDockerfile, got); diff != "" {
		t.Errorf("Dockerfile() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestInstructions_Order(t *testing.T) {
	t.Parallel()

	ins := Default().Instructions()

	manifestIdx, sourceIdx := -1, -1
	for i, in := range ins {
		switch in.Input {
		case InputManifest:
			manifestIdx = i
		case InputSource:
			sourceIdx = i
		}
	}
	if manifestIdx < 0 || sourceIdx < 0 || manifestIdx > sourceIdx {
		t.Fatalf("manifest copy (%d) must precede source copy (%d)", manifestIdx, sourceIdx)
	}

	// Stages are non-decreasing and end at the terminal stage.
	prev := -1
	for _, in := range ins {
		idx := in.Stage.Index()
		if idx < prev {
			t.Errorf("instruction %q goes back from stage %d to %d", in, prev, idx)
		}
		prev = idx
	}
	if last := ins[len(ins)-1]; !last.Stage.Terminal() || last.Keyword != KeywordCmd {
		t.Errorf("last instruction = %v, want terminal CMD", last)
	}
}

func TestServerArgv(t *testing.T) {
	t.Parallel()

	want := []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", "8000"}
	if diff := cmp.Diff(want, Default().Server.Argv()); diff != "" {
		t.Errorf("Argv() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(r *Recipe)
		wantSub string
	}{
		{"bad base image", func(r *Recipe) { r.BaseImage = "Not A Ref!" }, "base image"},
		{"bad env name", func(r *Recipe) { r.Env = append(r.Env, EnvVar{Name: "1BAD", Value: "x"}) }, "env name"},
		{"duplicate env", func(r *Recipe) { r.Env = append(r.Env, r.Env[0]) }, "set twice"},
		{"empty env", func(r *Recipe) { r.Env = nil }, "at least one"},
		{"relative workdir", func(r *Recipe) { r.WorkDir = "app" }, "absolute"},
		{"bad package", func(r *Recipe) { r.SystemPackages = []string{"curl; rm -rf /"} }, "system package"},
		{"port out of range", func(r *Recipe) { r.Port, r.Server.Port = 70000, 70000 }, "out of range"},
		{"port mismatch", func(r *Recipe) { r.Server.Port = 9000 }, "does not match"},
		{"bad app path", func(r *Recipe) { r.Server.App = "app/main.py" }, "module.path:attribute"},
		{"empty program", func(r *Recipe) { r.Server.Program = " " }, "program"},
		{"empty host", func(r *Recipe) { r.Server.Host = "" }, "host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := Default()
			tt.mutate(r)
			err := r.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, ErrInvalidRecipe) {
				t.Errorf("errors.Is(err, ErrInvalidRecipe) = false")
			}
			var ire *InvalidRecipeError
			if !errors.As(err, &ire) || len(ire.FieldErrors) == 0 {
				t.Errorf("expected *InvalidRecipeError with field errors, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestEnvValueQuoting(t *testing.T) {
	t.Parallel()

	r := Default()
	r.Env = append(r.Env, EnvVar{Name: "GREETING", Value: "hello world"})
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if !strings.Contains(r.Dockerfile(), "GREETING='hello world'") {
		t.Errorf("expected quoted env value in:\n%s", r.Dockerfile())
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	r := Default()
	c := r.Clone()
	c.Env[0].Value = "0"
	c.SystemPackages[0] = "git"
	if r.Env[0].Value != "1" || r.SystemPackages[0] != "build-essential" {
		t.Error("Clone() shares slices with the original")
	}
}
