// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/imagewright/imagewright/internal/issue"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker")
	tests := []struct {
		name string
		opts BuildOptions
		want []string
	}{
		{
			name: "context only",
			opts: BuildOptions{ContextDir: "/tmp/ctx"},
			want: []string{"build", "/tmp/ctx"},
		},
		{
			name: "absolute dockerfile outside context",
			opts: BuildOptions{ContextDir: "/tmp/x/context", Dockerfile: "/tmp/x/Dockerfile"},
			want: []string{"build", "-f", "/tmp/x/Dockerfile", "/tmp/x/context"},
		},
		{
			name: "relative dockerfile",
			opts: BuildOptions{ContextDir: "/ctx", Dockerfile: "Dockerfile"},
			want: []string{"build", "-f", "/ctx/Dockerfile", "/ctx"},
		},
		{
			name: "tags and no-cache",
			opts: BuildOptions{ContextDir: "/ctx", Tags: []ImageTag{"imagewright-build:abc", "gateway:dev"}, NoCache: true},
			want: []string{"build", "-t", "imagewright-build:abc", "-t", "gateway:dev", "--no-cache", "/ctx"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, e.BuildArgs(tt.opts)); diff != "" {
				t.Errorf("BuildArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker")
	opts := RunOptions{
		Image: "gateway:dev",
		Name:  "imagewright-1",
		Ports: []PortMapping{{HostPort: 8000, ContainerPort: 8000}},
	}

	want := []string{"run", "-d", "--name", "imagewright-1", "-p", "8000:8000/tcp", "gateway:dev"}
	if diff := cmp.Diff(want, e.RunArgs(opts, true)); diff != "" {
		t.Errorf("RunArgs(detached) mismatch (-want +got):\n%s", diff)
	}

	opts.Remove = true
	opts.Command = []string{"pip", "freeze"}
	want = []string{"run", "--rm", "--name", "imagewright-1", "-p", "8000:8000/tcp", "gateway:dev", "pip", "freeze"}
	if diff := cmp.Diff(want, e.RunArgs(opts, false)); diff != "" {
		t.Errorf("RunArgs(foreground) mismatch (-want +got):\n%s", diff)
	}
}

func TestSimpleArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker")
	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"stop", e.StopArgs("abc", 10*time.Second), []string{"stop", "-t", "10", "abc"}},
		{"logs follow", e.LogsArgs("abc", true), []string{"logs", "-f", "abc"}},
		{"logs", e.LogsArgs("abc", false), []string{"logs", "abc"}},
		{"rm force", e.RemoveArgs("abc", true), []string{"rm", "-f", "abc"}},
		{"rmi", e.RemoveImageArgs("gateway:dev", false), []string{"rmi", "gateway:dev"}},
		{"save", e.SaveArgs("gateway:dev", "/tmp/img.tar"), []string{"save", "-o", "/tmp/img.tar", "gateway:dev"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tt.got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestEngineTransformers(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	docker := newMockDocker(t, m)
	podman := newMockPodman(t, m)

	want := []string{"build", "--progress=plain", "/ctx"}
	if diff := cmp.Diff(want, docker.BuildArgs(BuildOptions{ContextDir: "/ctx"})); diff != "" {
		t.Errorf("docker BuildArgs mismatch:\n%s", diff)
	}
	want = []string{"build", "/ctx"}
	if diff := cmp.Diff(want, podman.BuildArgs(BuildOptions{ContextDir: "/ctx"})); diff != "" {
		t.Errorf("podman BuildArgs mismatch:\n%s", diff)
	}

	want = []string{"save", "--format", "docker-archive", "-o", "/t.tar", "img:1"}
	if diff := cmp.Diff(want, podman.SaveArgs("img:1", "/t.tar")); diff != "" {
		t.Errorf("podman SaveArgs mismatch:\n%s", diff)
	}
}

func TestBuild_Mock(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.stdout = "Step 1/9 : FROM python:3.11-slim\n"
	e := newMockDocker(t, m)

	var out bytes.Buffer
	err := e.Build(context.Background(), BuildOptions{
		ContextDir: "/ctx",
		Dockerfile: "/Dockerfile",
		Tags:       []ImageTag{"gateway:dev"},
		Stdout:     &out,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	m.assertLastArgs(t, "build", "--progress=plain", "-f", "/Dockerfile", "-t", "gateway:dev", "/ctx")
	if out.String() != m.stdout {
		t.Errorf("build output = %q", out.String())
	}
}

func TestBuild_FailureIsActionable(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.exitCode = 1
	e := newMockDocker(t, m)

	err := e.Build(context.Background(), BuildOptions{ContextDir: "/ctx", Tags: []ImageTag{"gateway:dev"}})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("Build() error = %v, want *issue.ActionableError", err)
	}
	if ae.Issue != issue.BuildFailedId || ae.Resource != "gateway:dev" || !ae.HasSuggestions() {
		t.Errorf("unexpected actionable error %+v", ae)
	}
}

func TestBuild_InvalidOptions(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	e := newMockDocker(t, m)

	err := e.Build(context.Background(), BuildOptions{Tags: []ImageTag{"Bad Tag"}})
	if err == nil || !errors.Is(err, ErrInvalidImageTag) {
		t.Errorf("Build() error = %v, want ErrInvalidImageTag", err)
	}
	if len(m.invocations) != 0 {
		t.Error("engine should not be invoked with invalid options")
	}
}

func TestStart_Mock(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.stdout = "4f1c2a9e8b7d6c5b4a39281706f5e4d3c2b1a0918273645f6e7d8c9b0a1f2e3d\n"
	e := newMockPodman(t, m)

	id, err := e.Start(context.Background(), RunOptions{
		Image: "gateway:dev",
		Name:  "imagewright-x",
		Ports: []PortMapping{{HostPort: 18000, ContainerPort: 8000}},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id.Short() != "4f1c2a9e8b7d" {
		t.Errorf("Start() id = %q", id)
	}
	m.assertLastArgs(t, "run", "-d", "--name", "imagewright-x", "-p", "18000:8000/tcp", "gateway:dev")
}

func TestStart_Failure(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.exitCode = 125
	m.stderr = "port is already allocated"
	e := newMockDocker(t, m)

	_, err := e.Start(context.Background(), RunOptions{Image: "gateway:dev"})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.LaunchFailedId {
		t.Fatalf("Start() error = %v, want launch actionable error", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Stderr != "port is already allocated" {
		t.Errorf("expected captured stderr, got %v", err)
	}
	if !IsTransientError(err) {
		t.Error("exit code 125 should be transient")
	}
}

func TestRun_ExitCode(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.exitCode = 3
	e := newMockDocker(t, m)

	res, err := e.Run(context.Background(), RunOptions{Image: "gateway:dev", Remove: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || res.Error != nil {
		t.Errorf("Run() = %+v", res)
	}
}

func TestPort_Mock(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.stdout = "8000/tcp -> 0.0.0.0:18000\n8000/tcp -> [::]:18000\n"
	e := newMockDocker(t, m)

	ports, err := e.Port(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Port() error = %v", err)
	}
	want := []PublishedPort{
		{ContainerPort: 8000, Protocol: "tcp", HostIP: "0.0.0.0", HostPort: 18000},
		{ContainerPort: 8000, Protocol: "tcp", HostIP: "::", HostPort: 18000},
	}
	if diff := cmp.Diff(want, ports); diff != "" {
		t.Errorf("Port() mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectImage_Mock(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.stdout = `[{"Id":"sha256:abc","RepoTags":["gateway:dev"],"Size":123,"Config":{"ExposedPorts":{"8000/tcp":{}}}}]`
	e := newMockDocker(t, m)

	info, err := e.InspectImage(context.Background(), "gateway:dev")
	if err != nil {
		t.Fatalf("InspectImage() error = %v", err)
	}
	if info.ID != "sha256:abc" || info.Size != 123 || len(info.RepoTags) != 1 {
		t.Errorf("InspectImage() = %+v", info)
	}
	if port, err := info.ExposedTCPPort(); err != nil || port != 8000 {
		t.Errorf("ExposedTCPPort() = %v, %v, want 8000", port, err)
	}
	m.assertLastArgs(t, "image", "inspect", "gateway:dev")
}

func TestImageExists_Mock(t *testing.T) {
	t.Parallel()

	m := newMockCommandRecorder()
	m.failOn = "image"
	e := newMockPodman(t, m)

	ok, err := e.ImageExists(context.Background(), "gateway:dev")
	if err != nil || ok {
		t.Errorf("ImageExists() = %v, %v; want false, nil", ok, err)
	}
	m.assertLastArgs(t, "image", "exists", "gateway:dev")
}
