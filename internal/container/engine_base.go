// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imagewright/imagewright/internal/issue"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject a TestHelperProcess-backed implementation.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// ArgsTransformer rewrites an argument slice after it is built.
	ArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the Engine operations that are identical for
	// the docker and podman CLIs.
	BaseCLIEngine struct {
		name                 string
		binaryPath           string
		execCommand          ExecCommandFunc
		buildArgsTransformer ArgsTransformer
		saveArgsTransformer  ArgsTransformer
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithBuildArgsTransformer post-processes build arguments. Docker uses it to
// request plain progress output.
func WithBuildArgsTransformer(fn ArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.buildArgsTransformer = fn
	}
}

// WithSaveArgsTransformer post-processes save arguments. Podman uses it to
// force the docker-archive format.
func WithSaveArgsTransformer(fn ArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.saveArgsTransformer = fn
	}
}

// NewBaseCLIEngine creates a base engine for the given binary.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	identity := func(args []string) []string { return args }
	e := &BaseCLIEngine{
		binaryPath:           binaryPath,
		execCommand:          exec.CommandContext,
		buildArgsTransformer: identity,
		saveArgsTransformer:  identity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the engine binary; empty if not found.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs: build [-f dockerfile] [-t tag]... [--no-cache] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	for _, tag := range opts.Tags {
		args = append(args, "-t", string(tag))
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	args = append(args, opts.ContextDir)

	return e.buildArgsTransformer(args)
}

// RunArgs constructs: run [-d] [--rm] [--name n] [-p map]... <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions, detached bool) []string {
	args := []string{"run"}

	if detached {
		args = append(args, "-d")
	}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	for _, p := range opts.Ports {
		args = append(args, "-p", p.String())
	}

	args = append(args, string(opts.Image))
	args = append(args, opts.Command...)

	return args
}

// StopArgs constructs: stop -t <seconds> <id>
func (e *BaseCLIEngine) StopArgs(id ContainerID, timeout time.Duration) []string {
	secs := int(timeout.Round(time.Second) / time.Second)
	return []string{"stop", "-t", strconv.Itoa(secs), string(id)}
}

// LogsArgs constructs: logs [-f] <id>
func (e *BaseCLIEngine) LogsArgs(id ContainerID, follow bool) []string {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	return append(args, string(id))
}

// RemoveArgs constructs: rm [-f] <id>
func (e *BaseCLIEngine) RemoveArgs(id ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(id))
}

// RemoveImageArgs constructs: rmi [-f] <image>
func (e *BaseCLIEngine) RemoveImageArgs(image ImageTag, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(image))
}

// SaveArgs constructs: save -o <path> <image>
func (e *BaseCLIEngine) SaveArgs(image ImageTag, path string) []string {
	return e.saveArgsTransformer([]string{"save", "-o", path, string(image)})
}

// --- Command Execution ---

// RunCommandStatus executes a command and returns only the error status.
// Stderr is captured into the error.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, err := e.RunCommandWithOutput(ctx, args...)
	return err
}

// RunCommandWithOutput executes a command and returns its stdout.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, stderr.String(), err)
	}

	return stdout.String(), nil
}

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// --- Engine Operations ---

// Build builds an image. Output goes to opts.Stdout and opts.Stderr.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, err)
	}
	return nil
}

// Run runs a container in the foreground. A non-zero exit code is reported in
// RunResult.ExitCode; only infrastructure failures set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts, false)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	result := &RunResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}
	return result, nil
}

// Start runs a container detached and returns the ID the engine prints.
func (e *BaseCLIEngine) Start(ctx context.Context, opts RunOptions) (ContainerID, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	out, err := e.RunCommandWithOutput(ctx, e.RunArgs(opts, true)...)
	if err != nil {
		return "", runContainerError(e.name, opts, err)
	}

	id := ContainerID(lastLine(out))
	if err := id.Validate(); err != nil {
		return "", runContainerError(e.name, opts, fmt.Errorf("engine returned no container id: %w", err))
	}
	return id, nil
}

// Stop stops a running container.
func (e *BaseCLIEngine) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	return e.RunCommandStatus(ctx, e.StopArgs(id, timeout)...)
}

// Logs copies the container's output streams.
func (e *BaseCLIEngine) Logs(ctx context.Context, id ContainerID, follow bool, stdout, stderr io.Writer) error {
	cmd := e.CreateCommand(ctx, e.LogsArgs(id, follow)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stream logs of %s: %w", id.Short(), err)
	}
	return nil
}

// Port lists the container's published ports.
func (e *BaseCLIEngine) Port(ctx context.Context, id ContainerID) ([]PublishedPort, error) {
	out, err := e.RunCommandWithOutput(ctx, "port", string(id))
	if err != nil {
		return nil, err
	}
	return ParsePortOutput(out)
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(id, force)...)
}

// InspectImage returns the engine's metadata for image.
func (e *BaseCLIEngine) InspectImage(ctx context.Context, image ImageTag) (*ImageInfo, error) {
	out, err := e.RunCommandWithOutput(ctx, "image", "inspect", string(image))
	if err != nil {
		return nil, err
	}
	var infos []ImageInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		return nil, fmt.Errorf("decode image inspect output: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("image %s: inspect returned no data", image)
	}
	return &infos[0], nil
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image ImageTag, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// Save writes image to path as a docker-archive tarball.
func (e *BaseCLIEngine) Save(ctx context.Context, image ImageTag, path string) error {
	if err := e.RunCommandStatus(ctx, e.SaveArgs(image, path)...); err != nil {
		return fmt.Errorf("save image %s: %w", image, err)
	}
	return nil
}

// --- Option Validation ---

// Validate checks the context directory and tags.
func (o BuildOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(o.ContextDir) == "" {
		errs = append(errs, errors.New("build context directory is required"))
	}
	for _, t := range o.Tags {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the image and port mappings.
func (o RunOptions) Validate() error {
	var errs []error
	if err := o.Image.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range o.Ports {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Helpers ---

// CommandError is a failed engine invocation with its captured stderr.
type CommandError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %v failed: %v", e.Binary, e.Args, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func commandError(binary string, args []string, stderr string, err error) error {
	return &CommandError{Binary: binary, Args: args, Stderr: stderr, Err: err}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// buildContainerError creates an actionable error for image build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image").
		WithIssue(issue.BuildFailedId)

	switch {
	case len(opts.Tags) > 0:
		ctx.WithResource(string(opts.Tags[len(opts.Tags)-1]))
	case opts.ContextDir != "":
		ctx.WithResource(opts.ContextDir)
	}

	ctx.WithSuggestion("Check the build output above for the failing step")
	ctx.WithSuggestion("Ensure the base image is reachable (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Verify every package in requirements.txt exists for this Python version")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for container start failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("run container").
		WithResource(string(opts.Image)).
		WithIssue(issue.LaunchFailedId)

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	ctx.WithSuggestion("Ensure the published host port is not already in use")

	return ctx.Wrap(cause).BuildError()
}
