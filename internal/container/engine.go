// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Supported engines.
const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrEngineNotAvailable is the sentinel wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")
	// ErrInvalidEngineType is returned for an unknown engine type.
	ErrInvalidEngineType = errors.New("invalid container engine type")
)

type (
	// Engine is the set of container operations the build and launch paths need.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine binary is installed and its daemon reachable.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Build builds an image. Tags are applied only when the build succeeds.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a container in the foreground until it exits.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Start runs a container detached and returns its ID.
		Start(ctx context.Context, opts RunOptions) (ContainerID, error)
		// Stop stops a running container, killing it after timeout.
		Stop(ctx context.Context, id ContainerID, timeout time.Duration) error
		// Logs copies container output to stdout and stderr, following it if requested.
		Logs(ctx context.Context, id ContainerID, follow bool, stdout, stderr io.Writer) error
		// Port lists the container's published ports.
		Port(ctx context.Context, id ContainerID) ([]PublishedPort, error)
		// Remove removes a container.
		Remove(ctx context.Context, id ContainerID, force bool) error

		// ImageExists checks if an image exists locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
		// InspectImage returns the engine's view of a local image.
		InspectImage(ctx context.Context, image ImageTag) (*ImageInfo, error)
		// RemoveImage removes a local image.
		RemoveImage(ctx context.Context, image ImageTag, force bool) error
		// Save writes a docker-archive tarball of image to path.
		Save(ctx context.Context, image ImageTag, path string) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Dockerfile path; relative paths resolve against ContextDir.
		Dockerfile string
		// Tags are applied to the built image.
		Tags []ImageTag
		// NoCache disables the layer cache.
		NoCache bool
		// Stdout receives build output.
		Stdout io.Writer
		// Stderr receives build errors (and BuildKit progress).
		Stderr io.Writer
	}

	// RunOptions contains options for running a container.
	RunOptions struct {
		// Image is the image to run.
		Image ImageTag
		// Name is the container name.
		Name string
		// Command overrides the image command when non-empty.
		Command []string
		// Ports are published port mappings.
		Ports []PortMapping
		// Remove automatically removes the container after exit.
		Remove bool
		// Stdout is where to write standard output (foreground runs only).
		Stdout io.Writer
		// Stderr is where to write standard error (foreground runs only).
		Stderr io.Writer
	}

	// RunResult contains the result of a foreground run.
	RunResult struct {
		// ExitCode is the container exit code.
		ExitCode int
		// Error is set for infrastructure failures, not for non-zero exits.
		Error error
	}

	// ImageInfo is the subset of "image inspect" the tool uses.
	ImageInfo struct {
		ID          string   `json:"Id"`
		RepoTags    []string `json:"RepoTags"`
		RepoDigests []string `json:"RepoDigests"`
		Created     string   `json:"Created"`
		Size        int64    `json:"Size"`
		Config      struct {
			ExposedPorts map[string]struct{} `json:"ExposedPorts"`
		} `json:"Config"`
	}

	// EngineNotAvailableError is returned when no usable engine is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

var (
	_ Engine = (*DockerEngine)(nil)
	_ Engine = (*PodmanEngine)(nil)
)

func (t EngineType) String() string { return string(t) }

// Validate returns an error if t is not docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: docker, podman)", ErrInvalidEngineType, string(t))
	}
}

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// ExposedTCPPort returns the single TCP port the image exposes, or zero when it
// exposes none.
func (i *ImageInfo) ExposedTCPPort() (NetworkPort, error) {
	var ports []NetworkPort
	for spec := range i.Config.ExposedPorts {
		num, proto, _ := strings.Cut(spec, "/")
		if proto != "" && proto != string(PortProtocolTCP) {
			continue
		}
		n, err := strconv.ParseUint(num, 10, 16)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("image exposes invalid port %q", spec)
		}
		ports = append(ports, NetworkPort(n))
	}
	slices.Sort(ports)
	switch len(ports) {
	case 0:
		return 0, nil
	case 1:
		return ports[0], nil
	default:
		return 0, fmt.Errorf("image exposes %d TCP ports %v, want one", len(ports), ports)
	}
}

// NewEngine returns the preferred engine, falling back to the other one.
func NewEngine(preferredType EngineType) (Engine, error) {
	switch preferredType {
	case EngineTypePodman:
		if engine := NewPodmanEngine(); engine.Available() {
			return engine, nil
		}
		if engine := NewDockerEngine(); engine.Available() {
			return engine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		if engine := NewDockerEngine(); engine.Available() {
			return engine, nil
		}
		if engine := NewPodmanEngine(); engine.Available() {
			return engine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEngineType, preferredType)
	}
}

// AutoDetectEngine returns the first available engine, Docker first.
func AutoDetectEngine() (Engine, error) {
	if docker := NewDockerEngine(); docker.Available() {
		return docker, nil
	}
	if podman := NewPodmanEngine(); podman.Available() {
		return podman, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}
