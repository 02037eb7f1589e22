// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/issue"
	"github.com/imagewright/imagewright/pkg/recipe"
)

const (
	// StateCreated indicates the launcher has not started a container.
	StateCreated State = iota
	// StateStarting indicates the container is starting and not yet ready.
	StateStarting
	// StateReady indicates the server answered the readiness check.
	StateReady
	// StateStopping indicates the container is being stopped.
	StateStopping
	// StateStopped indicates the container was stopped and removed (terminal state).
	StateStopped
	// StateFailed indicates the launch failed (terminal state).
	StateFailed
)

const (
	// DefaultHost is where published ports are checked.
	DefaultHost = "127.0.0.1"
	// DefaultReadyTimeout bounds the readiness check.
	DefaultReadyTimeout = 60 * time.Second
	// DefaultStopTimeout is the grace period given to the server on stop.
	DefaultStopTimeout = 10 * time.Second
	// DefaultReadyPath is requested once the port accepts connections.
	DefaultReadyPath = "/"

	namePrefix = "imagewright-"
	// Readiness poll delays start at pollBackoff and double up to pollMaxBackoff,
	// so a late server is seen within pollMaxBackoff of opening its port.
	pollBackoff    = 100 * time.Millisecond
	pollMaxBackoff = time.Second
	dialTimeout    = time.Second
)

var (
	// ErrAlreadyLaunched is returned when Launch is called twice.
	ErrAlreadyLaunched = errors.New("launcher already used")
	// ErrContainerExited is returned when the container stops on its own.
	ErrContainerExited = errors.New("container exited")
	// ErrNotReady is returned when the server does not answer in time.
	ErrNotReady = errors.New("server not ready")
	// ErrPortContract is wrapped by PortContractError.
	ErrPortContract = errors.New("published ports violate the port contract")
)

type (
	// State is the lifecycle state of a Launcher.
	State int32

	// Config holds the launch parameters.
	Config struct {
		// Image is the image to run with its default command.
		Image container.ImageTag
		// ContainerPort is the port contract (default: 8000).
		ContainerPort container.NetworkPort
		// HostPort is the host side of the mapping (default: ContainerPort).
		HostPort container.NetworkPort
		// Host is the address checked for readiness (default: 127.0.0.1).
		Host string
		// ReadyTimeout bounds the readiness check (default: 60s).
		ReadyTimeout time.Duration
		// StopTimeout is the stop grace period (default: 10s).
		StopTimeout time.Duration
		// ReadyPath is requested over HTTP after the port opens; empty means
		// TCP only.
		ReadyPath string
		// Stdout and Stderr receive the container logs.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Option configures a Launcher.
	Option func(*Launcher)

	// Launcher starts one container and supervises it until shutdown.
	Launcher struct {
		engine container.Engine
		cfg    Config
		logger *log.Logger
		client *http.Client

		pollBackoff    time.Duration
		pollMaxBackoff time.Duration

		state   atomic.Int32
		mu      sync.Mutex
		id      container.ContainerID
		readyCh chan struct{}
	}

	// PortContractError reports published ports that differ from the contract.
	PortContractError struct {
		Want      string
		Published []container.PublishedPort
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (e *PortContractError) Error() string {
	keys := make([]string, 0, len(e.Published))
	for _, p := range e.Published {
		keys = append(keys, p.Key())
	}
	return fmt.Sprintf("published ports %v, want exactly [%s]", keys, e.Want)
}

func (e *PortContractError) Unwrap() error { return ErrPortContract }

// DefaultConfig returns the configuration for image.
func DefaultConfig(image container.ImageTag) Config {
	return Config{
		Image:         image,
		ContainerPort: recipe.DefaultPort,
		HostPort:      recipe.DefaultPort,
		Host:          DefaultHost,
		ReadyTimeout:  DefaultReadyTimeout,
		StopTimeout:   DefaultStopTimeout,
		ReadyPath:     DefaultReadyPath,
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(ln *Launcher) { ln.logger = l }
}

// WithHTTPClient sets the client used by the HTTP readiness check.
func WithHTTPClient(c *http.Client) Option {
	return func(ln *Launcher) { ln.client = c }
}

// WithPollBackoff sets the first delay between readiness checks and the
// longest one.
func WithPollBackoff(base, maxDelay time.Duration) Option {
	return func(ln *Launcher) {
		ln.pollBackoff = base
		ln.pollMaxBackoff = maxDelay
	}
}

// New creates a Launcher. Zero config fields take their defaults.
func New(engine container.Engine, cfg Config, opts ...Option) *Launcher {
	if cfg.ContainerPort == 0 {
		cfg.ContainerPort = recipe.DefaultPort
	}
	if cfg.HostPort == 0 {
		cfg.HostPort = cfg.ContainerPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}

	l := &Launcher{
		engine:  engine,
		cfg:     cfg,
		logger:  log.New(io.Discard),
		client:  &http.Client{Timeout: 2 * time.Second},
		readyCh: make(chan struct{}),

		pollBackoff:    pollBackoff,
		pollMaxBackoff: pollMaxBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state.Store(int32(StateCreated))
	return l
}

// State returns the current lifecycle state.
func (l *Launcher) State() State { return State(l.state.Load()) }

// Ready is closed once the server passed the readiness check.
func (l *Launcher) Ready() <-chan struct{} { return l.readyCh }

// Addr is the host address the server is published on.
func (l *Launcher) Addr() string {
	return net.JoinHostPort(l.cfg.Host, l.cfg.HostPort.String())
}

// ContainerID returns the running container, or "" before start.
func (l *Launcher) ContainerID() container.ContainerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Launch starts the container and blocks until ctx is cancelled, the
// container exits, or readiness fails. The container is always stopped and
// removed before Launch returns. Cancellation of ctx after the server became
// ready is a clean shutdown and returns nil.
func (l *Launcher) Launch(ctx context.Context) (err error) {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return ErrAlreadyLaunched
	}
	defer func() {
		if err != nil {
			l.state.Store(int32(StateFailed))
			return
		}
		l.state.Store(int32(StateStopped))
	}()

	name := namePrefix + uuid.NewString()
	l.logger.Info("starting container", "image", l.cfg.Image, "name", name, "port", l.mapping())
	id, err := l.engine.Start(ctx, container.RunOptions{
		Image: l.cfg.Image,
		Name:  name,
		Ports: []container.PortMapping{l.mapping()},
	})
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.id = id
	l.mu.Unlock()

	defer func() {
		if serr := l.shutdown(context.WithoutCancel(ctx), id); serr != nil && err == nil {
			err = serr
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lerr := l.engine.Logs(gctx, id, true, l.cfg.Stdout, l.cfg.Stderr)
		if gctx.Err() != nil {
			return nil
		}
		if lerr != nil {
			return lerr
		}
		return fmt.Errorf("%w: %s", ErrContainerExited, id.Short())
	})

	g.Go(func() error {
		if perr := l.WaitReady(gctx); perr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return perr
		}
		if verr := l.VerifyBindings(gctx); verr != nil {
			return verr
		}
		l.state.Store(int32(StateReady))
		close(l.readyCh)
		l.logger.Info("server ready", "addr", l.Addr(), "container", id.Short())
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// WaitReady waits until the published port accepts connections and, when a
// ready path is set, answers HTTP with a non-5xx status.
func (l *Launcher) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	// Enough attempts to keep probing until the timeout ends the retries.
	maxAttempts := int(l.cfg.ReadyTimeout/l.pollBackoff) + 2
	err := container.RetryWithCappedBackoff(ctx, maxAttempts, l.pollBackoff, l.pollMaxBackoff, func(attempt int) (bool, error) {
		perr := l.checkReady(ctx)
		if perr != nil {
			l.logger.Debug("readiness check", "attempt", attempt+1, "error", perr)
			return ctx.Err() == nil, perr
		}
		return false, nil
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("wait for server readiness").
			WithResource(l.Addr()).
			WithIssue(issue.LaunchFailedId).
			WithSuggestion("Check the container logs above for a startup error").
			Wrap(fmt.Errorf("%w after %s: %w", ErrNotReady, l.cfg.ReadyTimeout, err)).
			BuildError()
	}
	return nil
}

func (l *Launcher) checkReady(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", l.Addr())
	if err != nil {
		return err
	}
	_ = conn.Close()

	if l.cfg.ReadyPath == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+l.Addr()+l.cfg.ReadyPath, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("GET %s: status %d", l.cfg.ReadyPath, resp.StatusCode)
	}
	return nil
}

// VerifyBindings checks that the container publishes exactly the contract
// port and nothing else.
func (l *Launcher) VerifyBindings(ctx context.Context) error {
	id := l.ContainerID()
	published, err := l.engine.Port(ctx, id)
	if err != nil {
		return fmt.Errorf("list published ports: %w", err)
	}
	if err := CheckBindings(published, l.cfg.ContainerPort); err != nil {
		return issue.NewErrorContext().
			WithOperation("verify published ports").
			WithResource(id.Short()).
			WithIssue(issue.PortContractViolatedId).
			Wrap(err).
			BuildError()
	}
	return nil
}

// CheckBindings reports whether published holds one distinct container port,
// port/tcp. Docker lists one entry per host address family, so IPv4 and IPv6
// bindings of the same port count once.
func CheckBindings(published []container.PublishedPort, port container.NetworkPort) error {
	want := strconv.Itoa(int(port)) + "/" + string(container.PortProtocolTCP)
	seen := make(map[string]bool)
	for _, p := range published {
		seen[p.Key()] = true
	}
	if len(seen) != 1 || !seen[want] {
		return &PortContractError{Want: want, Published: published}
	}
	return nil
}

func (l *Launcher) mapping() container.PortMapping {
	return container.PortMapping{
		HostPort:      l.cfg.HostPort,
		ContainerPort: l.cfg.ContainerPort,
		Protocol:      container.PortProtocolTCP,
	}
}

// shutdown stops and removes the container. Transient engine errors on stop
// are retried.
func (l *Launcher) shutdown(ctx context.Context, id container.ContainerID) error {
	l.state.Store(int32(StateStopping))
	l.logger.Info("stopping container", "container", id.Short(), "grace", l.cfg.StopTimeout)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.StopTimeout+30*time.Second)
	defer cancel()

	stopErr := container.RetryWithBackoff(ctx, 3, 500*time.Millisecond, func(int) (bool, error) {
		err := l.engine.Stop(ctx, id, l.cfg.StopTimeout)
		return container.IsTransientError(err), err
	})
	if stopErr != nil {
		l.logger.Warn("stop failed, forcing removal", "container", id.Short(), "error", stopErr)
	}
	if err := l.engine.Remove(ctx, id, true); err != nil {
		return fmt.Errorf("remove container %s: %w", id.Short(), err)
	}
	l.logger.Info("container removed", "container", id.Short())
	return nil
}
