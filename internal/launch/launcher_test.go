// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/issue"
)

// fakeEngine pretends the container publishes whatever port the test server
// listens on.
type fakeEngine struct {
	mu sync.Mutex

	exitEarly bool
	published []container.PublishedPort
	stopErrs  []error

	starts  []container.RunOptions
	stops   int
	removed []container.ContainerID
}

var _ container.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Name() string                            { return "fake" }
func (f *fakeEngine) Available() bool                         { return true }
func (f *fakeEngine) Version(context.Context) (string, error) { return "1.0", nil }

func (f *fakeEngine) Build(context.Context, container.BuildOptions) error { return nil }

func (f *fakeEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}

func (f *fakeEngine) Start(_ context.Context, opts container.RunOptions) (container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, opts)
	return "0123456789abcdef0123", nil
}

func (f *fakeEngine) Stop(context.Context, container.ContainerID, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if len(f.stopErrs) > 0 {
		err := f.stopErrs[0]
		f.stopErrs = f.stopErrs[1:]
		return err
	}
	return nil
}

func (f *fakeEngine) Logs(ctx context.Context, _ container.ContainerID, _ bool, stdout, _ io.Writer) error {
	_, _ = io.WriteString(stdout, "INFO:     Uvicorn running on http://0.0.0.0:8000\n")
	if f.exitEarly {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEngine) Port(context.Context, container.ContainerID) ([]container.PublishedPort, error) {
	return f.published, nil
}

func (f *fakeEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, container.ImageTag) (bool, error) { return true, nil }

func (f *fakeEngine) InspectImage(context.Context, container.ImageTag) (*container.ImageInfo, error) {
	return &container.ImageInfo{}, nil
}

func (f *fakeEngine) RemoveImage(context.Context, container.ImageTag, bool) error { return nil }

func (f *fakeEngine) Save(context.Context, container.ImageTag, string) error { return nil }

func contractPorts() []container.PublishedPort {
	return []container.PublishedPort{
		{ContainerPort: 8000, Protocol: container.PortProtocolTCP, HostIP: "0.0.0.0", HostPort: 8000},
		{ContainerPort: 8000, Protocol: container.PortProtocolTCP, HostIP: "::", HostPort: 8000},
	}
}

func serverPort(t *testing.T, srv *httptest.Server) container.NetworkPort {
	t.Helper()
	addr, ok := srv.Listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address %v", srv.Listener.Addr())
	}
	return container.NetworkPort(addr.Port)
}

func newTestLauncher(t *testing.T, eng *fakeEngine, handler http.HandlerFunc, stdout io.Writer) *Launcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("gateway:dev")
	cfg.HostPort = serverPort(t, srv)
	cfg.ReadyTimeout = 5 * time.Second
	cfg.StopTimeout = time.Second
	cfg.Stdout = stdout
	return New(eng, cfg)
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestLaunchReadyThenShutdown(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{published: contractPorts()}
	logs := &syncBuffer{}
	l := newTestLauncher(t, eng, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}, logs)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- l.Launch(ctx) }()

	select {
	case <-l.Ready():
	case err := <-done:
		t.Fatalf("Launch() returned before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server never became ready")
	}
	if l.State() != StateReady {
		t.Errorf("State() = %s, want ready", l.State())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Launch() = %v, want nil on cancellation", err)
	}

	if l.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", l.State())
	}
	start := eng.starts[0]
	if len(start.Command) != 0 {
		t.Errorf("container started with command override %q", start.Command)
	}
	if !strings.HasPrefix(start.Name, namePrefix) {
		t.Errorf("container name = %q", start.Name)
	}
	wantPorts := []container.PortMapping{{HostPort: l.cfg.HostPort, ContainerPort: 8000, Protocol: container.PortProtocolTCP}}
	if diff := cmp.Diff(wantPorts, start.Ports); diff != "" {
		t.Errorf("port mappings mismatch (-want +got):\n%s", diff)
	}
	if eng.stops != 1 || len(eng.removed) != 1 {
		t.Errorf("stops = %d, removed = %v, want one of each", eng.stops, eng.removed)
	}
	if !strings.Contains(logs.String(), "Uvicorn running") {
		t.Errorf("container logs not streamed, got %q", logs.String())
	}

	if err := l.Launch(t.Context()); !errors.Is(err, ErrAlreadyLaunched) {
		t.Errorf("second Launch() = %v, want ErrAlreadyLaunched", err)
	}
}

func TestLaunchContainerExitsEarly(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{exitEarly: true, published: contractPorts()}
	// The readiness check never succeeds so the early exit decides the outcome.
	l := newTestLauncher(t, eng, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, io.Discard)

	err := l.Launch(t.Context())
	if !errors.Is(err, ErrContainerExited) {
		t.Fatalf("Launch() = %v, want ErrContainerExited", err)
	}
	if l.State() != StateFailed {
		t.Errorf("State() = %s, want failed", l.State())
	}
	if len(eng.removed) != 1 {
		t.Errorf("container not removed after early exit")
	}
}

func TestLaunchPortContractViolation(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{published: append(contractPorts(), container.PublishedPort{
		ContainerPort: 9000, Protocol: container.PortProtocolTCP, HostIP: "0.0.0.0", HostPort: 9000,
	})}
	l := newTestLauncher(t, eng, func(w http.ResponseWriter, _ *http.Request) {}, io.Discard)

	err := l.Launch(t.Context())
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.PortContractViolatedId {
		t.Fatalf("Launch() = %v, want port contract violation", err)
	}
	if !errors.Is(err, ErrPortContract) {
		t.Errorf("error does not wrap ErrPortContract: %v", err)
	}
}

func TestShutdownRetriesTransientStop(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		published: contractPorts(),
		stopErrs:  []error{errors.New("connection refused")},
	}
	l := New(eng, DefaultConfig("gateway:dev"))
	if err := l.shutdown(t.Context(), "0123456789abcdef0123"); err != nil {
		t.Fatalf("shutdown() = %v", err)
	}
	if eng.stops != 2 {
		t.Errorf("stops = %d, want a retry after the transient error", eng.stops)
	}
}

func TestCheckBindings(t *testing.T) {
	t.Parallel()

	tcp := container.PortProtocolTCP
	tests := []struct {
		name    string
		ports   []container.PublishedPort
		wantErr bool
	}{
		{"contract", contractPorts(), false},
		{"single family", contractPorts()[:1], false},
		{"none", nil, true},
		{"wrong port", []container.PublishedPort{{ContainerPort: 8080, Protocol: tcp}}, true},
		{"udp", []container.PublishedPort{{ContainerPort: 8000, Protocol: container.PortProtocolUDP}}, true},
		{"extra", append(contractPorts(), container.PublishedPort{ContainerPort: 22, Protocol: tcp}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckBindings(tt.ports, 8000)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckBindings() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrPortContract) {
				t.Errorf("error does not wrap ErrPortContract: %v", err)
			}
		})
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	t.Parallel()

	// A listener that is closed immediately leaves a port nothing answers on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := DefaultConfig("gateway:dev")
	cfg.HostPort = container.NetworkPort(port)
	cfg.ReadyTimeout = 300 * time.Millisecond
	l := New(&fakeEngine{}, cfg)

	if err := l.WaitReady(t.Context()); !errors.Is(err, ErrNotReady) {
		t.Errorf("WaitReady() = %v, want ErrNotReady", err)
	}
}

func TestWaitReadySeesLateServer(t *testing.T) {
	t.Parallel()

	const readyAfter = time.Second
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if time.Since(start) < readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig("gateway:dev")
	cfg.HostPort = serverPort(t, srv)
	cfg.ReadyTimeout = 10 * time.Second
	// Uncapped doubling from 10ms would next poll at about 2.5s.
	l := New(&fakeEngine{}, cfg, WithPollBackoff(10*time.Millisecond, 100*time.Millisecond))

	if err := l.WaitReady(t.Context()); err != nil {
		t.Fatalf("WaitReady() = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("WaitReady() saw the server after %s, want within the backoff cap of %s", elapsed, readyAfter)
	}
}
