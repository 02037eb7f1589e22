// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paths []string
		want  Change
	}{
		{
			name:  "source only",
			paths: []string{"app/main.py"},
			want:  Change{Paths: []string{"app/main.py"}},
		},
		{
			name:  "manifest",
			paths: []string{"app/main.py", "requirements.txt"},
			want:  Change{Paths: []string{"app/main.py", "requirements.txt"}, Manifest: true},
		},
		{
			name:  "recipe",
			paths: []string{"imagewright.cue"},
			want:  Change{Paths: []string{"imagewright.cue"}, Recipe: true},
		},
		{
			name:  "nested file named like the manifest",
			paths: []string{"docs/requirements.txt"},
			want:  Change{Paths: []string{"docs/requirements.txt"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, Classify(tt.paths)); diff != "" {
				t.Errorf("Classify() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIgnored(t *testing.T) {
	t.Parallel()

	w := &Watcher{ignores: append(defaultIgnores, "notes/**")}
	tests := []struct {
		rel  string
		want bool
	}{
		{".git/HEAD", true},
		{"app/__pycache__/main.cpython-311.pyc", true},
		{".venv/bin/python", true},
		{"app/main.py~", true},
		{"notes/todo.md", true},
		{"app/main.py", false},
		{"requirements.txt", false},
		{"imagewright.cue", false},
	}
	for _, tt := range tests {
		if got := w.ignored(tt.rel); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(file, []byte("fastapi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(Config{ContextDir: file}); err == nil {
		t.Error("New() accepted a file as the context")
	}
	if _, err := New(Config{ContextDir: dir, Ignore: []string{"[unclosed"}}); err == nil {
		t.Error("New() accepted an invalid ignore pattern")
	}
}

func TestRunReportsDebouncedChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "app"), 0o755); err != nil {
		t.Fatal(err)
	}

	changes := make(chan Change, 4)
	w, err := New(Config{
		ContextDir: dir,
		Debounce:   100 * time.Millisecond,
		OnChange: func(_ context.Context, c Change) error {
			changes <- c
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	for _, name := range []string{"app/main.py", "requirements.txt", "app/__pycache__.pyc"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case c := <-changes:
		if !c.Manifest {
			t.Errorf("change %+v does not mark the manifest", c)
		}
		for _, p := range c.Paths {
			if p != "app/main.py" && p != "requirements.txt" {
				t.Errorf("unexpected path %q in %v", p, c.Paths)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if err := w.Run(t.Context()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}
