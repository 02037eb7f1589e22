// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/imagewright/imagewright/pkg/recipe"
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 500 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// defaultIgnores never trigger a rebuild. They are still copied into the
// image; the list only filters events.
var defaultIgnores = []string{
	".git/**",
	"**/__pycache__/**",
	"**/*.pyc",
	".venv/**",
	"**/.pytest_cache/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Change is one debounced batch of edits, paths relative to the context.
	Change struct {
		Paths []string
		// Manifest is set when the dependency manifest changed, which
		// invalidates the dependency layers.
		Manifest bool
		// Recipe is set when the recipe file changed.
		Recipe bool
	}

	// Config configures a Watcher.
	Config struct {
		// ContextDir is the build context root.
		ContextDir string
		// Ignore adds doublestar patterns to the built-in ignores.
		Ignore []string
		// Debounce defaults to DefaultDebounce.
		Debounce time.Duration
		// OnChange runs once per batch. Batches arriving while it runs are
		// held until it returns.
		OnChange func(ctx context.Context, c Change) error
		Logger   *log.Logger
	}

	// Watcher reports changes under a build context. Run may be called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		ignores  []string
		logger   *log.Logger
		debounce time.Duration
		root     string
		started  atomic.Bool
	}
)

// New registers every non-ignored directory under cfg.ContextDir.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.ContextDir)
	if err != nil {
		return nil, fmt.Errorf("resolve context directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat context directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("context %s is not a directory", root)
	}
	for _, pat := range cfg.Ignore {
		if _, err := doublestar.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pat, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  slices.Concat(defaultIgnores, cfg.Ignore),
		logger:   logger,
		debounce: debounce,
		root:     root,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run dispatches debounced batches until ctx is cancelled. It returns nil on
// cancellation and an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		paths := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(paths) == 0 || w.cfg.OnChange == nil {
			return
		}

		c := Classify(paths)
		w.logger.Debug("context changed", "paths", len(c.Paths), "manifest", c.Manifest, "recipe", c.Recipe)
		if err := w.cfg.OnChange(ctx, c); err != nil {
			w.logger.Error("rebuild failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			rel, err := filepath.Rel(w.root, evt.Name)
			if err != nil || w.ignored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(evt.Name); err != nil {
						w.logger.Warn("watch new directory", "path", rel, "err", err)
					}
				}
			}

			mu.Lock()
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watcher failed: %w", err)
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

// Classify marks the manifest and recipe edits in a batch of paths.
func Classify(paths []string) Change {
	c := Change{Paths: paths}
	for _, p := range paths {
		switch p {
		case recipe.ManifestPath:
			c.Manifest = true
		case recipe.FileName:
			c.Recipe = true
		}
	}
	return c
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skip unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if rel != "." && w.ignored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk context: %w", err)
	}
	return nil
}

func (w *Watcher) ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
