// SPDX-License-Identifier: MPL-2.0

package buildctx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imagewright/imagewright/internal/manifest"
	"github.com/imagewright/imagewright/pkg/recipe"
)

// DockerfileName is the rendered Dockerfile, written beside the context directory.
const DockerfileName = "Dockerfile"

// ErrNoSourceDir is returned when Options.SourceDir is empty.
var ErrNoSourceDir = errors.New("source directory is required")

type (
	// Options configures Prepare.
	Options struct {
		// SourceDir is the application tree; the manifest sits at its root.
		SourceDir string
		// Recipe renders the Dockerfile.
		Recipe *recipe.Recipe
		// TempDir is the parent for the prepared directory; empty means os.TempDir.
		TempDir string
	}

	// Context is a prepared build context on disk.
	Context struct {
		// Root holds Dir and the Dockerfile; Cleanup removes it.
		Root string
		// Dir is the build context directory passed to the engine.
		Dir string
		// Dockerfile is the absolute path to the rendered Dockerfile.
		Dockerfile string
		// Manifest is the validated dependency manifest.
		Manifest *manifest.Manifest
		// ManifestDigest is the manifest content hash.
		ManifestDigest string
		// SourceDigest is the content hash of the whole source tree.
		SourceDigest string
	}
)

// LoadManifest loads and validates the manifest at its fixed path under dir.
func LoadManifest(dir string) (*manifest.Manifest, error) {
	return manifest.Load(filepath.Join(dir, recipe.ManifestPath))
}

// Prepare validates the manifest, then copies the source tree and writes the
// Dockerfile. On a missing or corrupt manifest nothing is created on disk.
func Prepare(opts Options) (_ *Context, err error) {
	if opts.SourceDir == "" {
		return nil, ErrNoSourceDir
	}
	r := opts.Recipe
	if r == nil {
		r = recipe.Default()
	}

	m, err := LoadManifest(opts.SourceDir)
	if err != nil {
		return nil, err
	}

	sourceDigest, err := CalculateDirHash(opts.SourceDir)
	if err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp(opts.TempDir, "imagewright-ctx-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	c := &Context{
		Root:           root,
		Dir:            filepath.Join(root, "context"),
		Dockerfile:     filepath.Join(root, DockerfileName),
		Manifest:       m,
		ManifestDigest: m.Digest(),
		SourceDigest:   sourceDigest,
	}
	defer func() {
		if err != nil {
			_ = c.Cleanup()
		}
	}()

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	if err := CopyDir(opts.SourceDir, c.Dir); err != nil {
		return nil, fmt.Errorf("failed to copy source: %w", err)
	}
	// The copied manifest, possibly a symlink, is replaced by the validated bytes.
	manifestPath := filepath.Join(c.Dir, recipe.ManifestPath)
	if err := os.Remove(manifestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to replace manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, m.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.WriteFile(c.Dockerfile, []byte(r.Dockerfile()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	return c, nil
}

// Cleanup removes the prepared directory.
func (c *Context) Cleanup() error {
	if c == nil || c.Root == "" {
		return nil
	}
	return os.RemoveAll(c.Root)
}
