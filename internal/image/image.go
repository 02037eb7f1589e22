// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/imagewright/imagewright/pkg/recipe"
)

// ErrVerificationFailed is the sentinel wrapped by VerificationError.
var ErrVerificationFailed = errors.New("image does not match recipe")

type (
	// Metadata is the runtime configuration and layer list of an image.
	Metadata struct {
		Digest       string
		ConfigDigest string
		Env          map[string]string
		WorkingDir   string
		ExposedPorts []string
		Cmd          []string
		Entrypoint   []string
		Layers       []string
	}

	// VerificationError lists every way an image deviates from its recipe.
	VerificationError struct {
		Problems []string
	}
)

func (e *VerificationError) Error() string {
	return "image does not match recipe: " + strings.Join(e.Problems, "; ")
}

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }

// Load reads the single image in an engine-saved tarball.
func Load(path string) (v1.Image, error) {
	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return nil, fmt.Errorf("load image tarball %s: %w", path, err)
	}
	return img, nil
}

// Inspect extracts Metadata from img.
func Inspect(img v1.Image) (*Metadata, error) {
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("image digest: %w", err)
	}
	configDigest, err := img.ConfigName()
	if err != nil {
		return nil, fmt.Errorf("image config digest: %w", err)
	}
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("image config: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("image layers: %w", err)
	}

	md := &Metadata{
		Digest:       digest.String(),
		ConfigDigest: configDigest.String(),
		Env:          make(map[string]string, len(cf.Config.Env)),
		WorkingDir:   cf.Config.WorkingDir,
		ExposedPorts: slices.Sorted(maps.Keys(cf.Config.ExposedPorts)),
		Cmd:          cf.Config.Cmd,
		Entrypoint:   cf.Config.Entrypoint,
	}
	for _, kv := range cf.Config.Env {
		k, v, _ := strings.Cut(kv, "=")
		md.Env[k] = v
	}
	for _, l := range layers {
		d, err := l.Digest()
		if err != nil {
			return nil, fmt.Errorf("layer digest: %w", err)
		}
		md.Layers = append(md.Layers, d.String())
	}
	return md, nil
}

// Verify checks that md carries the recipe's environment, working directory,
// single exposed port and exact launch command, with no entrypoint wrapping it.
func Verify(md *Metadata, r *recipe.Recipe) error {
	var problems []string

	for _, e := range r.Env {
		got, ok := md.Env[e.Name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("env %s is not set", e.Name))
		case got != e.Value:
			problems = append(problems, fmt.Sprintf("env %s=%q, want %q", e.Name, got, e.Value))
		}
	}

	if md.WorkingDir != r.WorkDir {
		problems = append(problems, fmt.Sprintf("working directory %q, want %q", md.WorkingDir, r.WorkDir))
	}

	wantPort := fmt.Sprintf("%d/tcp", r.Port)
	if len(md.ExposedPorts) != 1 || md.ExposedPorts[0] != wantPort {
		problems = append(problems, fmt.Sprintf("exposed ports %v, want exactly [%s]", md.ExposedPorts, wantPort))
	}

	if want := r.Server.Argv(); !slices.Equal(md.Cmd, want) {
		problems = append(problems, fmt.Sprintf("command %q, want %q", md.Cmd, want))
	}
	if len(md.Entrypoint) > 0 {
		problems = append(problems, fmt.Sprintf("entrypoint %q would wrap the command", md.Entrypoint))
	}

	if len(problems) > 0 {
		return &VerificationError{Problems: problems}
	}
	return nil
}

// Export writes img under every tag to a docker-compatible tarball.
func Export(img v1.Image, path string, tags []string) error {
	if len(tags) == 0 {
		return errors.New("export: at least one tag is required")
	}
	m := make(map[string]v1.Image, len(tags))
	for _, tag := range tags {
		if _, err := name.NewTag(tag); err != nil {
			return fmt.Errorf("export: invalid tag %q: %w", tag, err)
		}
		m[tag] = img
	}
	if err := crane.MultiSave(m, path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

// Push uploads img to ref and returns the pushed digest reference.
func Push(ctx context.Context, img v1.Image, ref string, opts ...crane.Option) (string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("push: invalid reference %q: %w", ref, err)
	}
	opts = append(opts, crane.WithContext(ctx))
	if err := crane.Push(img, ref, opts...); err != nil {
		return "", fmt.Errorf("push %s: %w", ref, err)
	}
	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("push: image digest: %w", err)
	}
	return parsed.Context().Digest(digest.String()).String(), nil
}
