// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/imagewright/imagewright/internal/buildctx"
	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/image"
	"github.com/imagewright/imagewright/internal/issue"
	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/internal/manifest"
	"github.com/imagewright/imagewright/pkg/recipe"
)

// BuildTagRepository is the repository of the key-derived tag every build gets.
const BuildTagRepository = "imagewright-build"

// ErrNoEngine is returned when a Builder has no container engine.
var ErrNoEngine = errors.New("no container engine configured")

type (
	// Options configure a build.
	Options struct {
		// SourceDir is the build context root.
		SourceDir string
		// Tag is the user-facing image tag.
		Tag string
		// NoCache disables the engine layer cache.
		NoCache bool
		// Freeze records the installed package set in the ledger.
		Freeze bool
		// Output, when set, receives a docker-archive tarball of the image.
		Output string
		// TempDir is where the build context is staged; empty means os.TempDir.
		TempDir string
	}

	// BuilderOption configures a Builder.
	BuilderOption func(*Builder)

	// Builder runs builds against one engine.
	Builder struct {
		engine   container.Engine
		recipe   *recipe.Recipe
		store    *ledger.Store
		resolver image.DigestResolver
		logger   *log.Logger
		buildLog io.Writer
		now      func() time.Time
	}

	// Result is a successful build.
	Result struct {
		Plan     *Plan
		Record   *ledger.Record
		Metadata *image.Metadata
	}
)

// WithRecipe sets the recipe; the default recipe is used otherwise.
func WithRecipe(r *recipe.Recipe) BuilderOption {
	return func(b *Builder) { b.recipe = r }
}

// WithLedger sets the store that receives build records.
func WithLedger(s *ledger.Store) BuilderOption {
	return func(b *Builder) { b.store = s }
}

// WithResolver sets the base image digest resolver.
func WithResolver(r image.DigestResolver) BuilderOption {
	return func(b *Builder) { b.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithBuildLog copies raw engine output to w.
func WithBuildLog(w io.Writer) BuilderOption {
	return func(b *Builder) { b.buildLog = w }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder.
func NewBuilder(engine container.Engine, opts ...BuilderOption) *Builder {
	b := &Builder{
		engine:   engine,
		recipe:   recipe.Default(),
		logger:   log.New(io.Discard),
		buildLog: io.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildTag is the key-derived tag for a plan.
func BuildTag(p *Plan) container.ImageTag {
	return container.ImageTag(BuildTagRepository + ":" + p.ShortKey())
}

// Plan computes the key chain for the source tree without building.
func (b *Builder) Plan(ctx context.Context, sourceDir string) (*Plan, error) {
	if err := b.recipe.Validate(); err != nil {
		return nil, recipeError(err)
	}
	m, err := buildctx.LoadManifest(sourceDir)
	if err != nil {
		return nil, manifestError(sourceDir, err)
	}
	sourceDigest, err := buildctx.CalculateDirHash(sourceDir)
	if err != nil {
		return nil, err
	}
	base, _ := image.Identity(ctx, b.resolver, b.recipe.BaseImage)
	return NewPlan(b.recipe, Inputs{
		BaseIdentity:   base,
		ManifestDigest: m.Digest(),
		SourceDigest:   sourceDigest,
	}), nil
}

// Build runs the whole pipeline. Any failure aborts the build; nothing is
// retried and no ledger record is written.
func (b *Builder) Build(ctx context.Context, opts Options) (*Result, error) {
	if b.engine == nil {
		return nil, ErrNoEngine
	}
	if opts.Tag != "" {
		if err := container.ImageTag(opts.Tag).Validate(); err != nil {
			return nil, err
		}
	}
	if err := b.recipe.Validate(); err != nil {
		return nil, recipeError(err)
	}

	// The manifest is checked before anything else touches the source tree.
	m, err := buildctx.LoadManifest(opts.SourceDir)
	if err != nil {
		return nil, manifestError(opts.SourceDir, err)
	}
	b.logger.Info("manifest loaded", "requirements", len(m.Requirements), "digest", m.Digest()[:12])

	base, resolved := image.Identity(ctx, b.resolver, b.recipe.BaseImage)
	if resolved {
		b.logger.Info("base image resolved", "image", b.recipe.BaseImage, "identity", base)
	} else {
		b.logger.Warn("base image digest unavailable, keying by reference", "image", b.recipe.BaseImage)
	}

	bctx, err := buildctx.Prepare(buildctx.Options{
		SourceDir: opts.SourceDir,
		Recipe:    b.recipe,
		TempDir:   opts.TempDir,
	})
	if err != nil {
		return nil, manifestError(opts.SourceDir, err)
	}
	defer func() {
		if cerr := bctx.Cleanup(); cerr != nil {
			b.logger.Warn("build context cleanup failed", "dir", bctx.Root, "error", cerr)
		}
	}()

	plan := NewPlan(b.recipe, Inputs{
		BaseIdentity:   base,
		ManifestDigest: bctx.ManifestDigest,
		SourceDigest:   bctx.SourceDigest,
	})
	b.logPlan(plan)

	buildTag := BuildTag(plan)
	tags := []container.ImageTag{buildTag}
	if opts.Tag != "" {
		tags = append(tags, container.ImageTag(opts.Tag))
	}

	tracker := NewTracker(func(from, to recipe.Stage) {
		b.logger.Info("stage reached", "stage", to)
	})
	progress := newProgressWriter(tracker, plan.Steps)
	out := io.MultiWriter(progress, b.buildLog)

	b.logger.Info("building image", "engine", b.engine.Name(), "tag", buildTag)
	if err := b.engine.Build(ctx, container.BuildOptions{
		ContextDir: bctx.Dir,
		Dockerfile: bctx.Dockerfile,
		Tags:       tags,
		NoCache:    opts.NoCache,
		Stdout:     out,
		Stderr:     out,
	}); err != nil {
		b.logger.Error("build failed", "stage", tracker.Current(), "error", err)
		return nil, err
	}
	if err := progress.Err(); err != nil {
		b.logger.Warn("engine output out of order", "error", err)
	}
	res, err := b.finish(ctx, opts, tracker, plan, tags, bctx)
	if err != nil {
		// A build that does not complete leaves no tagged image behind.
		b.untag(tags)
		return nil, err
	}
	return res, nil
}

// finish runs every step after the engine build: verification, package
// collection, export and the ledger record.
func (b *Builder) finish(ctx context.Context, opts Options, tracker *Tracker, plan *Plan, tags []container.ImageTag, bctx *buildctx.Context) (*Result, error) {
	buildTag := tags[0]
	if err := tracker.AdvanceTo(recipe.StageEntrypointDefined); err != nil {
		return nil, err
	}

	md, img, err := b.verify(ctx, buildTag, bctx.Root)
	if err != nil {
		return nil, err
	}

	info, err := b.engine.InspectImage(ctx, buildTag)
	if err != nil {
		return nil, fmt.Errorf("inspect built image: %w", err)
	}

	rec := &ledger.Record{
		Tag:            string(tags[len(tags)-1]),
		ImageID:        info.ID,
		Digest:         md.Digest,
		BuiltAt:        b.now().UTC(),
		BaseIdentity:   plan.Inputs.BaseIdentity,
		ManifestDigest: bctx.ManifestDigest,
		SourceDigest:   bctx.SourceDigest,
		Layers:         plan.Layers(),
	}

	if opts.Freeze {
		pkgs, err := b.freeze(ctx, buildTag)
		if err != nil {
			return nil, err
		}
		rec.Packages = pkgs
		b.logger.Info("package set recorded", "packages", len(pkgs))
	}

	if opts.Output != "" {
		if err := image.Export(img, opts.Output, exportTags(tags)); err != nil {
			_ = os.Remove(opts.Output)
			return nil, err
		}
		b.logger.Info("image exported", "path", opts.Output)
	}

	if b.store != nil {
		if err := b.store.Save(rec); err != nil {
			if opts.Output != "" {
				_ = os.Remove(opts.Output)
			}
			return nil, err
		}
	}

	b.logger.Info("build complete", "tag", rec.Tag, "key", plan.ShortKey(), "image", container.ContainerID(strings.TrimPrefix(info.ID, "sha256:")).Short())
	return &Result{Plan: plan, Record: rec, Metadata: md}, nil
}

// Verify saves tag through the engine and checks it against the recipe.
func (b *Builder) Verify(ctx context.Context, tag container.ImageTag) (*image.Metadata, error) {
	dir, err := os.MkdirTemp("", "imagewright-verify-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	md, _, err := b.verify(ctx, tag, dir)
	return md, err
}

func (b *Builder) verify(ctx context.Context, tag container.ImageTag, dir string) (*image.Metadata, v1.Image, error) {
	path := filepath.Join(dir, "image.tar")
	if err := b.engine.Save(ctx, tag, path); err != nil {
		return nil, nil, err
	}
	img, err := image.Load(path)
	if err != nil {
		return nil, nil, err
	}
	md, err := image.Inspect(img)
	if err != nil {
		return nil, nil, err
	}
	if err := image.Verify(md, b.recipe); err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("verify built image").
			WithResource(string(tag)).
			WithIssue(issue.ImageVerificationFailedId).
			WithSuggestion("Check imagewright.cue for an entrypoint, port or env override").
			Wrap(err).
			BuildError()
	}
	b.logger.Info("image verified", "digest", md.Digest, "layers", len(md.Layers))
	return md, img, nil
}

// freeze lists the packages installed in the image with pip.
func (b *Builder) freeze(ctx context.Context, tag container.ImageTag) ([]string, error) {
	var stdout, stderr bytes.Buffer
	res, err := b.engine.Run(ctx, container.RunOptions{
		Image:   tag,
		Command: []string{"pip", "freeze", "--all"},
		Remove:  true,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("collect installed packages: %w", err)
	}
	if res.Error != nil || res.ExitCode != 0 {
		return nil, fmt.Errorf("collect installed packages: pip freeze exited %d: %s",
			res.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return ParseFreeze(stdout.String()), nil
}

// ParseFreeze normalizes "pip freeze" output into a sorted package list.
func ParseFreeze(out string) []string {
	var pkgs []string
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		if ok {
			line = manifest.Normalize(name) + "==" + version
		}
		pkgs = append(pkgs, line)
	}
	slices.Sort(pkgs)
	return slices.Compact(pkgs)
}

func (b *Builder) untag(tags []container.ImageTag) {
	for _, t := range tags {
		// Failures leave a stale tag only.
		if err := b.engine.RemoveImage(context.Background(), t, false); err != nil {
			b.logger.Warn("failed to remove tag", "tag", t, "error", err)
		}
	}
}

func (b *Builder) logPlan(p *Plan) {
	for _, s := range p.Steps {
		b.logger.Debug("layer key", "step", s.Index, "stage", s.Instruction.Stage, "key", s.Key[:12])
	}
}

func exportTags(tags []container.ImageTag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, string(t))
	}
	return out
}

func recipeError(err error) error {
	return issue.NewErrorContext().
		WithOperation("validate recipe").
		WithResource(recipe.FileName).
		WithIssue(issue.RecipeInvalidId).
		Wrap(err).
		BuildError()
}

func manifestError(sourceDir string, err error) error {
	path := filepath.Join(sourceDir, recipe.ManifestPath)
	switch {
	case errors.Is(err, manifest.ErrManifestNotFound):
		return issue.NewErrorContext().
			WithOperation("read dependency manifest").
			WithResource(path).
			WithIssue(issue.ManifestNotFoundId).
			WithSuggestion("Create " + recipe.ManifestPath + " at the build context root").
			Wrap(err).
			BuildError()
	case errors.Is(err, manifest.ErrCorruptManifest):
		return issue.NewErrorContext().
			WithOperation("parse dependency manifest").
			WithResource(path).
			WithIssue(issue.ManifestCorruptId).
			WithSuggestion("Fix the reported line; nested -r/-c files and -e installs are not supported").
			Wrap(err).
			BuildError()
	default:
		return err
	}
}
