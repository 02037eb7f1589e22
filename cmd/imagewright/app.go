// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/imagewright/imagewright/internal/config"
	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/image"
	"github.com/imagewright/imagewright/internal/issue"
	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/pkg/recipe"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory returns the container engine for a configured choice.
	EngineFactory func(config.ContainerEngine) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and delegates through it.
	App struct {
		Config   ConfigProvider
		Engines  EngineFactory
		Resolver image.DigestResolver
		stdout   io.Writer
		stderr   io.Writer

		// Persistent flag values, bound by the root command.
		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Engines  EngineFactory
		Resolver image.DigestResolver
		Stdout   io.Writer
		Stderr   io.Writer
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:   deps.Config,
		Engines:  deps.Engines,
		Resolver: deps.Resolver,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Engines == nil {
		app.Engines = newEngine
	}
	if app.Resolver == nil {
		app.Resolver = image.NewResolver(image.WithCraneOptions(crane.WithAuthFromKeychain(authn.DefaultKeychain)))
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

func newEngine(choice config.ContainerEngine) (container.Engine, error) {
	var (
		engine container.Engine
		err    error
	)
	if choice == config.ContainerEngineAuto || choice == "" {
		engine, err = container.AutoDetectEngine()
	} else {
		engine, err = container.NewEngine(container.EngineType(choice))
	}
	if err != nil {
		if errors.Is(err, container.ErrEngineNotAvailable) {
			return nil, issue.NewErrorContext().
				WithOperation("select container engine").
				WithResource(string(choice)).
				WithIssue(issue.ContainerEngineNotFoundId).
				WithSuggestion("Install docker or podman, or set container_engine in config.cue").
				Wrap(err).
				BuildError()
		}
		return nil, err
	}
	return engine, nil
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// logger creates the command logger. --verbose forces debug level.
func (a *App) logger(cfg *config.Config) *log.Logger {
	l := log.NewWithOptions(a.stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "imagewright",
	})
	lvl, err := cfg.UI.LogLevel.Level()
	if err != nil {
		lvl = log.InfoLevel
	}
	if a.verbose || cfg.UI.Verbose {
		lvl = log.DebugLevel
	}
	l.SetLevel(lvl)
	return l
}

func (a *App) isVerbose(cfg *config.Config) bool {
	return a.verbose || (cfg != nil && cfg.UI.Verbose)
}

func (a *App) ledger(cfg *config.Config) (*ledger.Store, error) {
	dir, err := config.LedgerDir(cfg)
	if err != nil {
		return nil, err
	}
	return ledger.NewStore(dir), nil
}

// loadRecipe reads path, or <contextDir>/imagewright.cue when path is empty.
// A missing default recipe file means the built-in recipe.
func loadRecipe(path, contextDir string) (*recipe.Recipe, error) {
	if path != "" {
		r, err := recipe.Load(path)
		if err != nil {
			return nil, recipeLoadError(path, err)
		}
		return r, nil
	}
	path = filepath.Join(contextDir, recipe.FileName)
	r, err := recipe.LoadOrDefault(path)
	if err != nil {
		return nil, recipeLoadError(path, err)
	}
	return r, nil
}

func recipeLoadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load recipe").
		WithResource(path).
		WithIssue(issue.RecipeInvalidId).
		Wrap(err).
		BuildError()
}

// formatErrorForDisplay formats an error for user display. Actionable errors
// show their suggestions; verbose mode adds the error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// fail reports err with its suggestions and, in verbose mode, the catalog
// entry attached to it. The error is returned for fang to print and exit on.
func (a *App) fail(err error, verbose bool) error {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.HasSuggestions() || verbose) {
		_, _ = io.WriteString(a.stderr, WarningStyle.Render(formatErrorForDisplay(err, verbose))+"\n\n")
		if verbose {
			renderIssue(a.stderr, err)
		}
	}
	return err
}

// renderIssue prints the catalog entry attached to err, if any.
func renderIssue(w io.Writer, err error) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue == 0 {
		return
	}
	entry := issue.Get(ae.Issue)
	if entry == nil {
		return
	}
	if rendered, rerr := entry.Render("dark"); rerr == nil {
		_, _ = io.WriteString(w, rendered)
	}
}
