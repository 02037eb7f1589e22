// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/internal/pipeline"
	"github.com/imagewright/imagewright/internal/watch"
)

type buildFlags struct {
	tag     string
	recipe  string
	noCache bool
	freeze  bool
	output  string
	watch   bool
}

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build [context]",
		Short: "Build a server image from a source tree",
		Long: `Build a server image from a source tree (default: the current directory).

The manifest requirements.txt is read and validated first; a missing or
malformed manifest stops the build before anything is copied. Any failing
step aborts the build and no build record is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextDir := "."
			if len(args) == 1 {
				contextDir = args[0]
			}
			if flags.watch {
				return watchBuild(cmd, app, contextDir, flags)
			}
			return runBuild(cmd, app, contextDir, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.tag, "tag", "t", "", "image tag (default from config build.tag)")
	cmd.Flags().StringVar(&flags.recipe, "recipe", "", "recipe file (default <context>/imagewright.cue)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "do not use the engine layer cache")
	cmd.Flags().BoolVar(&flags.freeze, "freeze", false, "record the installed package set")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "also save the image as a docker-archive tarball")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "rebuild whenever the context changes, until interrupted")
	return cmd
}

func runBuild(cmd *cobra.Command, app *App, contextDir string, flags buildFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err, app.verbose)
	}
	verbose := app.isVerbose(cfg)

	r, err := loadRecipe(flags.recipe, contextDir)
	if err != nil {
		return app.fail(err, verbose)
	}
	engine, err := app.Engines(cfg.ContainerEngine)
	if err != nil {
		return app.fail(err, verbose)
	}
	store, err := app.ledger(cfg)
	if err != nil {
		return err
	}

	var buildLog io.Writer = io.Discard
	if verbose {
		buildLog = app.stderr
	}
	builder := pipeline.NewBuilder(engine,
		pipeline.WithRecipe(r),
		pipeline.WithLedger(store),
		pipeline.WithResolver(app.Resolver),
		pipeline.WithLogger(app.logger(cfg)),
		pipeline.WithBuildLog(buildLog),
	)

	previous, err := store.Latest()
	if err != nil && !errors.Is(err, ledger.ErrNoRecord) {
		return err
	}

	tag := flags.tag
	if tag == "" {
		tag = cfg.Build.Tag
	}
	res, err := builder.Build(ctx, pipeline.Options{
		SourceDir: contextDir,
		Tag:       tag,
		NoCache:   flags.noCache || cfg.Build.NoCache,
		Freeze:    flags.freeze || cfg.Build.Freeze,
		Output:    flags.output,
	})
	if err != nil {
		return app.fail(err, verbose)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Built"), CmdStyle.Render(res.Record.Tag))
	fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("key:   "), res.Plan.Key())
	if res.Record.Digest != "" {
		fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("digest:"), res.Record.Digest)
	}
	if previous != nil {
		reused := 0
		diffs := res.Plan.Diff(previous)
		for _, d := range diffs {
			if d.Status == pipeline.StepReused {
				reused++
			}
		}
		fmt.Fprintf(out, "  %s %d of %d steps unchanged since the previous build\n", SubtitleStyle.Render("reuse: "), reused, len(diffs))
	}
	if flags.output != "" {
		fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("saved: "), flags.output)
	}
	return nil
}

// watchBuild builds once, then rebuilds after every debounced change to the
// context. Failed builds are reported and watching continues.
func watchBuild(cmd *cobra.Command, app *App, contextDir string, flags buildFlags) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return app.fail(err, app.verbose)
	}
	logger := app.logger(cfg)

	if err := runBuild(cmd, app, contextDir, flags); err != nil {
		logger.Error("build failed", "err", err)
	}

	w, err := watch.New(watch.Config{
		ContextDir: contextDir,
		Logger:     logger,
		OnChange: func(_ context.Context, c watch.Change) error {
			switch {
			case c.Recipe:
				logger.Info("recipe changed, rebuilding", "files", len(c.Paths))
			case c.Manifest:
				logger.Info("manifest changed, reinstalling dependencies", "files", len(c.Paths))
			default:
				logger.Info("source changed, rebuilding", "files", len(c.Paths))
			}
			return runBuild(cmd, app, contextDir, flags)
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", SubtitleStyle.Render("Watching"), contextDir, SubtitleStyle.Render("(Ctrl+C to stop)"))
	return w.Run(ctx)
}
