// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imagewright",
		Short: "Build and run Python ASGI server images",
		Long: TitleStyle.Render("imagewright") + SubtitleStyle.Render(" - Build and run Python ASGI server images") + `

imagewright turns a source tree with a requirements.txt into a container image
that serves app.main:app with uvicorn on port 8000. The dependency layers are
keyed by the manifest alone, so source edits never reinstall dependencies.

` + SubtitleStyle.Render("Examples:") + `
  imagewright build . --tag gateway:dev     Build the current directory
  imagewright plan .                        Show which layers a build would reuse
  imagewright run gateway:dev               Start the server on localhost:8000
  imagewright render                        Print the Dockerfile`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/imagewright/config.cue)")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newRunCommand(app),
		newRenderCommand(app),
		newPlanCommand(app),
		newVerifyCommand(app),
		newPushCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
