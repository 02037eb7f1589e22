// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage imagewright configuration",
		Long: `Manage imagewright configuration.

Configuration is read from $XDG_CONFIG_HOME/imagewright/config.cue (or the
platform config directory) and overridden by IMAGEWRIGHT_* environment
variables, e.g. IMAGEWRIGHT_LAUNCH_HOST_PORT=9000.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{ConfigFilePath: app.configPath})
			if err != nil {
				return app.fail(err, app.verbose)
			}
			return showConfig(cmd.OutOrStdout(), cfg, path)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig()
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Created"), path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SubtitleStyle.Render("Already exists:"), path)
			}
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config, path string) error {
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path == "" {
		fmt.Fprintf(w, "%s: %s\n", CmdStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", CmdStyle.Render("Config file"), path)
	}
	if dir, err := config.LedgerDir(cfg); err == nil {
		fmt.Fprintf(w, "%s: %s\n", CmdStyle.Render("Ledger"), dir)
	}
	fmt.Fprintln(w)
	_, err := io.WriteString(w, config.GenerateCUE(cfg))
	return err
}
