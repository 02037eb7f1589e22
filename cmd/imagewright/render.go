// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenderCommand(app *App) *cobra.Command {
	var recipePath string

	cmd := &cobra.Command{
		Use:   "render [context]",
		Short: "Print the Dockerfile for the recipe",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextDir := "."
			if len(args) == 1 {
				contextDir = args[0]
			}
			r, err := loadRecipe(recipePath, contextDir)
			if err != nil {
				return app.fail(err, app.verbose)
			}
			if err := r.Validate(); err != nil {
				return app.fail(recipeLoadError(recipePath, err), app.verbose)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), r.Dockerfile())
			return err
		},
	}

	cmd.Flags().StringVar(&recipePath, "recipe", "", "recipe file (default <context>/imagewright.cue)")
	return cmd
}
