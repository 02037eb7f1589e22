// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/internal/pipeline"
)

// ErrNotDeterministic is returned by verify --compare when two builds of the
// same manifest installed different packages.
var ErrNotDeterministic = errors.New("package sets differ between builds")

func newVerifyCommand(app *App) *cobra.Command {
	var (
		recipePath string
		compare    bool
	)

	cmd := &cobra.Command{
		Use:   "verify [image]",
		Short: "Check a built image against its recipe",
		Long: `Save the image through the container engine and check its config: the
environment, the working directory, exactly one exposed port and the exact
server command.

With --compare, the last two build records are compared instead: the installed
package sets must match when the manifest did not change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(err, app.verbose)
			}
			verbose := app.isVerbose(cfg)

			if compare {
				store, err := app.ledger(cfg)
				if err != nil {
					return err
				}
				return compareLastBuilds(cmd.OutOrStdout(), store)
			}
			if len(args) != 1 {
				return errors.New("verify requires an image argument unless --compare is set")
			}

			r, err := loadRecipe(recipePath, ".")
			if err != nil {
				return app.fail(err, verbose)
			}
			engine, err := app.Engines(cfg.ContainerEngine)
			if err != nil {
				return app.fail(err, verbose)
			}
			tag := container.ImageTag(args[0])
			if err := tag.Validate(); err != nil {
				return err
			}

			builder := pipeline.NewBuilder(engine, pipeline.WithRecipe(r), pipeline.WithLogger(app.logger(cfg)))
			md, err := builder.Verify(ctx, tag)
			if err != nil {
				return app.fail(err, verbose)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Verified"), CmdStyle.Render(string(tag)))
			fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("digest: "), md.Digest)
			fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("workdir:"), md.WorkingDir)
			fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("ports:  "), strings.Join(md.ExposedPorts, ", "))
			fmt.Fprintf(out, "  %s %s\n", SubtitleStyle.Render("command:"), strings.Join(md.Cmd, " "))
			fmt.Fprintf(out, "  %s %d\n", SubtitleStyle.Render("layers: "), len(md.Layers))
			return nil
		},
	}

	cmd.Flags().StringVar(&recipePath, "recipe", "", "recipe file (default ./imagewright.cue)")
	cmd.Flags().BoolVar(&compare, "compare", false, "compare the package sets of the last two builds")
	return cmd
}

// compareLastBuilds compares the two newest ledger records. A package set
// mismatch under an unchanged manifest exits with status 2.
func compareLastBuilds(out io.Writer, store *ledger.Store) error {
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return fmt.Errorf("need two recorded builds to compare, found %d", len(records))
	}
	older, newer := records[1], records[0]
	c := ledger.Compare(older, newer)

	fmt.Fprintf(out, "%s %s -> %s\n", TitleStyle.Render("Comparing"), short(older.Key()), short(newer.Key()))
	for _, s := range c.Stages {
		status := WarningStyle.Render("rebuilt")
		if s.Reused {
			status = SuccessStyle.Render("reused")
		}
		fmt.Fprintf(out, "  %-24s %s\n", s.Stage, status)
	}

	if !c.PackagesRecorded {
		fmt.Fprintln(out, SubtitleStyle.Render("  package sets not recorded; build with --freeze to compare them"))
		return nil
	}
	if c.SamePackages {
		fmt.Fprintln(out, SuccessStyle.Render("  installed packages identical"))
		return nil
	}
	for _, p := range c.Added {
		fmt.Fprintf(out, "  + %s\n", p)
	}
	for _, p := range c.Removed {
		fmt.Fprintf(out, "  - %s\n", p)
	}
	if older.ManifestDigest == newer.ManifestDigest {
		return &ExitError{Code: 2, Err: ErrNotDeterministic}
	}
	return nil
}
