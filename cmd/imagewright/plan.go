// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/ledger"
	"github.com/imagewright/imagewright/internal/pipeline"
)

func newPlanCommand(app *App) *cobra.Command {
	var (
		recipePath string
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "plan [context]",
		Short: "Show layer keys and what the next build would reuse",
		Long: `Compute the layer key of every build step for a source tree and compare
it with the last recorded build. Steps before the first changed key are reused;
that step and every later one are rebuilt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextDir := "."
			if len(args) == 1 {
				contextDir = args[0]
			}
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(err, app.verbose)
			}
			r, err := loadRecipe(recipePath, contextDir)
			if err != nil {
				return app.fail(err, app.isVerbose(cfg))
			}
			store, err := app.ledger(cfg)
			if err != nil {
				return err
			}

			builder := pipeline.NewBuilder(nil,
				pipeline.WithRecipe(r),
				pipeline.WithResolver(app.Resolver),
				pipeline.WithLogger(app.logger(cfg)),
			)
			plan, err := builder.Plan(ctx, contextDir)
			if err != nil {
				return app.fail(err, app.isVerbose(cfg))
			}
			previous, err := store.Latest()
			if err != nil && !errors.Is(err, ledger.ErrNoRecord) {
				return err
			}

			md := planMarkdown(plan, previous)
			if raw {
				_, err = fmt.Fprint(cmd.OutOrStdout(), md)
				return err
			}
			rendered, err := glamour.Render(md, "dark")
			if err != nil {
				return fmt.Errorf("render plan: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&recipePath, "recipe", "", "recipe file (default <context>/imagewright.cue)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal styling")
	return cmd
}

// planMarkdown renders the plan as a markdown table.
func planMarkdown(plan *pipeline.Plan, previous *ledger.Record) string {
	var sb strings.Builder

	sb.WriteString("# Build plan\n\n")
	fmt.Fprintf(&sb, "- **Image key:** `%s`\n", plan.ShortKey())
	fmt.Fprintf(&sb, "- **Base:** `%s`\n", plan.Inputs.BaseIdentity)
	fmt.Fprintf(&sb, "- **Manifest digest:** `%s`\n", short(plan.Inputs.ManifestDigest))
	fmt.Fprintf(&sb, "- **Source digest:** `%s`\n", short(plan.Inputs.SourceDigest))
	if previous == nil {
		sb.WriteString("- **Previous build:** none\n")
	} else {
		fmt.Fprintf(&sb, "- **Previous build:** `%s` at %s\n", previous.Tag, previous.BuiltAt.Format("2006-01-02 15:04:05 MST"))
	}

	sb.WriteString("\n| # | Stage | Instruction | Key | Status |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, d := range plan.Diff(previous) {
		fmt.Fprintf(&sb, "| %d | %s | `%s` | `%s` | %s |\n",
			d.Step.Index+1,
			d.Step.Instruction.Stage,
			truncate(strings.ReplaceAll(d.Step.Instruction.String(), "|", `\|`), 60),
			short(d.Step.Key),
			d.Status,
		)
	}
	return sb.String()
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
