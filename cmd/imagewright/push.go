// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/image"
)

func newPushCommand(app *App) *cobra.Command {
	var insecure bool

	cmd := &cobra.Command{
		Use:   "push <image> <reference>",
		Short: "Push a built image to a registry",
		Long: `Export the image from the container engine and push it to a registry
reference. Credentials come from the docker config keychain.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(err, app.verbose)
			}
			engine, err := app.Engines(cfg.ContainerEngine)
			if err != nil {
				return app.fail(err, app.isVerbose(cfg))
			}
			tag := container.ImageTag(args[0])
			if err := tag.Validate(); err != nil {
				return err
			}

			dir, err := os.MkdirTemp("", "imagewright-push-*")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(dir) }()

			path := filepath.Join(dir, "image.tar")
			if err := engine.Save(ctx, tag, path); err != nil {
				return app.fail(err, app.isVerbose(cfg))
			}
			img, err := image.Load(path)
			if err != nil {
				return err
			}

			opts := []crane.Option{crane.WithAuthFromKeychain(authn.DefaultKeychain)}
			if insecure {
				opts = append(opts, crane.Insecure)
			}
			ref, err := image.Push(ctx, img, args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Pushed"), CmdStyle.Render(ref))
			return nil
		},
	}

	cmd.Flags().BoolVar(&insecure, "insecure", false, "allow plain HTTP and unverified TLS registries")
	return cmd
}
