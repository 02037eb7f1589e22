// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/imagewright/imagewright/internal/container"
	"github.com/imagewright/imagewright/internal/launch"
)

type runFlags struct {
	hostPort     int
	readyTimeout time.Duration
	stopTimeout  time.Duration
	readyPath    string
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Run a server image until interrupted",
		Long: `Start the image with its default command, publish the port it exposes
(8000 by default), stream the server logs and wait until it answers. The
container is stopped and removed on SIGINT or SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.fail(err, app.verbose)
			}
			verbose := app.isVerbose(cfg)

			engine, err := app.Engines(cfg.ContainerEngine)
			if err != nil {
				return app.fail(err, verbose)
			}
			tag := container.ImageTag(args[0])
			if err := tag.Validate(); err != nil {
				return err
			}

			logger := app.logger(cfg)
			port, err := imageContainerPort(ctx, engine, tag, logger)
			if err != nil {
				return app.fail(err, verbose)
			}

			lc := launch.DefaultConfig(tag)
			if port != 0 {
				lc.ContainerPort = port
			}
			lc.HostPort = container.NetworkPort(cfg.Launch.HostPort)
			lc.ReadyTimeout = cfg.Launch.ReadyTimeout
			lc.StopTimeout = cfg.Launch.StopTimeout
			lc.ReadyPath = cfg.Launch.ReadyPath
			if cmd.Flags().Changed("host-port") {
				lc.HostPort = container.NetworkPort(flags.hostPort)
			}
			if cmd.Flags().Changed("ready-timeout") {
				lc.ReadyTimeout = flags.readyTimeout
			}
			if cmd.Flags().Changed("stop-timeout") {
				lc.StopTimeout = flags.stopTimeout
			}
			if cmd.Flags().Changed("ready-path") {
				lc.ReadyPath = flags.readyPath
			}
			if err := lc.HostPort.Validate(); err != nil {
				return err
			}
			lc.Stdout = cmd.OutOrStdout()
			lc.Stderr = cmd.ErrOrStderr()

			l := launch.New(engine, lc, launch.WithLogger(logger))
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-l.Ready():
					fmt.Fprintf(cmd.ErrOrStderr(), "%s http://%s %s\n",
						SuccessStyle.Render("Serving on"), l.Addr(), SubtitleStyle.Render("(Ctrl+C to stop)"))
				case <-done:
				}
			}()

			if err := l.Launch(ctx); err != nil {
				return app.fail(err, verbose)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&flags.hostPort, "host-port", "p", 8000, "host port mapped to the server port")
	cmd.Flags().DurationVar(&flags.readyTimeout, "ready-timeout", launch.DefaultReadyTimeout, "how long to wait for the server to answer")
	cmd.Flags().DurationVar(&flags.stopTimeout, "stop-timeout", launch.DefaultStopTimeout, "grace period before the server is killed")
	cmd.Flags().StringVar(&flags.readyPath, "ready-path", launch.DefaultReadyPath, "HTTP path requested for readiness (empty for TCP only)")
	return cmd
}

// imageContainerPort reads the TCP port the local image exposes. Zero means the
// image is not local yet or exposes nothing, and the default port applies.
func imageContainerPort(ctx context.Context, engine container.Engine, tag container.ImageTag, logger *log.Logger) (container.NetworkPort, error) {
	info, err := engine.InspectImage(ctx, tag)
	if err != nil {
		logger.Debug("image not inspectable, using default port", "image", tag, "err", err)
		return 0, nil
	}
	port, err := info.ExposedTCPPort()
	if err != nil {
		return 0, fmt.Errorf("image %s: %w", tag, err)
	}
	return port, nil
}
