package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/radstore/internal/hooks"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the change notifier and the job engine",
		Long: `Run the background half of the store until interrupted.

The change notifier delivers changes to the configured listeners (the
Redis publisher when redis.addr is set) and the job engine runs the
persisted and newly submitted maintenance jobs. Unfinished jobs are
saved on shutdown and resume on the next start.

Example:
  radstore serve --config ./radstore.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Redis.Addr != "" {
		client := hooks.NewRedisClient(a.cfg.Redis.Addr)
		defer client.Close()
		a.notifier.Register(hooks.NewPublisher(client, a.cfg.Redis.Key, a.logger))
		a.logger.Info("publishing changes", "redis", a.cfg.Redis.Addr, "key", a.cfg.Redis.Key)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := a.loadJobs(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to restore jobs", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	pending := a.engine.CountPending()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.notifier.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })

	fmt.Fprintf(cmd.OutOrStdout(), "radstore serving %s with %d pending job(s). Press Ctrl-C to stop.\n",
		a.cfg.StorageDir, pending)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "serve error", err)
	}
	a.logger.Info("stopped gracefully")
	return nil
}
