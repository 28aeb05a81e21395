package main

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"herotales-backend/internal/bootstrap"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Drive every unfinished job to a terminal state",
		Long: "Resume picks up jobs left mid-run by a stopped server and runs them to\n" +
			"completion or failure. Jobs whose driver lease is still live are left\n" +
			"to their driver. Only one resume may run at a time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock := flock.New(ctx.cfg.StoryctlLockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another storyctl resume is already running")
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					ctx.logger.Warn().Err(err).Msg("failed to release resume lock")
				}
			}()

			app, err := bootstrap.New(ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}

			n, err := app.Coordinator.ResumeUnfinished(cmd.Context())
			if err != nil {
				app.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resuming %d job(s)\n", n)

			// Waits for every resumed job; an interrupt leaves the rest resumable.
			if err := app.Shutdown(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "done")
			return nil
		},
	}
}
