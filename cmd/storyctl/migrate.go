package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"herotales-backend/internal/bootstrap"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := bootstrap.OpenStore(ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", store.Dialect())
			return nil
		},
	}
}
