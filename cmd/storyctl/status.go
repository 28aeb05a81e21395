package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"herotales-backend/internal/bootstrap"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}

			store, err := bootstrap.OpenStore(ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetJob(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("job %s: %w", jobID, err)
			}

			out := cmd.OutOrStdout()
			snap := job.Snapshot()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Fprintf(out, "Job:      %s\n", job.ID)
			fmt.Fprintf(out, "User:     %s\n", job.UserID)
			fmt.Fprintf(out, "Theme:    %s\n", job.Theme)
			fmt.Fprintf(out, "Status:   %s\n", snap.Status)
			fmt.Fprintf(out, "Progress: %d%%\n", snap.Progress)
			fmt.Fprintf(out, "Title:    %s\n", snap.Title)
			fmt.Fprintf(out, "Started:  %s\n", job.StartedAt.Format(time.RFC3339))
			if job.CompletedAt.Valid {
				fmt.Fprintf(out, "Finished: %s\n", job.CompletedAt.Time.Format(time.RFC3339))
			}
			if snap.ErrorMessage != nil {
				fmt.Fprintf(out, "Error:    %s\n", *snap.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status snapshot as JSON")
	return cmd
}
