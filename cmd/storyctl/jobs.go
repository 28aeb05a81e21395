package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"herotales-backend/internal/bootstrap"
	"herotales-backend/internal/models"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var userFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent story jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := uuid.Nil
			if userFlag != "" {
				id, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				userID = id
			}
			if limit < 1 {
				return fmt.Errorf("--limit must be positive")
			}

			store, err := bootstrap.OpenStore(ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.ListJobs(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "User", "Status", "Progress", "Title", "Started"},
				jobRows(jobs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "Only show jobs owned by this user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")
	return cmd
}

func jobRows(jobs []*models.GenerationJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID.String(),
			job.UserID.String(),
			string(job.Status),
			strconv.Itoa(job.Progress) + "%",
			job.Title,
			job.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}
