package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vpo/internal/store"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent processing runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					run.StartedAt.Local().Format(time.DateTime),
					run.Status,
					run.PolicyPath,
					fmt.Sprintf("%d", run.FilesTotal),
					fmt.Sprintf("%d", run.FilesFailed),
					fmt.Sprintf("%d", run.FilesSkipped),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"Run", "Started", "Status", "Policy", "Files", "Failed", "Skipped"}, rows, 4, 5, 6))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
