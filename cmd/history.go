package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/quill/internal/journal"
	"github.com/xkilldash9x/quill/internal/observability"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent task outcomes from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg.Journal().Path, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("No tasks recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tTASK\tOUTCOME\tDELIVERED\tDURATION\tDETAIL")
			for _, e := range entries {
				detail := e.URL
				if e.Error != "" {
					detail = e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					e.At.Local().Format(time.DateTime), e.Kind, e.TaskID, e.Outcome, e.Delivered,
					e.Duration.Round(time.Millisecond), detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all).")
	return cmd
}
