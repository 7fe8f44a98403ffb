package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fibregrid/fieldlink/internal/model"
	"github.com/fibregrid/fieldlink/internal/store"
)

var (
	statusFilter string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the reconciliation run log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(statusFilter),
			Limit:  statusLimit,
		})
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(runs) == 0 {
			zap.L().Info("no runs found, run 'fieldlink reconcile' to start one")
			return nil
		}

		formatRunEntries(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "filter by run status (running, complete, failed)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatRunEntries writes a tabular representation of run entries to w.
func formatRunEntries(out io.Writer, runs []model.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKINDS\tSTATUS\tSTARTED\tDURATION\tPROJECTS\tFAILED\tLINKS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t--------\t------\t-----\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncate(r.ID, 8),
			r.Kinds,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.ProjectsProcessed,
			r.ProjectsFailed,
			r.LinksCreated,
			errMsg,
		)
	}
	_ = w.Flush()
}
