package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fibregrid/fieldlink/internal/model"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <project-id> <planning-code>",
	Short: "Show the links recorded for one planning asset",
	Long:  "Lists every link persisted for a planning code, best first, and marks the one an exporter would pick.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		projectID, planningCode := args[0], args[1]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		links, err := st.BestLinks(ctx, projectID, planningCode)
		if err != nil {
			return eris.Wrap(err, "lookup")
		}
		if len(links) == 0 {
			zap.L().Info("no links recorded",
				zap.String("project_id", projectID),
				zap.String("planning_code", planningCode))
			return nil
		}

		formatLinks(os.Stdout, links)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}

func formatLinks(out io.Writer, links []model.LinkageRecord) {
	best := model.BestLink(links)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD CODE\tTYPE\tCONF\tDIST\tUPDATED\tBEST")
	for _, l := range links {
		dist := "-"
		if l.DistanceMeters != nil {
			dist = fmt.Sprintf("%.1fm", *l.DistanceMeters)
		}
		marker := ""
		if best != nil && l.FieldCode == best.FieldCode {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			l.FieldCode, l.MatchType, l.Confidence, dist,
			l.UpdatedAt.Format("2006-01-02 15:04"), marker)
	}
	_ = w.Flush()
}
