package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fibregrid/fieldlink/internal/model"
	"github.com/fibregrid/fieldlink/internal/reconcile"
)

var (
	reconcileKinds    []string
	reconcileProjects []string
	reconcileRadius   float64
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link planning assets to field-survey records",
	Long:  "Runs the matching cascade over every project (exact code, numeric suffix, GPS proximity for poles; exact only for drops) and upserts the resulting links.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		opts := reconcile.Options{
			SharedFieldPool:  cfg.Reconcile.SharedFieldPool,
			ProximityRadiusM: cfg.Reconcile.ProximityRadiusM,
			PropagateStatus:  cfg.Reconcile.PropagateStatus,
			BatchSize:        cfg.Reconcile.BatchSize,
			ProjectIDs:       reconcileProjects,
		}
		if reconcileRadius > 0 {
			opts.ProximityRadiusM = reconcileRadius
		}
		opts.Kinds, err = parseKinds(reconcileKinds)
		if err != nil {
			return err
		}

		entry, err := reconcile.New(st).Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		formatRunSummary(os.Stdout, entry)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileKinds, "kinds", []string{"pole", "drop"},
		"asset kinds to process, in order")
	reconcileCmd.Flags().StringSliceVar(&reconcileProjects, "project", nil,
		"restrict the run to the given project IDs (repeatable)")
	reconcileCmd.Flags().Float64Var(&reconcileRadius, "radius", 0,
		"override the proximity radius in meters")
	rootCmd.AddCommand(reconcileCmd)
}

func parseKinds(raw []string) ([]model.AssetKind, error) {
	kinds := make([]model.AssetKind, 0, len(raw))
	for _, k := range raw {
		switch model.AssetKind(k) {
		case model.AssetKindPole, model.AssetKindDrop:
			kinds = append(kinds, model.AssetKind(k))
		default:
			return nil, eris.Errorf("reconcile: unknown asset kind %q (pole or drop)", k)
		}
	}
	return kinds, nil
}

// formatRunSummary writes the per-project outcome table and global rollup.
func formatRunSummary(out io.Writer, entry *model.RunEntry) {
	p := message.NewPrinter(language.English)

	if entry.Summary != nil && len(entry.Summary.Projects) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROJECT\tNAME\tKIND\tASSETS\tEXACT\tSUFFIX\tPROX\tLINKED\tRATE\tERROR")
		_, _ = fmt.Fprintln(w, "-------\t----\t----\t------\t-----\t------\t----\t------\t----\t-----")
		for _, ps := range entry.Summary.Projects {
			errMsg := ""
			if ps.Failed {
				errMsg = truncate(ps.Error, 50)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1f%%\t%s\n",
				ps.ProjectID, ps.ProjectName, ps.Kind,
				ps.TotalPlanningAssets, ps.ExactMatches, ps.SuffixMatches,
				ps.ProximityMatches, ps.LinkedTotal, ps.LinkageRatePercent, errMsg)
		}
		_ = w.Flush()
	}

	_, _ = p.Fprintf(out, "\nRun %s: %d projects processed, %d failed, %d links written",
		entry.ID, entry.ProjectsProcessed, entry.ProjectsFailed, entry.LinksCreated)
	if entry.Summary != nil {
		_, _ = p.Fprintf(out, " (%d/%d assets linked, %.1f%%)",
			entry.Summary.LinkedTotal+entry.Summary.AlreadyLinked,
			entry.Summary.TotalPlanningAssets,
			entry.Summary.LinkageRatePercent)
	}
	_, _ = fmt.Fprintln(out)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
