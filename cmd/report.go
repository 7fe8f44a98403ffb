package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fibregrid/fieldlink/internal/report"
)

var (
	reportFormat  string
	reportSamples int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Field verification coverage report",
	Long:  "Summarizes linkage coverage: overall stats, per-project rates, high- and low-confidence samples, and unlinked planning assets.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, closePool, err := openPostgresPool(ctx)
		if err != nil {
			return err
		}
		defer closePool()

		samples := reportSamples
		if samples <= 0 {
			samples = cfg.Report.SampleSize
		}

		r, err := report.NewGenerator(pool, samples).Generate(ctx)
		if err != nil {
			return eris.Wrap(err, "report")
		}

		switch reportFormat {
		case "table", "":
			report.Render(os.Stdout, r)
			return nil
		case "json":
			return report.RenderJSON(os.Stdout, r)
		case "yaml":
			return report.RenderYAML(os.Stdout, r)
		default:
			return eris.Errorf("report: unknown format %q (table, json or yaml)", reportFormat)
		}
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format (table, json, yaml)")
	reportCmd.Flags().IntVar(&reportSamples, "samples", 0, "sample rows per section (default from config)")
	rootCmd.AddCommand(reportCmd)
}
