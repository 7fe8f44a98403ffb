package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fibregrid/fieldlink/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fieldlink",
	Short: "Fiber build asset reconciliation",
	Long:  "Links planned poles and drops from the bill of materials to field-survey records, by exact code, numeric suffix or GPS proximity, and reports linkage coverage.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
