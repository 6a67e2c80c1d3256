package cli

import (
	"time"

	"github.com/spf13/cobra"

	"sol-price-oracle/internal/app"
)

var (
	exportToken     string
	exportDuration  time.Duration
	exportInterval  time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Sample a token for a while and export the series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Token:     exportToken,
			Duration:  exportDuration,
			Interval:  exportInterval,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportToken, "token", "SOL", "Token symbol or mint to sample")
	exportCmd.Flags().DurationVar(&exportDuration, "duration", 5*time.Minute, "How long to sample")
	exportCmd.Flags().DurationVar(&exportInterval, "interval", 0, "Sampling interval (defaults to config)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
