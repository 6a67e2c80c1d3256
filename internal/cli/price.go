package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sol-price-oracle/internal/app"
	"sol-price-oracle/internal/fetcher"
)

var ladderSizes string

var priceCmd = &cobra.Command{
	Use:   "price [token...]",
	Short: "Resolve current prices through the fallback chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), cmd.OutOrStdout(), app.PriceOptions{Tokens: args})
	},
}

var ladderCmd = &cobra.Command{
	Use:   "ladder <token>",
	Short: "Print the size-tiered quote ladder for a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sizes, err := parseSizes(ladderSizes)
		if err != nil {
			return err
		}
		return getApp().Ladder(cmd.Context(), cmd.OutOrStdout(), app.LadderOptions{Token: args[0], Sizes: sizes})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the primary price source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context(), cmd.OutOrStdout())
	},
}

func parseSizes(raw string) ([]float64, error) {
	var sizes []float64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := strconv.ParseFloat(part, 64)
		if err != nil || !fetcher.ValidLadderSize(size) {
			return nil, fmt.Errorf("invalid --sizes entry %q", part)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func init() {
	ladderCmd.Flags().StringVar(&ladderSizes, "sizes", "", "Comma-separated trade sizes in USD (defaults to built-in tiers)")
}
