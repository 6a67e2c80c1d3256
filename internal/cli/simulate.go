package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"sol-price-oracle/internal/app"
)

var (
	simulateToken    string
	simulatePrice    float64
	simulateBaseline float64
	simulateZ        float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格异常并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateBaseline <= 0 {
			return errors.New("--price 与 --baseline 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Token:    simulateToken,
			Price:    simulatePrice,
			Baseline: simulateBaseline,
			ZScore:   simulateZ,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateToken, "token", "SOL", "代币符号")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "异常价格 (USD)")
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 0, "基线均价 (USD)")
	simulateCmd.Flags().Float64Var(&simulateZ, "z", 6, "z-score")
}
