package fetcher

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultLadderSizes are the notional sizes (USD) quoted when none are given.
var DefaultLadderSizes = []float64{100, 500, 1000, 5000, 10000, 25000}

// LadderStep estimates execution at one notional size.
type LadderStep struct {
	SizeUSD        float64 `json:"size_usd"`
	BasePrice      float64 `json:"base_price"`
	EffectivePrice float64 `json:"effective_price"`
	SlippageBps    float64 `json:"slippage_bps"`
	SlippageCost   float64 `json:"slippage_cost"`
}

// Ladder resolves the base price of id once and prices each size off it.
func (f *Fetcher) Ladder(ctx context.Context, id string, sizes []float64) []LadderStep {
	if len(sizes) == 0 {
		sizes = DefaultLadderSizes
	}
	base := f.GetPrice(ctx, id)
	return BuildLadder(base, f.registry.Token(id).SlippageCoefficient, sizes)
}

// maxSlippageRate keeps the effective price positive for any size.
const maxSlippageRate = 0.99

// ValidLadderSize reports whether size is a finite positive notional.
func ValidLadderSize(size float64) bool {
	return size > 0 && !math.IsInf(size, 0) && !math.IsNaN(size)
}

// BuildLadder applies slippage = coefficient * sqrt(size/1000) to base for
// every valid size, capped at 99%. Larger sizes never slip less.
func BuildLadder(base, coefficient float64, sizes []float64) []LadderStep {
	if coefficient <= 0 {
		coefficient = defaultSlippageCoefficient
	}
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return []LadderStep{}
	}

	basePrice := decimal.NewFromFloat(base)
	steps := make([]LadderStep, 0, len(sizes))
	for _, size := range sizes {
		if !ValidLadderSize(size) {
			continue
		}
		slip := decimal.NewFromFloat(math.Min(coefficient*math.Sqrt(size/1000), maxSlippageRate))
		notional := decimal.NewFromFloat(size)

		steps = append(steps, LadderStep{
			SizeUSD:        size,
			BasePrice:      base,
			EffectivePrice: basePrice.Mul(decimal.NewFromInt(1).Sub(slip)).InexactFloat64(),
			SlippageBps:    slip.Mul(decimal.NewFromInt(10000)).Round(4).InexactFloat64(),
			SlippageCost:   notional.Mul(slip).Round(6).InexactFloat64(),
		})
	}
	return steps
}
