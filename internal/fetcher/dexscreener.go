package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultDexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreener looks up liquidity pools by mint and prices the token from the
// deepest pool. It is the alternative tier for tokens other sources miss.
type DexScreener struct {
	*httpSource
}

// NewDexScreener constructs the alternative source.
func NewDexScreener(opts HTTPOptions, logger zerolog.Logger) *DexScreener {
	return &DexScreener{httpSource: newHTTPSource("dexscreener", defaultDexScreenerBaseURL, 5*time.Second, 30*time.Second, opts, logger)}
}

// Fetch returns the USD price quoted by the highest-liquidity pair.
func (d *DexScreener) Fetch(ctx context.Context, token Token) (float64, error) {
	if token.Mint == "" {
		return 0, fmt.Errorf("dexscreener: %w", ErrUnsupported)
	}

	var res dexScreenerResponse
	if err := d.getJSON(ctx, 0, "/latest/dex/tokens/"+url.PathEscape(token.Mint), nil, &res); err != nil {
		return 0, err
	}

	var best *dexPair
	for i := range res.Pairs {
		p := &res.Pairs[i]
		if !p.PriceUSD.IsPositive() {
			continue
		}
		if best == nil || p.Liquidity.USD.GreaterThan(best.Liquidity.USD) {
			best = p
		}
	}
	if best == nil {
		return 0, fmt.Errorf("dexscreener %q: %w", token.Mint, ErrNotFound)
	}

	d.logger.Info().Str("token", token.Symbol).
		Str("price", best.PriceUSD.String()).
		Str("pair", best.PairAddress).
		Msg("dexscreener quote")
	return best.PriceUSD.InexactFloat64(), nil
}

type dexPair struct {
	PairAddress string          `json:"pairAddress"`
	PriceUSD    decimal.Decimal `json:"priceUsd"`
	Liquidity   struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
}

type dexScreenerResponse struct {
	Pairs []dexPair `json:"pairs"`
}

var _ TokenSource = (*DexScreener)(nil)
var _ StatusReporter = (*DexScreener)(nil)
