package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGecko is the secondary source, keyed by CoinGecko coin id.
type CoinGecko struct {
	*httpSource
}

// NewCoinGecko constructs the secondary source.
func NewCoinGecko(opts HTTPOptions, logger zerolog.Logger) *CoinGecko {
	return &CoinGecko{httpSource: newHTTPSource("coingecko", defaultCoinGeckoBaseURL, 10*time.Second, 30*time.Second, opts, logger)}
}

// Fetch returns the USD price of token.
func (c *CoinGecko) Fetch(ctx context.Context, token Token) (float64, error) {
	if token.CoinGeckoID == "" {
		return 0, fmt.Errorf("coingecko %q: %w", token.Mint, ErrUnsupported)
	}

	query := url.Values{
		"ids":           []string{token.CoinGeckoID},
		"vs_currencies": []string{"usd"},
	}

	var res map[string]map[string]decimal.Decimal
	if err := c.getJSON(ctx, 0, "/simple/price", query, &res); err != nil {
		return 0, err
	}

	price, ok := res[token.CoinGeckoID]["usd"]
	if !ok {
		return 0, fmt.Errorf("coingecko %q: %w", token.CoinGeckoID, ErrNotFound)
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("coingecko %q: %w", token.CoinGeckoID, ErrInvalidPrice)
	}

	c.logger.Info().Str("token", token.Symbol).Str("price", price.String()).Msg("coingecko quote")
	return price.InexactFloat64(), nil
}

var _ TokenSource = (*CoinGecko)(nil)
var _ StatusReporter = (*CoinGecko)(nil)
