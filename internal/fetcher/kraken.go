package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultKrakenBaseURL = "https://api.kraken.com"

// Kraken is the tertiary source. Only tokens with an exchange pair are covered.
type Kraken struct {
	*httpSource
}

// NewKraken constructs the tertiary source.
func NewKraken(opts HTTPOptions, logger zerolog.Logger) *Kraken {
	return &Kraken{httpSource: newHTTPSource("kraken", defaultKrakenBaseURL, 8*time.Second, 30*time.Second, opts, logger)}
}

// Fetch returns the last trade price for the token's pair.
func (k *Kraken) Fetch(ctx context.Context, token Token) (float64, error) {
	if token.KrakenPair == "" {
		return 0, fmt.Errorf("kraken %q: %w", token.Mint, ErrUnsupported)
	}

	var res krakenTickerResponse
	query := url.Values{"pair": []string{token.KrakenPair}}
	if err := k.getJSON(ctx, 0, "/0/public/Ticker", query, &res); err != nil {
		return 0, err
	}
	if len(res.Error) > 0 {
		return 0, fmt.Errorf("kraken api error: %s", strings.Join(res.Error, "; "))
	}

	ticker, ok := res.Result[token.KrakenPair]
	if !ok || len(ticker.LastTrade) == 0 {
		return 0, fmt.Errorf("kraken %q: %w", token.KrakenPair, ErrNotFound)
	}

	price, err := decimal.NewFromString(ticker.LastTrade[0])
	if err != nil {
		return 0, fmt.Errorf("parse kraken last trade: %w", err)
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("kraken %q: %w", token.KrakenPair, ErrInvalidPrice)
	}

	k.logger.Info().Str("token", token.Symbol).Str("price", price.String()).Msg("kraken quote")
	return price.InexactFloat64(), nil
}

type krakenTickerResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		// c = [price, lot volume]
		LastTrade []string `json:"c"`
	} `json:"result"`
}

var _ TokenSource = (*Kraken)(nil)
var _ StatusReporter = (*Kraken)(nil)
