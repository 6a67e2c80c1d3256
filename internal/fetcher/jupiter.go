package fetcher

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	jupiterPricePath      = "/price"
	defaultJupiterBaseURL = "https://price.jup.ag/v4"
	defaultJupiterBatch   = 15 * time.Second
)

// JupiterOptions parameterise the primary quote source.
type JupiterOptions struct {
	HTTPOptions
	// BatchTimeout bounds multi-token requests; single lookups use Timeout.
	BatchTimeout time.Duration
}

// Jupiter fetches mint-keyed prices from the Jupiter price API.
type Jupiter struct {
	*httpSource
	batchTimeout time.Duration
}

// NewJupiter constructs the primary source.
func NewJupiter(opts JupiterOptions, logger zerolog.Logger) *Jupiter {
	batch := opts.BatchTimeout
	if batch <= 0 {
		batch = defaultJupiterBatch
	}
	return &Jupiter{
		httpSource:   newHTTPSource("jupiter", defaultJupiterBaseURL, 10*time.Second, 60*time.Second, opts.HTTPOptions, logger),
		batchTimeout: batch,
	}
}

// FetchBatch requests every id in one call. Ids missing from the response, or
// carrying a non-positive price, are left out of the result.
func (j *Jupiter) FetchBatch(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	timeout := j.timeout
	if len(ids) > 1 {
		timeout = j.batchTimeout
	}

	var res jupiterPriceResponse
	query := url.Values{"ids": []string{strings.Join(ids, ",")}}
	if err := j.getJSON(ctx, timeout, jupiterPricePath, query, &res); err != nil {
		return nil, err
	}
	if res.Data == nil {
		return nil, errors.New("jupiter: response missing data")
	}

	prices := make(map[string]float64, len(ids))
	for _, id := range ids {
		item := res.Data[id]
		if item == nil || !item.Price.IsPositive() {
			continue
		}
		prices[id] = item.Price.InexactFloat64()
		j.logger.Debug().Str("token", id).Str("price", item.Price.String()).Msg("jupiter quote")
	}
	return prices, nil
}

type jupiterPriceResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

var _ BatchSource = (*Jupiter)(nil)
var _ StatusReporter = (*Jupiter)(nil)
