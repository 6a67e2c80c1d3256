package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"sol-price-oracle/internal/fetcher"
)

// Price resolves each requested token once and prints a table.
func (a *App) Price(ctx context.Context, out io.Writer, opts PriceOptions) error {
	f := a.newFetcher()
	registry := f.Registry()

	tokens := opts.Tokens
	if len(tokens) == 0 {
		for _, t := range registry.Tokens() {
			tokens = append(tokens, t.Symbol)
		}
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Token\tMint\tPrice (USD)\tTier")
	for _, token := range tokens {
		res := f.Resolve(ctx, registry.Normalize(token))
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", token, res.ID, formatPrice(res.Price), res.Tier)
	}
	return writer.Flush()
}

// Ladder prints the size-tiered quote ladder for one token.
func (a *App) Ladder(ctx context.Context, out io.Writer, opts LadderOptions) error {
	if opts.Token == "" {
		return errors.New("token is required")
	}

	f := a.newFetcher()
	steps := f.Ladder(ctx, f.Registry().Normalize(opts.Token), opts.Sizes)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Size (USD)\tBase\tEffective\tSlippage (bps)\tCost (USD)")
	for _, s := range steps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			decimal.NewFromFloat(s.SizeUSD).String(),
			formatPrice(s.BasePrice),
			formatPrice(s.EffectivePrice),
			decimal.NewFromFloat(s.SlippageBps).StringFixed(2),
			decimal.NewFromFloat(s.SlippageCost).StringFixed(2),
		)
	}
	return writer.Flush()
}

// Health checks the primary source and prints the verdict as JSON.
func (a *App) Health(ctx context.Context, out io.Writer) error {
	f := a.newFetcher()
	report := struct {
		Health  fetcher.Health         `json:"health"`
		Sources []fetcher.SourceStatus `json:"sources"`
	}{
		Health:  f.HealthCheck(ctx),
		Sources: f.SourceStatus(),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Health.Healthy {
		return fmt.Errorf("primary source unhealthy: %s", report.Health.Message)
	}
	return nil
}

func formatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	if price != 0 && price < 1 {
		return d.Round(8).String()
	}
	return d.StringFixed(3)
}
