package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"sol-price-oracle/internal/fetcher"
	"sol-price-oracle/internal/sampler"
	"sol-price-oracle/internal/volatility"
)

// Export samples one token for opts.Duration and renders the series as CSV
// and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Token == "" {
		return errors.New("token is required")
	}
	if opts.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	if opts.Interval <= 0 {
		opts.Interval = a.Config.Sampler.Interval
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	opts.CSVPath = a.outputPath(opts.CSVPath)
	opts.PNGPath = a.outputPath(opts.PNGPath)

	f := a.newFetcher()
	token, ok := f.Registry().Lookup(opts.Token)
	if !ok {
		return fmt.Errorf("unknown token %q", opts.Token)
	}

	svc := sampler.New(sampler.Options{
		Interval:  opts.Interval,
		Retention: opts.Duration + opts.Interval,
	}, f, []sampler.WatchToken{{Symbol: token.Symbol, ID: token.Mint}}, a.newEngine(), nil, a.Logger)

	a.Logger.Info().Str("token", token.Symbol).Dur("duration", opts.Duration).Dur("interval", opts.Interval).Msg("sampling for export")
	if err := a.sampleFor(ctx, svc, opts.Duration); err != nil {
		return err
	}

	samples := svc.PriceHistory(token.Symbol, opts.Duration+opts.Interval)
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples collected for export window")
		return nil
	}

	flagged := make(map[time.Time]volatility.Severity)
	for _, ev := range svc.Anomalies(token.Symbol) {
		flagged[ev.Timestamp] = ev.Severity
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled, flagged); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, token, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// sampleFor runs svc until d elapses or ctx is done.
func (a *App) sampleFor(ctx context.Context, svc *sampler.Service, d time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return err
	}
	<-runCtx.Done()

	if err := svc.Stop(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (a *App) outputPath(path string) string {
	if path == "" || filepath.IsAbs(path) || a.Config.Export.OutputDir == "" {
		return path
	}
	return filepath.Join(a.Config.Export.OutputDir, path)
}

func downsampleSamples(samples []sampler.PriceSample, max int) []sampler.PriceSample {
	if max <= 1 || len(samples) <= max {
		return samples
	}

	result := make([]sampler.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []sampler.PriceSample, flagged map[time.Time]volatility.Severity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "token", "price_usd", "anomaly"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		anomaly := ""
		if sev, ok := flagged[sample.Timestamp]; ok {
			anomaly = sev.String()
		}
		record := []string{
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Token,
			decimal.NewFromFloat(sample.Price).String(),
			anomaly,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, token fetcher.Token, samples []sampler.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	prices := make([]float64, len(samples))
	for i, sample := range samples {
		x[i] = sample.Timestamp
		prices[i] = sample.Price
	}

	priceFormatter := func(v interface{}) string {
		if f, ok := v.(float64); ok {
			return formatPrice(f)
		}
		return ""
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           token.Symbol + " (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    token.Symbol,
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
