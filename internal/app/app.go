package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sol-price-oracle/internal/alerting"
	"sol-price-oracle/internal/config"
	"sol-price-oracle/internal/fetcher"
	"sol-price-oracle/internal/httpapi"
	"sol-price-oracle/internal/sampler"
	"sol-price-oracle/internal/volatility"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRegistry() *fetcher.Registry {
	if len(a.Config.Tokens) == 0 {
		return fetcher.NewRegistry(fetcher.DefaultTokens())
	}

	tokens := make([]fetcher.Token, 0, len(a.Config.Tokens))
	for _, t := range a.Config.Tokens {
		tokens = append(tokens, fetcher.Token{
			Symbol:              t.Symbol,
			Mint:                t.Mint,
			CoinGeckoID:         t.CoinGeckoID,
			KrakenPair:          t.KrakenPair,
			StaticEstimate:      t.StaticEstimate,
			SlippageCoefficient: t.SlippageCoefficient,
		})
	}
	return fetcher.NewRegistry(tokens)
}

func (a *App) httpOptions(src config.SourceConfig) fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		BaseURL:           src.BaseURL,
		Timeout:           src.Timeout,
		UserAgent:         a.Config.Sources.UserAgent,
		Cooldown:          src.Cooldown,
		RequestsPerSecond: src.RequestsPerSecond,
		Burst:             src.Burst,
	}
}

// newSources builds the enabled upstreams. Disabled ones stay nil so the chain
// skips them.
func (a *App) newSources() fetcher.Sources {
	cfg := a.Config.Sources
	var sources fetcher.Sources

	if cfg.Jupiter.Enabled {
		sources.Primary = fetcher.NewJupiter(fetcher.JupiterOptions{
			HTTPOptions:  a.httpOptions(cfg.Jupiter.SourceConfig),
			BatchTimeout: cfg.Jupiter.BatchTimeout,
		}, a.Logger)
	}
	if cfg.CoinGecko.Enabled {
		sources.Secondary = fetcher.NewCoinGecko(a.httpOptions(cfg.CoinGecko), a.Logger)
	}
	if cfg.Kraken.Enabled {
		sources.Tertiary = fetcher.NewKraken(a.httpOptions(cfg.Kraken), a.Logger)
	}
	if cfg.DexScreener.Enabled {
		sources.Alternative = fetcher.NewDexScreener(a.httpOptions(cfg.DexScreener), a.Logger)
	}
	return sources
}

func (a *App) newFetcher() *fetcher.Fetcher {
	registry := a.newRegistry()
	return fetcher.New(fetcher.Options{
		CacheCapacity:  a.Config.Cache.Capacity,
		CacheTTL:       a.Config.Cache.TTL,
		LatencyWindow:  a.Config.Latency.Window,
		HealthInterval: a.Config.Health.Interval,
		HealthTimeout:  a.Config.Health.Timeout,
		HealthCheckID:  registry.Normalize(a.Config.Health.CheckToken),
	}, a.newSources(), registry, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled || !cfg.Telegram.Enabled {
		return nil
	}
	tg := alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger)
	return alerting.NewThrottled(tg, cfg.Cooldown)
}

func (a *App) newEngine() volatility.Engine {
	v := a.Config.Volatility
	return volatility.Engine{
		Interval:            a.Config.Sampler.Interval,
		MinSamples:          v.MinSamples,
		StabilityWindow:     v.StabilityWindow,
		StabilityMinSamples: v.StabilityMinSamples,
		StabilityThreshold:  v.StabilityThreshold,
		StabilityScale:      v.StabilityScale,
		AnomalyLookback:     v.AnomalyLookback,
		AnomalyBaseline:     v.AnomalyBaseline,
		AnomalyZ:            v.AnomalyZ,
		HighZ:               v.HighZ,
	}
}

// newSampler resolves the configured watch list against the registry.
// Unknown symbols are logged and skipped.
func (a *App) newSampler(f *fetcher.Fetcher) *sampler.Service {
	registry := f.Registry()
	var watch []sampler.WatchToken
	for _, symbol := range a.Config.Sampler.Tokens {
		token, ok := registry.Lookup(symbol)
		if !ok {
			a.Logger.Warn().Str("token", symbol).Msg("sampler token not in registry; skipped")
			continue
		}
		watch = append(watch, sampler.WatchToken{Symbol: token.Symbol, ID: token.Mint})
	}

	severity, ok := volatility.ParseSeverity(a.Config.Alerting.MinSeverity)
	if !ok {
		severity = volatility.SeverityHigh
	}

	return sampler.New(sampler.Options{
		Interval:      a.Config.Sampler.Interval,
		Retention:     a.Config.Sampler.Retention,
		StopTimeout:   a.Config.Sampler.StopTimeout,
		ErrorBackoff:  a.Config.Sampler.ErrorBackoff,
		AlertSeverity: severity,
	}, f, watch, a.newEngine(), a.newNotifier(), a.Logger)
}

// Serve runs the HTTP API and, when configured, the background sampler until
// interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f := a.newFetcher()
	svc := a.newSampler(f)

	if a.Config.Sampler.AutoStart {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start sampler: %w", err)
		}
	} else {
		a.Logger.Info().Msg("sampler.auto_start disabled; use POST /api/sampling/start")
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("sampler did not stop cleanly")
		}
	}()

	server := httpapi.NewServer(httpapi.Options{
		Addr:            a.Config.HTTP.Addr,
		Mode:            a.Config.HTTP.Mode,
		ReadTimeout:     a.Config.HTTP.ReadTimeout,
		WriteTimeout:    a.Config.HTTP.WriteTimeout,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
		CORSOrigins:     a.Config.HTTP.CORSOrigins,
	}, a.Logger)
	server.AddController(
		httpapi.NewPriceController(f),
		httpapi.NewHealthController(f, svc),
		httpapi.NewAnalyticsController(ctx, svc),
	)

	a.Logger.Info().Int("tokens", len(svc.Tokens())).Msg("starting price oracle")
	err := server.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("http server terminated with error")
		return err
	}

	a.Logger.Info().Msg("price oracle stopped")
	return nil
}

// PriceOptions configure the price command.
type PriceOptions struct {
	Tokens []string
}

// LadderOptions configure the ladder command.
type LadderOptions struct {
	Token string
	Sizes []float64
}

// ExportOptions hold parameters for sampling and exporting a price series.
type ExportOptions struct {
	Token     string
	Duration  time.Duration
	Interval  time.Duration
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
