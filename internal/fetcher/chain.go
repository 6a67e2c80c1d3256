package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"sol-price-oracle/internal/cache"
	"sol-price-oracle/internal/latency"
	"sol-price-oracle/internal/metrics"
)

// Options configure the resolving fetcher and the state it owns.
type Options struct {
	CacheCapacity int
	CacheTTL      time.Duration
	LatencyWindow int

	HealthInterval time.Duration
	HealthTimeout  time.Duration
	// HealthCheckID is the mint HealthCheck asks the primary source for.
	HealthCheckID string

	Now func() time.Time
}

// Sources lists the upstreams in chain order. Any of them may be nil.
type Sources struct {
	Primary     BatchSource
	Secondary   TokenSource
	Tertiary    TokenSource
	Alternative TokenSource
}

// Fetcher resolves token prices through the fallback chain:
// fresh cache, primary, stale cache, secondary, tertiary, alternative, static.
// It never returns an error; zero means the price is unknown.
type Fetcher struct {
	sources  Sources
	registry *Registry
	cache    *cache.Cache
	tracker  *latency.Tracker
	logger   zerolog.Logger
	now      func() time.Time
	group    singleflight.Group

	health    healthState
	connected *atomic.Bool
}

// New builds a Fetcher that owns a fresh cache and latency tracker.
func New(opts Options, sources Sources, registry *Registry, logger zerolog.Logger) *Fetcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if registry == nil {
		registry = NewRegistry(DefaultTokens())
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if opts.HealthCheckID == "" {
		opts.HealthCheckID = registry.Normalize("SOL")
	}

	return &Fetcher{
		sources:  sources,
		registry: registry,
		cache: cache.New(cache.Options{
			Capacity: opts.CacheCapacity,
			TTL:      opts.CacheTTL,
			Now:      opts.Now,
		}),
		tracker:   latency.New(opts.LatencyWindow),
		logger:    logger.With().Str("component", "price_fetcher").Logger(),
		now:       opts.Now,
		health:    healthState{interval: opts.HealthInterval, timeout: opts.HealthTimeout, checkID: opts.HealthCheckID},
		connected: atomic.NewBool(true),
	}
}

// Registry exposes the token registry used for identifier mapping.
func (f *Fetcher) Registry() *Registry {
	return f.registry
}

// GetPrice returns a best-effort price for id, zero when unknown.
func (f *Fetcher) GetPrice(ctx context.Context, id string) float64 {
	return f.Resolve(ctx, id).Price
}

// Resolve walks the fallback chain for id. Concurrent lookups of the same id
// share one walk, which runs detached from any single caller; per-source
// timeouts bound it. A caller whose ctx ends first gets TierNone.
func (f *Fetcher) Resolve(ctx context.Context, id string) Resolution {
	if ctx.Err() != nil {
		return f.abandoned(id)
	}

	ch := f.group.DoChan(id, func() (any, error) {
		return f.resolve(context.WithoutCancel(ctx), id), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Resolution)
	case <-ctx.Done():
		return f.abandoned(id)
	}
}

func (f *Fetcher) resolve(ctx context.Context, id string) Resolution {
	if price, ok := f.cache.Get(id); ok {
		return f.resolved(id, price, TierCache)
	}

	price, err := f.fetchPrimary(ctx, id)
	if err == nil {
		f.cache.Put(id, price)
		return f.resolved(id, price, TierPrimary)
	}
	if ctx.Err() != nil {
		return f.abandoned(id)
	}
	f.logger.Warn().Err(err).Str("token", id).Msg("primary source failed")

	return f.degrade(ctx, id)
}

// abandoned is the result for a caller that went away mid-walk. Nothing is
// cached, so no fallback price outlives the request.
func (f *Fetcher) abandoned(id string) Resolution {
	f.logger.Debug().Str("token", id).Msg("lookup abandoned by caller")
	return Resolution{ID: id, Tier: TierNone}
}

// GetPrices resolves ids with at most one batch call to the primary source.
// Tokens the batch does not cover fall through the per-token chain from the
// stale-cache tier onwards.
func (f *Fetcher) GetPrices(ctx context.Context, ids []string) map[string]float64 {
	out := make(map[string]float64, len(ids))
	pending := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if price, ok := f.cache.Get(id); ok {
			out[id] = f.resolved(id, price, TierCache).Price
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return out
	}

	var batch map[string]float64
	if f.sources.Primary != nil {
		err := f.observe(f.sources.Primary.Name(), func() error {
			var err error
			batch, err = f.sources.Primary.FetchBatch(ctx, pending)
			return err
		})
		f.markConnected(err)
		if err != nil && ctx.Err() == nil {
			f.logger.Warn().Err(err).Int("tokens", len(pending)).Msg("primary batch failed")
		}
	}

	for _, id := range pending {
		if price := batch[id]; price > 0 {
			f.cache.Put(id, price)
			out[id] = f.resolved(id, price, TierPrimary).Price
			continue
		}
		if ctx.Err() != nil {
			out[id] = f.abandoned(id).Price
			continue
		}
		out[id] = f.degrade(ctx, id).Price
	}
	return out
}

// degrade runs the chain after the primary source has failed for id.
func (f *Fetcher) degrade(ctx context.Context, id string) Resolution {
	if price, storedAt, ok := f.cache.Peek(id); ok {
		f.logger.Warn().Str("token", id).
			Dur("age", f.now().Sub(storedAt)).
			Msg("using last-good quote")
		return f.resolved(id, price, TierStale)
	}

	token := f.registry.Token(id)
	fallbacks := []struct {
		tier   Tier
		source TokenSource
	}{
		{TierSecondary, f.sources.Secondary},
		{TierTertiary, f.sources.Tertiary},
		{TierAlternative, f.sources.Alternative},
	}
	for _, fb := range fallbacks {
		if fb.source == nil {
			continue
		}
		price, err := f.fetchToken(ctx, fb.source, token)
		if err != nil {
			if ctx.Err() != nil {
				return f.abandoned(id)
			}
			if !errors.Is(err, ErrUnsupported) {
				f.logger.Warn().Err(err).Str("token", id).Str("tier", fb.tier.String()).Msg("fallback source failed")
			}
			continue
		}
		f.cache.Put(id, price)
		return f.resolved(id, price, fb.tier)
	}

	if ctx.Err() != nil {
		return f.abandoned(id)
	}
	if token.StaticEstimate > 0 {
		f.cache.Put(id, token.StaticEstimate)
		f.logger.Warn().Str("token", id).
			Str("symbol", token.Symbol).
			Float64("price", token.StaticEstimate).
			Msg("all sources failed, using static estimate")
		return f.resolved(id, token.StaticEstimate, TierStatic)
	}

	f.logger.Error().Str("token", id).Msg("no price available from any source")
	return f.resolved(id, 0, TierNone)
}

func (f *Fetcher) fetchPrimary(ctx context.Context, id string) (float64, error) {
	if f.sources.Primary == nil {
		return 0, errors.New("primary source not configured")
	}

	var price float64
	err := f.observe(f.sources.Primary.Name(), func() error {
		prices, err := f.sources.Primary.FetchBatch(ctx, []string{id})
		if err != nil {
			return err
		}
		p, ok := prices[id]
		if !ok {
			return ErrNotFound
		}
		if p <= 0 {
			return ErrInvalidPrice
		}
		price = p
		return nil
	})
	f.markConnected(err)
	return price, err
}

// markConnected records the primary's reachability. A call cut short by its
// caller says nothing about the upstream.
func (f *Fetcher) markConnected(err error) {
	if isCallerAbort(err) {
		return
	}
	f.connected.Store(err == nil)
}

func isCallerAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (f *Fetcher) fetchToken(ctx context.Context, src TokenSource, token Token) (float64, error) {
	var price float64
	err := f.observe(src.Name(), func() error {
		p, err := src.Fetch(ctx, token)
		if err != nil {
			return err
		}
		if p <= 0 {
			return ErrInvalidPrice
		}
		price = p
		return nil
	})
	return price, err
}

// observe times one upstream call. Calls a source declined without touching
// the network, and calls the caller cancelled, are not recorded.
func (f *Fetcher) observe(source string, call func() error) error {
	start := time.Now()
	err := call()
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrCoolingDown) || isCallerAbort(err) {
		return err
	}
	elapsed := time.Since(start)
	f.tracker.Record(elapsed, err == nil)
	metrics.ObserveUpstream(source, elapsed, err == nil)
	return err
}

func (f *Fetcher) resolved(id string, price float64, tier Tier) Resolution {
	metrics.ObserveResolution(tier.String())
	if tier != TierCache {
		f.logger.Debug().Str("token", id).Str("tier", tier.String()).Float64("price", price).Msg("price resolved")
	}
	return Resolution{ID: id, Price: price, Tier: tier}
}

// CacheStats snapshots the owned cache.
func (f *Fetcher) CacheStats() cache.Stats {
	return f.cache.Stats()
}

// LatencyMetrics snapshots the owned latency tracker.
func (f *Fetcher) LatencyMetrics() latency.Metrics {
	return f.tracker.Metrics()
}

// SourceStatus lists the cooldown state of every configured source.
func (f *Fetcher) SourceStatus() []SourceStatus {
	var out []SourceStatus
	for _, src := range []any{f.sources.Primary, f.sources.Secondary, f.sources.Tertiary, f.sources.Alternative} {
		if r, ok := src.(StatusReporter); ok && r != nil {
			out = append(out, r.Status())
		}
	}
	return out
}
