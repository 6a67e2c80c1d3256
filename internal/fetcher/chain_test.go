package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeBatch struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  [][]string
}

func (f *fakeBatch) Name() string { return "fake_primary" }

func (f *fakeBatch) FetchBatch(_ context.Context, ids []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64)
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeBatch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeToken struct {
	name   string
	prices map[string]float64 // keyed by mint
	err    error
	calls  int
}

func (f *fakeToken) Name() string { return f.name }

func (f *fakeToken) Fetch(_ context.Context, token Token) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[token.Mint]
	if !ok {
		return 0, ErrUnsupported
	}
	return p, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestFetcher(clock *fakeClock, sources Sources) *Fetcher {
	return New(Options{
		CacheCapacity:  10,
		CacheTTL:       7 * time.Second,
		LatencyWindow:  100,
		HealthInterval: 30 * time.Second,
		Now:            clock.Now,
	}, sources, NewRegistry(DefaultTokens()), noopLogger())
}

func TestResolvePrimaryThenCache(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	f := newTestFetcher(clock, Sources{Primary: primary})

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, Resolution{ID: solMint, Price: 150, Tier: TierPrimary}, res)

	res = f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierCache, res.Tier)
	assert.Equal(t, 1, primary.callCount(), "fresh cache hit must not call upstream")

	m := f.LatencyMetrics()
	assert.Equal(t, uint64(1), m.TotalCalls)
	assert.Equal(t, 0.0, m.ErrorRatePercent)
}

func TestStaleCachePrecedesSecondary(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	secondary := &fakeToken{name: "fake_secondary", prices: map[string]float64{solMint: 160}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary})

	require.Equal(t, 150.0, f.GetPrice(context.Background(), solMint))

	clock.Advance(20 * time.Second)
	primary.err = errors.New("connection reset")

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, 150.0, res.Price)
	assert.Equal(t, TierStale, res.Tier)
	assert.True(t, res.Degraded())
	assert.Equal(t, 0, secondary.calls)

	// the stale read leaves the timestamp untouched
	_, storedAt, ok := f.cache.Peek(solMint)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-20*time.Second), storedAt)
}

func TestSecondaryWhenNothingCached(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{err: errors.New("timeout")}
	secondary := &fakeToken{name: "fake_secondary", prices: map[string]float64{solMint: 160}}
	tertiary := &fakeToken{name: "fake_tertiary", prices: map[string]float64{solMint: 170}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary, Tertiary: tertiary})

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierSecondary, res.Tier)
	assert.Equal(t, 160.0, res.Price)
	assert.Equal(t, 0, tertiary.calls)

	// cached for subsequent lookups
	res = f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierCache, res.Tier)
	assert.Equal(t, 160.0, res.Price)
}

func TestTertiaryAfterSecondaryFails(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{err: errors.New("timeout")}
	secondary := &fakeToken{name: "fake_secondary", err: errors.New("boom")}
	tertiary := &fakeToken{name: "fake_tertiary", prices: map[string]float64{solMint: 170}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary, Tertiary: tertiary})

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierTertiary, res.Tier)
	assert.Equal(t, 170.0, res.Price)

	m := f.LatencyMetrics()
	assert.Equal(t, uint64(3), m.TotalCalls)
	assert.Equal(t, uint64(2), m.TotalErrors)
}

func TestAlternativeTier(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{err: errors.New("timeout")}
	alt := &fakeToken{name: "fake_alt", prices: map[string]float64{bonkMint: 0.00003}}
	f := newTestFetcher(clock, Sources{
		Primary:     primary,
		Secondary:   &fakeToken{name: "fake_secondary"},
		Tertiary:    &fakeToken{name: "fake_tertiary"},
		Alternative: alt,
	})

	res := f.Resolve(context.Background(), bonkMint)
	assert.Equal(t, TierAlternative, res.Tier)
	assert.Equal(t, 0.00003, res.Price)
}

func TestStaticEstimateIsCached(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{err: errors.New("down")}
	secondary := &fakeToken{name: "fake_secondary", err: errors.New("down")}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary})

	res := f.Resolve(context.Background(), usdcMint)
	assert.Equal(t, TierStatic, res.Tier)
	assert.Equal(t, 0.9999, res.Price)

	res = f.Resolve(context.Background(), usdcMint)
	assert.Equal(t, TierCache, res.Tier)
	assert.Equal(t, 1, primary.callCount())
}

func TestUnknownTokenExhaustionReturnsZero(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{err: errors.New("down")}
	f := newTestFetcher(clock, Sources{
		Primary:   primary,
		Secondary: &fakeToken{name: "fake_secondary"},
		Tertiary:  &fakeToken{name: "fake_tertiary"},
	})

	res := f.Resolve(context.Background(), "UnknownMint1111111111111111111111111111111")
	assert.Equal(t, 0.0, res.Price)
	assert.Equal(t, TierNone, res.Tier)
	assert.Equal(t, 0, f.CacheStats().Size, "zero is never cached")

	// unsupported lookups never reach the network, so only the primary is recorded
	assert.Equal(t, uint64(1), f.LatencyMetrics().TotalCalls)
}

func TestPrimaryWithoutDataFallsThrough(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{}}
	secondary := &fakeToken{name: "fake_secondary", prices: map[string]float64{solMint: 161}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary})

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierSecondary, res.Tier)
	assert.Equal(t, 50.0, f.LatencyMetrics().ErrorRatePercent)
}

func TestNoPrimaryConfigured(t *testing.T) {
	clock := newFakeClock()
	f := newTestFetcher(clock, Sources{})

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, TierStatic, res.Tier)
	assert.Equal(t, 180.0, res.Price)
}

func TestGetPricesBatchWithMissingTokens(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	secondary := &fakeToken{name: "fake_secondary", prices: map[string]float64{bonkMint: 0.00002}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary})

	prices := f.GetPrices(context.Background(), []string{solMint, bonkMint, usdcMint, solMint})
	assert.Equal(t, map[string]float64{
		solMint:  150,
		bonkMint: 0.00002,
		usdcMint: 0.9999,
	}, prices)

	require.Equal(t, 1, primary.callCount())
	assert.ElementsMatch(t, []string{solMint, bonkMint, usdcMint}, primary.calls[0])

	// every token is now cached
	prices = f.GetPrices(context.Background(), []string{solMint, bonkMint})
	assert.Len(t, prices, 2)
	assert.Equal(t, 1, primary.callCount())
}

func TestGetPricesBatchFailureUsesStale(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150, bonkMint: 0.00002}}
	f := newTestFetcher(clock, Sources{Primary: primary})

	f.GetPrices(context.Background(), []string{solMint, bonkMint})
	clock.Advance(time.Minute)
	primary.err = errors.New("down")

	prices := f.GetPrices(context.Background(), []string{solMint, bonkMint})
	assert.Equal(t, 150.0, prices[solMint])
	assert.Equal(t, 0.00002, prices[bonkMint])
}

func TestConcurrentResolve(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150, bonkMint: 0.00002}}
	f := newTestFetcher(clock, Sources{Primary: primary})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := solMint
			if i%2 == 0 {
				id = bonkMint
			}
			assert.Greater(t, f.GetPrice(context.Background(), id), 0.0)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, f.CacheStats().Size, 2)
}

func TestHealthCheckIsRateLimited(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	f := newTestFetcher(clock, Sources{Primary: primary})

	h := f.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
	assert.False(t, h.Cached)
	assert.Equal(t, 1, primary.callCount())

	clock.Advance(10 * time.Second)
	h = f.HealthCheck(context.Background())
	assert.True(t, h.Cached)
	assert.Equal(t, 1, primary.callCount())

	primary.err = errors.New("down")
	clock.Advance(25 * time.Second)
	h = f.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.False(t, h.Cached)
	assert.Contains(t, h.Message, "down")
	assert.Equal(t, 2, primary.callCount())
}

func TestHealthVerdictTracksLookups(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	f := newTestFetcher(clock, Sources{Primary: primary})

	require.True(t, f.HealthCheck(context.Background()).Healthy)

	primary.err = errors.New("down")
	f.GetPrice(context.Background(), bonkMint)

	h := f.HealthCheck(context.Background())
	assert.True(t, h.Cached)
	assert.False(t, h.Healthy)
}

// gatedBatch holds every call until release is closed, then answers like
// fakeBatch. A call whose ctx ends first returns the ctx error.
type gatedBatch struct {
	fakeBatch
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedBatch(prices map[string]float64) *gatedBatch {
	return &gatedBatch{
		fakeBatch: fakeBatch{prices: prices},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedBatch) FetchBatch(ctx context.Context, ids []string) (map[string]float64, error) {
	g.once.Do(func() { close(g.entered) })
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fake_primary: %w", err)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, fmt.Errorf("fake_primary: %w", ctx.Err())
	}
	return g.fakeBatch.FetchBatch(ctx, ids)
}

func TestCancelledCallerGetsNothing(t *testing.T) {
	clock := newFakeClock()
	primary := &fakeBatch{prices: map[string]float64{solMint: 150}}
	secondary := &fakeToken{name: "secondary", prices: map[string]float64{solMint: 149}}
	f := newTestFetcher(clock, Sources{Primary: primary, Secondary: secondary})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.Resolve(ctx, solMint)
	assert.Equal(t, Resolution{ID: solMint, Tier: TierNone}, res)
	assert.Zero(t, primary.callCount())
	assert.Zero(t, secondary.calls)
	assert.Zero(t, f.CacheStats().Size, "static estimate must not be cached")

	res = f.Resolve(context.Background(), solMint)
	assert.Equal(t, Resolution{ID: solMint, Price: 150, Tier: TierPrimary}, res)
}

func TestCallerLeavingMidWalkDoesNotPoisonOthers(t *testing.T) {
	clock := newFakeClock()
	primary := newGatedBatch(map[string]float64{solMint: 150})
	f := newTestFetcher(clock, Sources{Primary: primary})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Resolution, 1)
	go func() { done <- f.Resolve(ctx, solMint) }()

	<-primary.entered
	cancel()
	select {
	case res := <-done:
		assert.Equal(t, TierNone, res.Tier)
		assert.Zero(t, res.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller stayed blocked on the shared walk")
	}

	// the shared walk keeps going and stores the real quote
	close(primary.release)
	assert.Eventually(t, func() bool { return f.CacheStats().Size == 1 }, 2*time.Second, 5*time.Millisecond)

	res := f.Resolve(context.Background(), solMint)
	assert.Equal(t, 150.0, res.Price)
	assert.Contains(t, []Tier{TierPrimary, TierCache}, res.Tier)
	assert.True(t, f.connected.Load())

	m := f.LatencyMetrics()
	assert.Equal(t, uint64(1), m.TotalCalls)
	assert.Zero(t, m.TotalErrors)
}

func TestCancelledBatchLeavesStateAlone(t *testing.T) {
	clock := newFakeClock()
	primary := newGatedBatch(map[string]float64{solMint: 150})
	close(primary.release)
	f := newTestFetcher(clock, Sources{Primary: primary})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prices := f.GetPrices(ctx, []string{solMint, bonkMint})
	assert.Equal(t, map[string]float64{solMint: 0, bonkMint: 0}, prices)
	assert.Zero(t, f.CacheStats().Size)
	assert.Zero(t, f.LatencyMetrics().TotalCalls, "cancelled calls are not charged to the source")
	assert.True(t, f.connected.Load())
	assert.True(t, f.HealthCheck(context.Background()).Healthy)
}

func TestTierNames(t *testing.T) {
	assert.Equal(t, "stale", TierStale.String())
	assert.Equal(t, "unknown", Tier(99).String())
	text, err := TierStatic.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "static", string(text))
}
