package sampler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sol-price-oracle/internal/alerting"
	"sol-price-oracle/internal/volatility"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]float64
	panics map[string]bool
	calls  int
}

func (f *fakeSource) GetPrice(_ context.Context, id string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics[id] {
		panic("decoder exploded")
	}
	return f.prices[id]
}

func (f *fakeSource) set(id string, price float64) {
	f.mu.Lock()
	f.prices[id] = price
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var watch = []WatchToken{
	{Symbol: "SOL", ID: "sol-mint"},
	{Symbol: "BONK", ID: "bonk-mint"},
	{Symbol: "USDC", ID: "usdc-mint"},
}

func newTestService(src PriceSource, c *clock, opts Options) *Service {
	opts.Now = c.Now
	return New(opts, src, watch, volatility.Engine{}, nil, zerolog.Nop())
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPassIsolatesTokenFailures(t *testing.T) {
	src := &fakeSource{
		prices: map[string]float64{"sol-mint": 150, "usdc-mint": 1},
		panics: map[string]bool{"bonk-mint": true},
	}
	s := newTestService(src, newClock(), Options{})

	require.NoError(t, s.pass(context.Background(), time.Time{}))

	assert.Len(t, s.PriceHistory("SOL", 0), 1)
	assert.Len(t, s.PriceHistory("USDC", 0), 1)
	assert.Empty(t, s.PriceHistory("BONK", 0))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.PassCount)
	assert.Equal(t, uint64(1), st.ErrorCount)
	assert.Equal(t, 2, st.TokensTracked)
	assert.Equal(t, 2, st.TotalSamples)
	require.NotNil(t, st.LastUpdateAt)
}

func TestPassCountsMissingPrices(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 150}}
	s := newTestService(src, newClock(), Options{})

	require.NoError(t, s.pass(context.Background(), time.Time{}))
	require.NoError(t, s.pass(context.Background(), time.Time{}))

	st := s.Stats()
	assert.Equal(t, uint64(2), st.PassCount)
	assert.Equal(t, uint64(4), st.ErrorCount)
	assert.Equal(t, 2.0, st.ErrorRate)
	assert.Equal(t, 1, st.TokensTracked)
}

func TestHistoryIsBounded(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 100}}
	c := newClock()
	s := newTestService(src, c, Options{Interval: 10 * time.Second, Retention: time.Minute})

	for i := 0; i < 10; i++ {
		src.set("sol-mint", 100+float64(i))
		require.NoError(t, s.pass(context.Background(), time.Time{}))
		c.Advance(10 * time.Second)
	}

	hist := s.PriceHistory("SOL", 0)
	require.Len(t, hist, 6)
	assert.Equal(t, 104.0, hist[0].Price, "oldest samples are dropped first")
	assert.Equal(t, 109.0, hist[5].Price)
	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i].Timestamp.After(hist[i-1].Timestamp))
	}
}

func TestPriceHistoryWindow(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 100}}
	c := newClock()
	s := newTestService(src, c, Options{})

	for i := 0; i < 30; i++ {
		require.NoError(t, s.pass(context.Background(), time.Time{}))
		c.Advance(10 * time.Second)
	}

	// now is 300s after the first sample
	assert.Len(t, s.PriceHistory("SOL", time.Minute), 6)
	assert.Len(t, s.PriceHistory("SOL", time.Hour), 30)
	assert.Empty(t, s.PriceHistory("UNKNOWN", time.Hour))
	assert.NotNil(t, s.PriceHistory("UNKNOWN", time.Hour))
}

func TestStartIsIdempotentAndStopJoins(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 150, "bonk-mint": 0.00002, "usdc-mint": 1}}
	s := New(Options{Interval: time.Hour}, src, watch, volatility.Engine{}, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Stats().Running)

	assert.Eventually(t, func() bool { return s.Stats().PassCount == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, len(watch), src.callCount(), "a second Start must not spawn another loop")
	assert.Equal(t, uint64(1), s.Stats().PassCount)

	require.NoError(t, s.Stop())
	assert.False(t, s.Stats().Running)
	require.NoError(t, s.Stop(), "stopping a stopped service is a no-op")
}

func TestLoopKeepsSampling(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 150}}
	s := New(Options{Interval: 15 * time.Millisecond}, src, watch[:1], volatility.Engine{}, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Stats().PassCount >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	passes := s.Stats().PassCount
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, passes, s.Stats().PassCount, "no passes after Stop")
}

type slowSource struct {
	release chan struct{}
}

func (s *slowSource) GetPrice(ctx context.Context, _ string) float64 {
	<-s.release
	return 1
}

func TestStopTimesOut(t *testing.T) {
	src := &slowSource{release: make(chan struct{})}
	s := New(Options{Interval: time.Hour, StopTimeout: 30 * time.Millisecond}, src, watch[:1], volatility.Engine{}, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)

	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)

	close(src.release)
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

// ctxSource blocks until its caller goes away, then answers anyway, the way
// a fetcher falls back to a static estimate.
type ctxSource struct {
	entered chan struct{}
}

func (s *ctxSource) GetPrice(ctx context.Context, _ string) float64 {
	close(s.entered)
	<-ctx.Done()
	return 180
}

func TestStopMidRequestRecordsNothing(t *testing.T) {
	src := &ctxSource{entered: make(chan struct{})}
	s := New(Options{Interval: time.Hour}, src, watch[:1], volatility.Engine{}, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler never asked for a price")
	}
	require.NoError(t, s.Stop())

	st := s.Stats()
	assert.Empty(t, s.PriceHistory("SOL", time.Hour))
	assert.Zero(t, st.TotalSamples)
	assert.Zero(t, st.ErrorCount)
	assert.Zero(t, st.PassCount)
	assert.Nil(t, st.LastUpdateAt)
}

func TestRestartAfterStop(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 150}}
	s := New(Options{Interval: 10 * time.Millisecond}, src, watch[:1], volatility.Engine{}, nil, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	before := s.Stats().PassCount

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Stats().PassCount > before }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestAnalyticsOverHistory(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"sol-mint": 150, "usdc-mint": 1}}
	c := newClock()
	s := newTestService(src, c, Options{})

	for i := 0; i < 31; i++ {
		price := 99.0
		if i%2 == 1 {
			price = 101
		}
		if i == 30 {
			price = 200
		}
		src.set("sol-mint", price)
		require.NoError(t, s.pass(context.Background(), time.Time{}))
		c.Advance(10 * time.Second)
	}

	rv := s.AllRealizedVolatility()
	require.Contains(t, rv, "SOL")
	assert.True(t, rv["SOL"].Available)
	assert.Greater(t, rv["SOL"].Value, 0.0)
	assert.True(t, rv["USDC"].Available)
	assert.Equal(t, 0.0, rv["USDC"].Value)
	assert.False(t, rv["BONK"].Available)

	stab := s.AllStability()
	assert.Contains(t, stab, "SOL")
	assert.NotContains(t, stab, "BONK")
	assert.Equal(t, 100.0, stab["USDC"].Score)

	events := s.Anomalies("SOL")
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 200.0, last.Price)
	assert.Equal(t, volatility.SeverityHigh, last.Severity)

	all := s.AllAnomalies()
	assert.Contains(t, all, "SOL")
	assert.NotContains(t, all, "USDC")

	assert.Empty(t, s.Anomalies("BONK"))
}

func TestReadingJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Reading{
		"SOL":  {Value: 0.5, Available: true},
		"BONK": {},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"SOL":0.5,"BONK":null}`, string(b))
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	r.notes = append(r.notes, note)
	r.mu.Unlock()
	return nil
}

func TestAlertsOnNewestAnomaly(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{}}
	c := newClock()
	notifier := &recordingNotifier{}
	s := New(Options{Now: c.Now}, src, watch[:1], volatility.Engine{}, notifier, zerolog.Nop())

	for _, p := range []float64{99, 101, 99, 101, 99, 101, 99, 101, 99, 101} {
		src.set("sol-mint", p)
		require.NoError(t, s.pass(context.Background(), time.Time{}))
		c.Advance(10 * time.Second)
	}
	assert.Empty(t, notifier.notes)

	src.set("sol-mint", 200)
	require.NoError(t, s.pass(context.Background(), time.Time{}))

	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, "SOL", note.Token)
	assert.Equal(t, "high", note.Severity)
	assert.Equal(t, 200.0, note.Price)
}
