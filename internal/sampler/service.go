package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"sol-price-oracle/internal/alerting"
	"sol-price-oracle/internal/metrics"
	"sol-price-oracle/internal/scheduler"
	"sol-price-oracle/internal/volatility"
)

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("sampler: timed out waiting for loop to exit")

// PriceSource resolves a best-effort price; zero means unknown.
type PriceSource interface {
	GetPrice(ctx context.Context, id string) float64
}

// WatchToken pairs the symbol histories are keyed by with the identifier the
// price source understands.
type WatchToken struct {
	Symbol string
	ID     string
}

// Options tune the sampling loop.
type Options struct {
	Interval time.Duration
	// Retention bounds each token's history; capacity is Retention/Interval.
	Retention    time.Duration
	StopTimeout  time.Duration
	ErrorBackoff time.Duration

	// AlertSeverity is the lowest anomaly severity forwarded to the notifier.
	AlertSeverity volatility.Severity

	Now func() time.Time
}

// Service polls the price source for a fixed watch list in the background.
type Service struct {
	source   PriceSource
	tokens   []WatchToken
	opts     Options
	engine   volatility.Engine
	notifier alerting.Notifier
	logger   zerolog.Logger
	capacity int

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	running    *atomic.Bool
	passCount  *atomic.Uint64
	errorCount *atomic.Uint64
	lastUpdate *atomic.Time

	histMu    sync.RWMutex
	histories map[string]*history
}

// New constructs a stopped Service. notifier may be nil.
func New(opts Options, source PriceSource, tokens []WatchToken, engine volatility.Engine, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	if opts.AlertSeverity == 0 {
		opts.AlertSeverity = volatility.SeverityHigh
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	engine.Interval = opts.Interval

	capacity := int(opts.Retention / opts.Interval)
	if capacity < 1 {
		capacity = 1
	}

	return &Service{
		source:     source,
		tokens:     append([]WatchToken(nil), tokens...),
		opts:       opts,
		engine:     engine,
		notifier:   notifier,
		logger:     logger.With().Str("component", "sampler").Logger(),
		capacity:   capacity,
		running:    atomic.NewBool(false),
		passCount:  atomic.NewUint64(0),
		errorCount: atomic.NewUint64(0),
		lastUpdate: atomic.NewTime(time.Time{}),
		histories:  make(map[string]*history),
	}
}

// Start launches the sampling loop. It is a no-op while the loop is running.
// The loop lives until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.source == nil {
		return errors.New("sampler: price source not configured")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     s.opts.Interval,
		Immediate:    true,
		ErrorBackoff: s.opts.ErrorBackoff,
	}, s.logger)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)

	go func() {
		defer close(done)
		defer s.running.Store(false)
		if err := sched.Run(loopCtx, s.pass); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("sampling loop exited")
		}
	}()

	s.logger.Info().Int("tokens", len(s.tokens)).
		Dur("interval", s.opts.Interval).
		Msg("sampler started")
	return nil
}

// Stop signals the loop and waits up to StopTimeout for it to exit.
func (s *Service) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	done := s.done

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.cancel = nil
		s.done = nil
		s.logger.Info().Msg("sampler stopped")
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Tokens lists the watch list.
func (s *Service) Tokens() []WatchToken {
	return append([]WatchToken(nil), s.tokens...)
}

// pass samples every watch token once. A panic outside the per-token
// boundary is turned into an error so the scheduler backs off.
func (s *Service) pass(ctx context.Context, _ time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.errorCount.Inc()
			err = fmt.Errorf("sampling pass panicked: %v", r)
		}
	}()

	now := s.opts.Now()
	for _, token := range s.tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok := s.sampleToken(ctx, token, now)
		if ctx.Err() != nil {
			// Stopped mid-pass: the pass is not counted.
			return ctx.Err()
		}
		if !ok {
			s.errorCount.Inc()
			metrics.ObserveSamplingError()
		}
	}

	s.passCount.Inc()
	s.lastUpdate.Store(now)
	metrics.ObservePass()

	s.checkAnomalies(ctx)
	return nil
}

func (s *Service) sampleToken(ctx context.Context, token WatchToken, at time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("token", token.Symbol).Interface("panic", r).Msg("sampling token failed")
			ok = false
		}
	}()

	price := s.source.GetPrice(ctx, token.ID)
	if ctx.Err() != nil {
		return false
	}
	if price <= 0 {
		s.logger.Warn().Str("token", token.Symbol).Msg("no price available for sample")
		return false
	}

	n := s.historyFor(token.Symbol).add(PriceSample{Token: token.Symbol, Timestamp: at, Price: price})
	metrics.SetHistorySize(token.Symbol, n)
	s.logger.Debug().Str("token", token.Symbol).Float64("price", price).Msg("sample recorded")
	return true
}

func (s *Service) checkAnomalies(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	for _, token := range s.tokens {
		ev, ok := s.engine.Latest(s.points(token.Symbol))
		if !ok || ev.Severity < s.opts.AlertSeverity {
			continue
		}
		note := alerting.Notification{
			Token:        token.Symbol,
			At:           ev.Timestamp,
			Price:        ev.Price,
			BaselineMean: ev.BaselineMean,
			ZScore:       ev.ZScore,
			Severity:     ev.Severity.String(),
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("token", token.Symbol).Msg("failed to dispatch alert")
		}
	}
}

// historyFor returns the token's buffer, creating it on first use.
func (s *Service) historyFor(symbol string) *history {
	s.histMu.RLock()
	h, ok := s.histories[symbol]
	s.histMu.RUnlock()
	if ok {
		return h
	}

	s.histMu.Lock()
	defer s.histMu.Unlock()
	if h, ok = s.histories[symbol]; !ok {
		h = newHistory(s.capacity)
		s.histories[symbol] = h
	}
	return h
}

func (s *Service) lookup(symbol string) (*history, bool) {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	h, ok := s.histories[symbol]
	return h, ok
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	Running        bool       `json:"is_running"`
	LastUpdateAt   *time.Time `json:"last_update"`
	PassCount      uint64     `json:"update_count"`
	ErrorCount     uint64     `json:"error_count"`
	ErrorRate      float64    `json:"error_rate"`
	TokensTracked  int        `json:"tokens_tracked"`
	TotalSamples   int        `json:"total_samples"`
	IntervalSecond float64    `json:"sample_interval"`
}

// Stats snapshots the loop counters and history sizes.
func (s *Service) Stats() Stats {
	passes := s.passCount.Load()
	errs := s.errorCount.Load()

	st := Stats{
		Running:        s.running.Load(),
		PassCount:      passes,
		ErrorCount:     errs,
		ErrorRate:      float64(errs) / float64(max(1, passes)),
		IntervalSecond: s.opts.Interval.Seconds(),
	}
	if last := s.lastUpdate.Load(); !last.IsZero() {
		st.LastUpdateAt = &last
	}

	s.histMu.RLock()
	defer s.histMu.RUnlock()
	st.TokensTracked = len(s.histories)
	for _, h := range s.histories {
		st.TotalSamples += h.len()
	}
	return st
}
