package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const maxHealthMessage = 100

// Health is the verdict of the primary-source check.
type Health struct {
	Healthy       bool          `json:"healthy"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	Message       string        `json:"message"`
	ResponseTime  time.Duration `json:"response_time"`
	Cached        bool          `json:"cached"`
}

type healthState struct {
	mu       sync.Mutex
	interval time.Duration
	timeout  time.Duration
	checkID  string
	last     Health

	// inflight coalesces concurrent callers onto one upstream call.
	inflight singleflight.Group
}

// HealthCheck asks the primary source at most once per configured interval
// and returns the cached verdict in between. The cached verdict also reflects
// primary-source outcomes seen by regular lookups since the last check.
// The upstream call runs without holding the health lock.
func (f *Fetcher) HealthCheck(ctx context.Context) Health {
	if cached, ok := f.cachedHealth(); ok {
		return cached
	}

	v, _, _ := f.health.inflight.Do("health", func() (any, error) {
		return f.checkUpstream(ctx), nil
	})
	return v.(Health)
}

func (f *Fetcher) cachedHealth() (Health, bool) {
	f.health.mu.Lock()
	defer f.health.mu.Unlock()

	last := f.health.last
	if last.LastCheckedAt.IsZero() || f.now().Sub(last.LastCheckedAt) >= f.health.interval {
		return Health{}, false
	}
	return Health{
		Healthy:       f.connected.Load(),
		LastCheckedAt: last.LastCheckedAt,
		Message:       "using cached health status",
		Cached:        true,
	}, true
}

func (f *Fetcher) checkUpstream(ctx context.Context) Health {
	verdict := Health{LastCheckedAt: f.now()}
	if f.sources.Primary == nil {
		verdict.Message = "primary source not configured"
		f.connected.Store(false)
		f.publishHealth(verdict)
		return verdict
	}

	ctx, cancel := context.WithTimeout(ctx, f.health.timeout)
	defer cancel()

	start := time.Now()
	err := f.observe(f.sources.Primary.Name(), func() error {
		prices, err := f.sources.Primary.FetchBatch(ctx, []string{f.health.checkID})
		if err != nil {
			return err
		}
		if prices[f.health.checkID] <= 0 {
			return ErrNotFound
		}
		return nil
	})
	verdict.ResponseTime = time.Since(start)

	if err != nil {
		verdict.Message = fmt.Sprintf("%s error: %s", f.sources.Primary.Name(), truncate(err.Error(), maxHealthMessage))
		if isCallerAbort(err) {
			// The caller left; the next check asks again.
			return verdict
		}
		f.logger.Warn().Err(err).Msg("health check failed")
	} else {
		verdict.Healthy = true
		verdict.Message = fmt.Sprintf("%s is responsive", f.sources.Primary.Name())
	}

	f.connected.Store(verdict.Healthy)
	f.publishHealth(verdict)
	return verdict
}

func (f *Fetcher) publishHealth(verdict Health) {
	f.health.mu.Lock()
	f.health.last = verdict
	f.health.mu.Unlock()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
