package latency

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	defaultCapacity = 100
	// p95 is only ranked once the window holds this many samples; below it the
	// window maximum is reported instead.
	minSamplesForP95 = 20
)

// Status classifies upstream call health from the current window.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusSlow     Status = "slow"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Metrics summarises the recorded calls.
type Metrics struct {
	AvgMs            float64 `json:"avg_latency_ms"`
	P50Ms            float64 `json:"p50_latency_ms"`
	P95Ms            float64 `json:"p95_latency_ms"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
	TotalCalls       uint64  `json:"total_calls"`
	TotalErrors      uint64  `json:"total_errors"`
	RecentCallCount  int     `json:"recent_calls"`
}

// MarshalJSON reports the figures rounded to two decimals; the Go values
// stay exact.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	out := plain(m)
	out.AvgMs = round2(out.AvgMs)
	out.P50Ms = round2(out.P50Ms)
	out.P95Ms = round2(out.P95Ms)
	out.ErrorRatePercent = round2(out.ErrorRatePercent)
	return json.Marshal(out)
}

// Status derives a coarse health classification.
func (m Metrics) Status() Status {
	switch {
	case m.ErrorRatePercent > 50:
		return StatusCritical
	case m.ErrorRatePercent > 20 || m.P95Ms > 5000:
		return StatusDegraded
	case m.P95Ms > 2000:
		return StatusSlow
	default:
		return StatusHealthy
	}
}

// Tracker records call durations and outcomes in a fixed-size ring.
type Tracker struct {
	mu        sync.Mutex
	durations []float64
	failures  []bool
	next      int
	filled    int

	totalCalls  uint64
	totalErrors uint64
}

// New builds a tracker holding the most recent capacity calls.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tracker{
		durations: make([]float64, capacity),
		failures:  make([]bool, capacity),
	}
}

// Record stores one call outcome, overwriting the oldest once full.
func (t *Tracker) Record(d time.Duration, succeeded bool) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.durations[t.next] = ms
	t.failures[t.next] = !succeeded
	t.next = (t.next + 1) % len(t.durations)
	if t.filled < len(t.durations) {
		t.filled++
	}

	t.totalCalls++
	if !succeeded {
		t.totalErrors++
	}
}

// Metrics computes statistics over the current window.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	window := make([]float64, t.filled)
	copy(window, t.durations[:t.filled])
	errors := 0
	for _, failed := range t.failures[:t.filled] {
		if failed {
			errors++
		}
	}
	m := Metrics{
		TotalCalls:      t.totalCalls,
		TotalErrors:     t.totalErrors,
		RecentCallCount: t.filled,
	}
	t.mu.Unlock()

	if len(window) == 0 {
		return m
	}

	sort.Float64s(window)

	var sum float64
	for _, v := range window {
		sum += v
	}

	m.AvgMs = sum / float64(len(window))
	m.P50Ms = median(window)
	m.P95Ms = p95(window)
	m.ErrorRatePercent = float64(errors) / float64(len(window)) * 100
	return m
}

// Capacity returns the window size.
func (t *Tracker) Capacity() int {
	return len(t.durations)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// p95 uses nearest-rank on the sorted window; small windows report the max.
func p95(sorted []float64) float64 {
	n := len(sorted)
	if n < minSamplesForP95 {
		return sorted[n-1]
	}
	rank := int(math.Ceil(0.95 * float64(n)))
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
