package volatility

import (
	"math"
	"time"
)

// Defaults used when an Engine field is left zero.
const (
	DefaultMinSamples          = 30
	DefaultStabilityWindow     = 30
	DefaultStabilityMinSamples = 10
	DefaultStabilityThreshold  = 0.02
	DefaultStabilityScale      = 1000
	DefaultAnomalyLookback     = 50
	DefaultAnomalyBaseline     = 10
	DefaultAnomalyZ            = 3
	DefaultHighZ               = 5
)

// Engine holds the tuning for volatility and anomaly computations. It carries
// no state between calls and is safe for concurrent use.
type Engine struct {
	// Interval is the sampling period used to annualize realized volatility.
	Interval time.Duration

	MinSamples int

	StabilityWindow     int
	StabilityMinSamples int
	StabilityThreshold  float64
	StabilityScale      float64

	AnomalyLookback int
	AnomalyBaseline int
	AnomalyZ        float64
	HighZ           float64
}

// NewEngine returns an Engine for interval with every other field defaulted.
func NewEngine(interval time.Duration) Engine {
	return Engine{Interval: interval}.withDefaults()
}

func (e Engine) withDefaults() Engine {
	if e.Interval <= 0 {
		e.Interval = 10 * time.Second
	}
	if e.MinSamples < 2 {
		e.MinSamples = DefaultMinSamples
	}
	if e.StabilityWindow < 2 {
		e.StabilityWindow = DefaultStabilityWindow
	}
	if e.StabilityMinSamples <= 0 {
		e.StabilityMinSamples = DefaultStabilityMinSamples
	}
	if e.StabilityThreshold <= 0 {
		e.StabilityThreshold = DefaultStabilityThreshold
	}
	if e.StabilityScale <= 0 {
		e.StabilityScale = DefaultStabilityScale
	}
	if e.AnomalyLookback <= 0 {
		e.AnomalyLookback = DefaultAnomalyLookback
	}
	if e.AnomalyBaseline <= 0 {
		e.AnomalyBaseline = DefaultAnomalyBaseline
	}
	if e.AnomalyZ <= 0 {
		e.AnomalyZ = DefaultAnomalyZ
	}
	if e.HighZ <= 0 {
		e.HighZ = DefaultHighZ
	}
	return e
}

// RealizedVolatility annualizes the sample standard deviation of log returns
// over the most recent MinSamples prices. ok is false when there are fewer
// samples than that.
func (e Engine) RealizedVolatility(prices []float64) (value float64, ok bool) {
	e = e.withDefaults()
	if len(prices) < e.MinSamples {
		return 0, false
	}
	window := prices[len(prices)-e.MinSamples:]

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	if len(returns) < 2 {
		return 0, false
	}

	samplesPerDay := (24 * time.Hour).Seconds() / e.Interval.Seconds()
	return sampleStdDev(returns) * math.Sqrt(samplesPerDay), true
}

// StabilityReport summarises recent price movement for one token.
type StabilityReport struct {
	AveragePrice      float64 `json:"average_price"`
	MaxChange         float64 `json:"max_change"`
	AverageChange     float64 `json:"average_change"`
	Volatility        float64 `json:"volatility"`
	Score             float64 `json:"stability_score"`
	Stable            bool    `json:"is_stable"`
	ThresholdBreached bool    `json:"threshold_breached"`
	SampleCount       int     `json:"sample_count"`
}

// Stability scores the absolute percentage changes over the trailing window.
// The score is 100 minus the scaled dispersion of those changes, floored at 0.
func (e Engine) Stability(prices []float64) (StabilityReport, bool) {
	e = e.withDefaults()
	if len(prices) < e.StabilityMinSamples {
		return StabilityReport{}, false
	}
	window := prices
	if len(window) > e.StabilityWindow {
		window = window[len(window)-e.StabilityWindow:]
	}

	changes := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 {
			continue
		}
		changes = append(changes, math.Abs((window[i]-window[i-1])/window[i-1]))
	}
	if len(changes) == 0 {
		return StabilityReport{}, false
	}

	maxChange := 0.0
	for _, c := range changes {
		maxChange = math.Max(maxChange, c)
	}
	dispersion := populationStdDev(changes)

	return StabilityReport{
		AveragePrice:      mean(window),
		MaxChange:         maxChange,
		AverageChange:     mean(changes),
		Volatility:        dispersion,
		Score:             math.Max(0, 100-dispersion*e.StabilityScale),
		Stable:            maxChange < e.StabilityThreshold,
		ThresholdBreached: maxChange >= e.StabilityThreshold,
		SampleCount:       len(window),
	}, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func populationStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
