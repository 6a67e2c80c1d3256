package volatility

import (
	"math"
	"time"
)

// Severity grades an anomaly by its z-score.
type Severity int

const (
	SeverityMedium Severity = iota + 1
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// MarshalText renders the severity by name in JSON and logs.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity maps a configured name onto a Severity.
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	}
	return 0, false
}

// Point is one observed price.
type Point struct {
	Timestamp time.Time
	Price     float64
}

// AnomalyEvent is a point that sits too far from its preceding baseline.
type AnomalyEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Price        float64   `json:"price"`
	BaselineMean float64   `json:"baseline_mean"`
	ZScore       float64   `json:"z_score"`
	Severity     Severity  `json:"severity"`
}

// Anomalies scans the trailing AnomalyLookback points. Each point after the
// first baseline window is compared with the window of points right before
// it; a baseline without dispersion never flags.
func (e Engine) Anomalies(points []Point) []AnomalyEvent {
	e = e.withDefaults()
	points, window, ok := e.trailing(points)
	if !ok {
		return nil
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}

	var events []AnomalyEvent
	for i := window; i < len(points); i++ {
		if ev, ok := e.score(prices[i-window:i], points[i]); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Latest reports whether the newest point is anomalous against its baseline.
func (e Engine) Latest(points []Point) (AnomalyEvent, bool) {
	e = e.withDefaults()
	points, window, ok := e.trailing(points)
	if !ok {
		return AnomalyEvent{}, false
	}

	n := len(points)
	baseline := make([]float64, 0, window)
	for _, p := range points[n-1-window : n-1] {
		baseline = append(baseline, p.Price)
	}
	return e.score(baseline, points[n-1])
}

// trailing cuts points to the lookback and sizes the baseline window at
// min(AnomalyBaseline, n/2).
func (e Engine) trailing(points []Point) ([]Point, int, bool) {
	if len(points) < e.AnomalyBaseline {
		return nil, 0, false
	}
	if len(points) > e.AnomalyLookback {
		points = points[len(points)-e.AnomalyLookback:]
	}
	window := min(e.AnomalyBaseline, len(points)/2)
	if window < 2 {
		return nil, 0, false
	}
	return points, window, true
}

func (e Engine) score(baseline []float64, current Point) (AnomalyEvent, bool) {
	std := populationStdDev(baseline)
	if std == 0 {
		return AnomalyEvent{}, false
	}
	m := mean(baseline)
	z := math.Abs(current.Price-m) / std
	if z <= e.AnomalyZ {
		return AnomalyEvent{}, false
	}

	return AnomalyEvent{
		Timestamp:    current.Timestamp,
		Price:        current.Price,
		BaselineMean: m,
		ZScore:       z,
		Severity:     e.classify(z),
	}, true
}

// Classify grades a z-score that already exceeds AnomalyZ.
func (e Engine) Classify(z float64) Severity {
	return e.withDefaults().classify(z)
}

func (e Engine) classify(z float64) Severity {
	if z > e.HighZ {
		return SeverityHigh
	}
	return SeverityMedium
}
