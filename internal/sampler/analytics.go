package sampler

import (
	"encoding/json"
	"time"

	"sol-price-oracle/internal/volatility"
)

// Reading is a value that may be unavailable. It marshals to null when it is.
type Reading struct {
	Value     float64
	Available bool
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Available {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// PriceHistory returns the token's samples from the last window, oldest
// first. A non-positive window returns the whole retained history.
func (s *Service) PriceHistory(symbol string, window time.Duration) []PriceSample {
	h, ok := s.lookup(symbol)
	if !ok {
		return []PriceSample{}
	}
	var cutoff time.Time
	if window > 0 {
		cutoff = s.opts.Now().Add(-window)
	}
	return h.since(cutoff)
}

// RealizedVolatility computes the annualized volatility for one token.
func (s *Service) RealizedVolatility(symbol string) Reading {
	v, ok := s.engine.RealizedVolatility(s.prices(symbol))
	return Reading{Value: v, Available: ok}
}

// AllRealizedVolatility reports every watch token, unavailable ones included.
func (s *Service) AllRealizedVolatility() map[string]Reading {
	out := make(map[string]Reading, len(s.tokens))
	for _, t := range s.tokens {
		out[t.Symbol] = s.RealizedVolatility(t.Symbol)
	}
	return out
}

// AllStability reports tokens with enough history for a stability score.
func (s *Service) AllStability() map[string]volatility.StabilityReport {
	out := make(map[string]volatility.StabilityReport, len(s.tokens))
	for _, t := range s.tokens {
		if r, ok := s.engine.Stability(s.prices(t.Symbol)); ok {
			out[t.Symbol] = r
		}
	}
	return out
}

// Anomalies scans one token's recent history.
func (s *Service) Anomalies(symbol string) []volatility.AnomalyEvent {
	events := s.engine.Anomalies(s.points(symbol))
	if events == nil {
		return []volatility.AnomalyEvent{}
	}
	return events
}

// AllAnomalies lists tokens that currently show at least one anomaly.
func (s *Service) AllAnomalies() map[string][]volatility.AnomalyEvent {
	out := make(map[string][]volatility.AnomalyEvent)
	for _, t := range s.tokens {
		if events := s.engine.Anomalies(s.points(t.Symbol)); len(events) > 0 {
			out[t.Symbol] = events
		}
	}
	return out
}

func (s *Service) points(symbol string) []volatility.Point {
	h, ok := s.lookup(symbol)
	if !ok {
		return nil
	}
	samples := h.since(time.Time{})
	out := make([]volatility.Point, len(samples))
	for i, smp := range samples {
		out[i] = volatility.Point{Timestamp: smp.Timestamp, Price: smp.Price}
	}
	return out
}

func (s *Service) prices(symbol string) []float64 {
	h, ok := s.lookup(symbol)
	if !ok {
		return nil
	}
	samples := h.since(time.Time{})
	out := make([]float64, len(samples))
	for i, smp := range samples {
		out[i] = smp.Price
	}
	return out
}
