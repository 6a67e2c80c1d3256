package sampler

import (
	"sync"
	"time"
)

// PriceSample is one observation taken by the sampling loop.
type PriceSample struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// history is a bounded chronological ring; the oldest sample is dropped on
// overflow.
type history struct {
	mu      sync.RWMutex
	samples []PriceSample
	start   int
	size    int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{samples: make([]PriceSample, capacity)}
}

func (h *history) add(s PriceSample) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.samples)
	if h.size < capacity {
		h.samples[(h.start+h.size)%capacity] = s
		h.size++
		return h.size
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % capacity
	return h.size
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// since copies samples at or after cutoff, oldest first. A zero cutoff
// returns everything.
func (h *history) since(cutoff time.Time) []PriceSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]PriceSample, 0, h.size)
	capacity := len(h.samples)
	for i := 0; i < h.size; i++ {
		s := h.samples[(h.start+i)%capacity]
		if !cutoff.IsZero() && s.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}
