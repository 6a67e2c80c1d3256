package fetcher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the upstream answered without a price for the token.
	ErrNotFound = errors.New("fetcher: no price for token")
	// ErrInvalidPrice indicates the upstream returned a zero or negative price.
	ErrInvalidPrice = errors.New("fetcher: invalid price")
	// ErrRateLimited indicates the upstream answered HTTP 429.
	ErrRateLimited = errors.New("fetcher: rate limited")
	// ErrCoolingDown indicates a source skipped the call because of an earlier
	// rate limit or an exhausted local request budget.
	ErrCoolingDown = errors.New("fetcher: source cooling down")
	// ErrUnsupported indicates the source has no mapping for the token.
	ErrUnsupported = errors.New("fetcher: token not supported by source")
)

// BatchSource is the primary quote source, keyed by mint address.
type BatchSource interface {
	Name() string
	FetchBatch(ctx context.Context, ids []string) (map[string]float64, error)
}

// TokenSource resolves one token using its own identifier mapping.
type TokenSource interface {
	Name() string
	Fetch(ctx context.Context, token Token) (float64, error)
}

// StatusReporter is implemented by sources that track a rate-limit cooldown.
type StatusReporter interface {
	Status() SourceStatus
}

// SourceStatus describes a source's cooldown state.
type SourceStatus struct {
	Name        string    `json:"name"`
	CoolingDown bool      `json:"cooling_down"`
	Until       time.Time `json:"until,omitempty"`
}

// Tier names the stage of the fallback chain that produced a price.
type Tier int

const (
	TierNone Tier = iota
	TierCache
	TierPrimary
	TierStale
	TierSecondary
	TierTertiary
	TierAlternative
	TierStatic
)

var tierNames = [...]string{
	TierNone:        "none",
	TierCache:       "cache",
	TierPrimary:     "primary",
	TierStale:       "stale",
	TierSecondary:   "secondary",
	TierTertiary:    "tertiary",
	TierAlternative: "alternative",
	TierStatic:      "static",
}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return "unknown"
	}
	return tierNames[t]
}

// MarshalText renders the tier name in JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Resolution is the outcome of walking the fallback chain for one token.
// Price is zero only when Tier is TierNone.
type Resolution struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
	Tier  Tier    `json:"tier"`
}

// Degraded reports whether the price came from anything but a live or fresh read.
func (r Resolution) Degraded() bool {
	switch r.Tier {
	case TierCache, TierPrimary, TierSecondary, TierTertiary, TierAlternative:
		return false
	default:
		return true
	}
}
