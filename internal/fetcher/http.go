package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "sol-price-oracle/1.0"

var tracer = otel.Tracer("sol-price-oracle/fetcher")

// HTTPOptions are shared by every HTTP-backed source.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Cooldown is how long the source stays silent after an HTTP 429.
	Cooldown time.Duration
	// RequestsPerSecond caps outbound calls; zero disables the budget.
	RequestsPerSecond float64
	Burst             int
}

// httpSource carries the transport, request budget and cooldown for a source.
type httpSource struct {
	name      string
	baseURL   string
	timeout   time.Duration
	userAgent string
	cooldown  time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time
}

func newHTTPSource(name, defaultBase string, defaultTimeout, defaultCooldown time.Duration, opts HTTPOptions, logger zerolog.Logger) *httpSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBase
	}

	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	return &httpSource{
		name:      name,
		baseURL:   baseURL,
		timeout:   timeout,
		userAgent: ua,
		cooldown:  cooldown,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With().Str("component", name+"_source").Logger(),
		now:       time.Now,
	}
}

// Name identifies the source in logs and metrics.
func (s *httpSource) Name() string {
	return s.name
}

// Status reports whether the source is inside a rate-limit cooldown.
func (s *httpSource) Status() SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SourceStatus{Name: s.name}
	if s.now().Before(s.blockedUntil) {
		st.CoolingDown = true
		st.Until = s.blockedUntil
	}
	return st
}

func (s *httpSource) admit() error {
	s.mu.Lock()
	blocked := s.now().Before(s.blockedUntil)
	s.mu.Unlock()
	if blocked {
		return fmt.Errorf("%s: %w", s.name, ErrCoolingDown)
	}
	if !s.limiter.Allow() {
		return fmt.Errorf("%s request budget exhausted: %w", s.name, ErrCoolingDown)
	}
	return nil
}

func (s *httpSource) backOff() {
	s.mu.Lock()
	s.blockedUntil = s.now().Add(s.cooldown)
	until := s.blockedUntil
	s.mu.Unlock()

	s.logger.Warn().Time("until", until).Dur("cooldown", s.cooldown).Msg("rate limited, backing off")
}

// getJSON performs a bounded GET and decodes a 200 response into out.
func (s *httpSource) getJSON(ctx context.Context, timeout time.Duration, path string, query url.Values, out any) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.admit(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, span := tracer.Start(ctx, s.name+".get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("price.source", s.name),
			attribute.String("http.url", endpoint),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", s.name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", s.name, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusTooManyRequests {
		s.backOff()
		return fmt.Errorf("%s: %w", s.name, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(s.name, resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", s.name, err)
	}
	return nil
}

type errorResponse struct {
	Error       any    `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Message)
		}
		if apiErr.Error != nil {
			return fmt.Errorf("%s api error (%d): %v", source, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		body := strings.TrimSpace(string(payload))
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("%s api error (%d): %s", source, status, body)
	}
	return fmt.Errorf("%s api error (%d)", source, status)
}
