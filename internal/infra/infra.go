// Package infra provides shared infrastructure components used across
// the application: rate limiting and outbound HTTP fetching.
package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrTooLarge is returned when a response body exceeds the fetch limit.
var ErrTooLarge = errors.New("infra: response body too large")

// --- Rate limiter ---

// RateLimiter is a token-bucket limiter shared by all outbound fetches.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// --- HTTP fetching ---

// Fetched is a downloaded resource.
type Fetched struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher performs rate-limited GET requests for source ingestion.
type Fetcher struct {
	client    *http.Client
	limiter   *RateLimiter
	userAgent string
	maxBytes  int64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header. Empty keeps the default.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBytes caps the size of a fetched body. Non-positive keeps the
// default.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithRateLimiter replaces the default limiter.
func WithRateLimiter(rl *RateLimiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = rl }
}

// NewFetcher creates a Fetcher with a 30s timeout, 2 req/s and a 32 MiB cap.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   NewRateLimiter(2, 1),
		userAgent: "riskfolio/1.0",
		maxBytes:  32 << 20,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get downloads url. Non-2xx statuses are errors.
func (f *Fetcher) Get(ctx context.Context, url string) (*Fetched, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("infra: build request for %s: %w", url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infra: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("infra: fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("infra: read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, f.maxBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return &Fetched{
		URL:         resp.Request.URL.String(),
		ContentType: strings.TrimSpace(strings.ToLower(ct)),
		Body:        body,
	}, nil
}
