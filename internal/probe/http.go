package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/logger"
)

// StatusError is returned when a target answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPOptions configures an HTTPProber.
type HTTPOptions struct {
	// Timeout bounds each request. Default: 10 seconds
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Breaker configures the per-target circuit breaker. A zero value uses the defaults.
	Breaker BreakerConfig
	// DisableBreaker sends every probe regardless of past failures.
	DisableBreaker bool
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
	// Clock drives the circuit breaker's reset timeout.
	Clock clock.Clock
}

// HTTPProber issues a GET to the target URL and expects a 2xx answer.
type HTTPProber struct {
	client    *http.Client
	userAgent string
	breakers  *breakers
}

func NewHTTPProber(opts HTTPOptions) *HTTPProber {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "repeatd"
	}

	p := &HTTPProber{client: client, userAgent: opts.UserAgent}
	if !opts.DisableBreaker {
		p.breakers = newBreakers(opts.Breaker, opts.Clock)
	}
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid probe URL %q", target)
	}

	var cb *CircuitBreaker
	if p.breakers != nil {
		cb = p.breakers.get(target)
		if !cb.Allow() {
			return fmt.Errorf("%s: %w", target, ErrCircuitOpen)
		}
	}

	err = p.do(ctx, target)
	if cb != nil {
		// a cancelled probe says nothing about the target
		if err != nil && ctx.Err() == nil {
			cb.RecordFailure()
		} else if err == nil {
			cb.RecordSuccess()
		}
	}
	return err
}

// Breaker returns the circuit breaker for target, or nil when breakers are disabled.
func (p *HTTPProber) Breaker(target string) *CircuitBreaker {
	if p.breakers == nil {
		return nil
	}
	return p.breakers.get(target)
}

func (p *HTTPProber) do(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", target, err)
	}
	defer func() {
		// Drain and close body to allow connection reuse
		if _, discardErr := io.Copy(io.Discard, resp.Body); discardErr != nil {
			logger.Debugf("Failed to drain probe response body: %v", discardErr)
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debugf("Failed to close probe response body: %v", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}
