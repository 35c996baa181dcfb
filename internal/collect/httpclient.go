package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 64 << 20

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.URL, e.Code)
}

// Transient reports whether a retry may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPOptions configures the shared client.
type HTTPOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	UserAgent         string
}

// HTTPClient is the one HTTP client every adapter goes through. Each request
// has a timeout, requests are paced by a token bucket, and transient
// failures are retried with capped exponential backoff.
type HTTPClient struct {
	client    *http.Client
	limiter   *rate.Limiter
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	userAgent string
}

// NewHTTPClient applies defaults of 30s timeout, 4 attempts and a 1s..8s
// backoff to zero fields.
func NewHTTPClient(o HTTPOptions) *HTTPClient {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 8 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; bidradar/1.0)"
	}
	limit := rate.Inf
	if o.RequestsPerSecond > 0 {
		limit = rate.Limit(o.RequestsPerSecond)
	}
	jar, _ := cookiejar.New(nil)
	return &HTTPClient{
		client:    &http.Client{Timeout: o.Timeout, Jar: jar},
		limiter:   rate.NewLimiter(limit, 1),
		attempts:  o.MaxAttempts,
		baseDelay: o.BaseDelay,
		maxDelay:  o.MaxDelay,
		userAgent: o.UserAgent,
	}
}

// Get fetches url and returns the body.
func (c *HTTPClient) Get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, target, nil, header)
}

// PostForm submits an urlencoded form.
func (c *HTTPClient) PostForm(ctx context.Context, target string, form url.Values, header http.Header) ([]byte, error) {
	h := cloneHeader(header)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(ctx, http.MethodPost, target, []byte(form.Encode()), h)
}

// PostJSON sends a JSON body.
func (c *HTTPClient) PostJSON(ctx context.Context, target string, body []byte, header http.Header) ([]byte, error) {
	h := cloneHeader(header)
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, http.MethodPost, target, body, h)
}

// Do performs one logical request with retries.
func (c *HTTPClient) Do(ctx context.Context, method, target string, body []byte, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		data, err := c.once(ctx, method, target, body, header)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == c.attempts {
			break
		}
		delay := c.backoff(attempt)
		log.Printf("[HTTP] %s %s failed (%v); retry %d/%d in %s", method, target, err, attempt, c.attempts-1, delay)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) once(ctx context.Context, method, target string, body []byte, header http.Header) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	return data, nil
}

func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d > c.maxDelay || d <= 0 {
		d = c.maxDelay
	}
	return d
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// *url.Error satisfies net.Error itself, so judge what it wraps.
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return true
		}
		err = ue.Err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(err.Error(), "connection reset")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
