// Package fetch pulls readable text from notice pages so the external judge
// sees more than a one-line listing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/BidRadar/internal/notice"
)

// MinDescription is the description length below which a notice is enriched.
const MinDescription = 200

const (
	maxBody     = 4 << 20
	maxPageText = 4000
)

// Enricher reads the notice page behind thin descriptions. It is safe
// for concurrent use; a domain that answers with an HTTP error is skipped
// for the rest of the run.
type Enricher struct {
	client    *http.Client
	userAgent string

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// NewEnricher creates a new enricher.
func NewEnricher(timeout time.Duration, userAgent string) *Enricher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = "bidradar/1.0"
	}
	return &Enricher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:     userAgent,
		failedDomains: make(map[string]struct{}),
	}
}

// Enrich returns readable page text for a notice whose description is thin,
// when the page yields something longer. The notice itself is not changed.
func (e *Enricher) Enrich(ctx context.Context, n notice.Notice) (string, bool) {
	if n.URL == "" || len(n.Description) >= MinDescription {
		return "", false
	}

	u, err := url.Parse(n.URL)
	if err != nil || u.Host == "" {
		return "", false
	}
	domain := strings.ToLower(u.Host)
	if e.domainFailed(domain) {
		return "", false
	}

	text, err := e.fetchText(ctx, u)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) {
			e.markFailed(domain)
			log.Printf("HTTP error for %s - skipping remaining from %s", n.URL, domain)
		}
		return "", false
	}
	if len(text) <= len(n.Description) {
		return "", false
	}
	return notice.Truncate(text, maxPageText), true
}

func (e *Enricher) fetchText(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBody), u)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", u, err)
	}
	return strings.Join(strings.Fields(article.TextContent), " "), nil
}

func (e *Enricher) domainFailed(domain string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, failed := e.failedDomains[domain]
	return failed
}

func (e *Enricher) markFailed(domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedDomains[domain] = struct{}{}
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
