// Package search turns a query into ranked candidate links.
//
// Three providers are available:
//   - "duckduckgo": the HTML endpoint of DuckDuckGo, parsed with goquery.
//   - "rss": any search feed with a {query} placeholder (Google News by default).
//   - "api": a JSON search API (Brave, SearxNG, ...) walked by dot-notation paths.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

// ErrRateLimited matches any RateLimitError.
var ErrRateLimited = errors.New("search: rate limited")

// RateLimitError is returned when a provider throttles the caller.
type RateLimitError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration // zero when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("search: %s rate limited (HTTP %d)", e.Provider, e.StatusCode)
}

// Is makes errors.Is(err, ErrRateLimited) true.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Provider returns up to max candidates for a query, ranked from 1.
type Provider interface {
	Search(ctx context.Context, query string, max int) ([]document.CandidateLink, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string, max int) ([]document.CandidateLink, error)

// Search implements Provider.
func (f ProviderFunc) Search(ctx context.Context, query string, max int) ([]document.CandidateLink, error) {
	return f(ctx, query, max)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string        // duckduckgo (default), rss, api
	Endpoint  string        // overrides the provider's default URL
	Region    string        // DuckDuckGo kl parameter, e.g. "fr-fr"
	Timeout   time.Duration // per request. Default: 15s.
	UserAgent string
	API       APIConfig
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = "duckduckgo"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
}

// New builds the provider named in cfg.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "duckduckgo":
		return NewDuckDuckGo(cfg, logger), nil
	case "rss":
		return NewRSS(cfg, logger), nil
	case "api":
		return NewAPI(cfg, logger)
	default:
		return nil, fmt.Errorf("search: unknown provider %q", cfg.Provider)
	}
}

// checkStatus maps throttling responses to RateLimitError and other
// failures to connectivity.HTTPError.
func checkStatus(provider string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return connectivity.NewHTTPError(provider, resp.StatusCode, body)
	}
	return nil
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// collector ranks links in arrival order, dropping empty and repeated URLs.
type collector struct {
	max  int
	seen map[string]bool
	out  []document.CandidateLink
}

func newCollector(max int) *collector {
	return &collector{max: max, seen: make(map[string]bool)}
}

func (c *collector) full() bool { return c.max > 0 && len(c.out) >= c.max }

func (c *collector) add(rawURL, title, snippet string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || c.seen[rawURL] || c.full() {
		return
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return
	}
	c.seen[rawURL] = true
	c.out = append(c.out, document.CandidateLink{
		URL:     rawURL,
		Title:   Clean(title),
		Snippet: Clean(snippet),
		Rank:    len(c.out) + 1,
	})
}
