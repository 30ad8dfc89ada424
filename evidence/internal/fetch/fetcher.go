// Package fetch retrieves candidate pages and turns them into documents.
//
// Restricted or unreachable content is not an error: it comes back as a
// Document with empty title and body, marked blocked or failed. Only a
// malformed URL is reported as an error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/extract"
	"github.com/hazyhaar/factcheck/safeurl"
)

// BrowserUserAgent is a realistic desktop browser identification.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultBlockPhrases mark login walls, paywalls and bot challenges.
var DefaultBlockPhrases = []string{
	"subscribe",
	"log in",
	"sign in",
	"register",
	"access denied",
	"are you a robot",
}

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // HTTP timeout. Default: 5s.
	MaxBytes  int64         // Max response body size. Default: 5MB.
	UserAgent string        // Default: BrowserUserAgent.
	BodyMode  extract.Mode  // Default: extract.ModeFull.
	// BlockPhrases are matched case-insensitively against the first
	// BlockWindow characters of the page text.
	BlockPhrases []string
	BlockWindow  int // Default: 100.
	// URLValidator validates URLs before fetch and on each redirect.
	// Default: safeurl.Validate.
	URLValidator safeurl.Validator
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = BrowserUserAgent
	}
	if c.BodyMode == "" {
		c.BodyMode = extract.ModeFull
	}
	if c.BlockPhrases == nil {
		c.BlockPhrases = DefaultBlockPhrases
	}
	if c.BlockWindow <= 0 {
		c.BlockWindow = 100
	}
	if c.URLValidator == nil {
		c.URLValidator = safeurl.Validate
	}
}

// Fetcher performs page fetches.
type Fetcher struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// Fetch retrieves rawURL and extracts its title, site and body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (document.Document, error) {
	if _, err := safeurl.Parse(rawURL); err != nil {
		return document.Document{}, fmt.Errorf("fetch: %w", err)
	}
	logger := f.logger.With("url", rawURL)

	if err := f.config.URLValidator(rawURL); err != nil {
		logger.Warn("fetch: url rejected", "error", err)
		return document.Failed(rawURL, err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return document.Document{}, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		reason := "network error"
		if isTimeout(err) {
			reason = "timeout"
		}
		logger.Warn("fetch: request failed", "reason", reason, "error", err)
		return document.Failed(rawURL, reason), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden:
		logger.Warn("fetch: access denied", "status", resp.StatusCode)
		return document.Blocked(rawURL, fmt.Sprintf("http %d", resp.StatusCode)), nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		logger.Warn("fetch: unexpected status", "status", resp.StatusCode)
		return document.Failed(rawURL, fmt.Sprintf("http %d", resp.StatusCode)), nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.config.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		logger.Warn("fetch: unsupported charset", "error", err)
		return document.Failed(rawURL, "unsupported charset"), nil
	}
	page, err := extract.ExtractReader(body, f.config.BodyMode)
	if err != nil {
		reason := "unparseable body"
		if isTimeout(err) {
			reason = "timeout"
		}
		logger.Warn("fetch: extraction failed", "reason", reason, "error", err)
		return document.Failed(rawURL, reason), nil
	}

	if phrase := f.blockPhrase(page.Text); phrase != "" {
		logger.Warn("fetch: content appears restricted", "phrase", phrase)
		return document.Blocked(rawURL, "restricted: "+phrase), nil
	}
	if page.Title == "" || page.Text == "" {
		logger.Warn("fetch: empty title or body")
		return document.Failed(rawURL, "empty content"), nil
	}

	return document.Document{
		Title:  page.Title,
		Site:   extract.Site(rawURL),
		URL:    rawURL,
		Body:   page.Text,
		Status: document.StatusFetched,
	}, nil
}

// blockPhrase returns the first block phrase found in the leading text.
func (f *Fetcher) blockPhrase(text string) string {
	lead := strings.ToLower(text)
	if r := []rune(lead); len(r) > f.config.BlockWindow {
		lead = string(r[:f.config.BlockWindow])
	}
	for _, p := range f.config.BlockPhrases {
		if p != "" && strings.Contains(lead, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
