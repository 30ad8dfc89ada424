package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/safeurl"
)

// DefaultDuckDuckGoURL is the JavaScript-free results endpoint.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML results page.
type DuckDuckGo struct {
	endpoint  string
	region    string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// NewDuckDuckGo creates a DuckDuckGo provider.
func NewDuckDuckGo(cfg Config, logger *slog.Logger) *DuckDuckGo {
	cfg.defaults()
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDuckDuckGoURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuckDuckGo{
		endpoint:  cfg.Endpoint,
		region:    cfg.Region,
		userAgent: cfg.UserAgent,
		client:    cfg.HTTPClient,
		logger:    logger,
	}
}

// Search implements Provider.
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]document.CandidateLink, error) {
	form := url.Values{"q": {query}}
	if d.region != "" {
		form.Set("kl", d.region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("search: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	body, err := safeurl.LimitedReadAll(resp.Body, 4*safeurl.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("search: read duckduckgo page: %w", err)
	}
	// DuckDuckGo answers bots with 202 and a challenge page.
	if resp.StatusCode == http.StatusAccepted {
		return nil, &RateLimitError{Provider: "duckduckgo", StatusCode: resp.StatusCode}
	}
	if err := checkStatus("duckduckgo", resp, body); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("search: parse duckduckgo page: %w", err)
	}
	if doc.Find(".anomaly-modal__title").Length() > 0 {
		return nil, &RateLimitError{Provider: "duckduckgo", StatusCode: resp.StatusCode}
	}

	c := newCollector(max)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		c.add(resultURL(href), a.Text(), s.Find(".result__snippet").First().Text())
		return !c.full()
	})

	d.logger.Debug("search: duckduckgo results", "query", query, "count", len(c.out))
	return c.out, nil
}

// resultURL unwraps DuckDuckGo's /l/?uddg= redirect links.
func resultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}
