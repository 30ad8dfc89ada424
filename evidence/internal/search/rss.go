package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/safeurl"
)

// DefaultRSSURL is the Google News search feed.
const DefaultRSSURL = "https://news.google.com/rss/search?q={query}&hl=en-US&gl=US&ceid=US:en"

// RSS queries a search feed whose URL carries a {query} placeholder.
type RSS struct {
	template  string
	userAgent string
	client    *http.Client
	parser    *gofeed.Parser
	logger    *slog.Logger
}

// NewRSS creates an RSS provider.
func NewRSS(cfg Config, logger *slog.Logger) *RSS {
	cfg.defaults()
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRSSURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RSS{
		template:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		client:    cfg.HTTPClient,
		parser:    gofeed.NewParser(),
		logger:    logger,
	}
}

// Search implements Provider.
func (r *RSS) Search(ctx context.Context, query string, max int) ([]document.CandidateLink, error) {
	feedURL := strings.ReplaceAll(r.template, "{query}", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search: new request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.1")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: rss: %w", err)
	}
	defer resp.Body.Close()

	body, err := safeurl.LimitedReadAll(resp.Body, 4*safeurl.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("search: read feed: %w", err)
	}
	if err := checkStatus("rss", resp, body); err != nil {
		return nil, err
	}

	feed, err := r.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("search: parse feed: %w", err)
	}

	c := newCollector(max)
	for _, it := range feed.Items {
		if c.full() {
			break
		}
		c.add(it.Link, it.Title, it.Description)
	}
	r.logger.Debug("search: rss results", "query", query, "feed", feed.Title, "count", len(c.out))
	return c.out, nil
}
