// Package permission decides whether a URL may be fetched according to the
// site's robots.txt. The check is a courtesy, not a security boundary:
// every failure to obtain or parse a policy means "allowed".
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/hazyhaar/factcheck/safeurl"
)

// Config configures the gate.
type Config struct {
	Timeout   time.Duration // robots.txt fetch timeout. Default: 5s.
	MaxBytes  int64         // robots.txt size cap. Default: 512KiB.
	UserAgent string        // sent with the robots.txt request
	Agent     string        // agent name matched against the policy. Default: "*".
	// URLValidator is applied to the robots.txt URL. Default: safeurl.Validate.
	URLValidator safeurl.Validator
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 512 << 10
	}
	if c.UserAgent == "" {
		c.UserAgent = "factcheck/1.0"
	}
	if c.Agent == "" {
		c.Agent = "*"
	}
	if c.URLValidator == nil {
		c.URLValidator = safeurl.Validate
	}
}

// Gate checks URLs against robots.txt.
type Gate struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Gate.
func New(cfg Config, logger *slog.Logger) *Gate {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

// Allowed checks rawURL with a fresh, unshared policy lookup.
func (g *Gate) Allowed(ctx context.Context, rawURL string) bool {
	return g.Session().Allowed(ctx, rawURL)
}

// Session returns a memo that fetches each origin's robots.txt at most once.
// A session is meant to live for one retrieval run.
func (g *Gate) Session() *Session {
	return &Session{gate: g, origins: make(map[string]*policy)}
}

// Session memoizes robots.txt policies per origin. Safe for concurrent use.
type Session struct {
	gate    *Gate
	mu      sync.Mutex
	origins map[string]*policy
}

type policy struct {
	once  sync.Once
	rules *robotstxt.RobotsData // nil means allow everything
}

// Allowed reports whether rawURL may be fetched.
func (s *Session) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	s.mu.Lock()
	p, ok := s.origins[origin]
	if !ok {
		p = &policy{}
		s.origins[origin] = p
	}
	s.mu.Unlock()

	p.once.Do(func() {
		p.rules = s.gate.load(ctx, origin)
	})
	if p.rules == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return p.rules.TestAgent(path, s.gate.config.Agent)
}

// load fetches and parses origin/robots.txt. Any failure yields nil.
func (g *Gate) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"
	logger := g.logger.With("robots_url", robotsURL)

	data, status, err := g.fetch(ctx, robotsURL)
	if err != nil {
		logger.Debug("permission: robots.txt unavailable, allowing", "error", err)
		return nil
	}
	if status < 200 || status >= 300 {
		logger.Debug("permission: robots.txt status, allowing", "status", status)
		return nil
	}
	rules, err := robotstxt.FromStatusAndBytes(status, data)
	if err != nil {
		logger.Debug("permission: robots.txt unparseable, allowing", "error", err)
		return nil
	}
	return rules
}

func (g *Gate) fetch(ctx context.Context, robotsURL string) ([]byte, int, error) {
	if err := g.config.URLValidator(robotsURL); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", g.config.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	data, err := safeurl.LimitedReadAll(resp.Body, g.config.MaxBytes)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}
