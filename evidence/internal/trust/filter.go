package trust

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

// DefaultThreshold is the minimum trust score on a 0-100 scale.
const DefaultThreshold = 70

// Permission reports whether a URL may be fetched.
type Permission interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// FilterConfig configures a Filter.
type FilterConfig struct {
	// Deny lists glob patterns (doublestar syntax) of hosts that are
	// excluded before any oracle lookup, e.g. "*.blogspot.com".
	Deny []string
	// Workers bounds concurrent candidate evaluations. Default: 4.
	Workers int
}

// Filter keeps candidates from trusted publishers.
type Filter struct {
	oracle  Oracle
	deny    []string
	workers int
	logger  *slog.Logger
}

// NewFilter creates a Filter. It fails on a malformed deny pattern.
func NewFilter(oracle Oracle, cfg FilterConfig, logger *slog.Logger) (*Filter, error) {
	for _, p := range cfg.Deny {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("trust: invalid deny pattern %q", p)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{oracle: oracle, deny: cfg.Deny, workers: cfg.Workers, logger: logger}, nil
}

// Domain returns the lowercased host of rawURL without port.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Filter returns the candidates whose domain is rated in the trusted tier
// with a score of at least threshold, annotated with that score. Input
// order is preserved. Candidates denied by configuration or by gate, and
// those whose lookup fails, are excluded and logged.
func (f *Filter) Filter(ctx context.Context, gate Permission, candidates []document.CandidateLink, threshold int) []document.CandidateLink {
	keep := make([]bool, len(candidates))
	out := make([]document.CandidateLink, len(candidates))
	lookups := newLookupMemo(f.oracle)

	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup
	for i, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c document.CandidateLink) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], keep[i] = f.evaluate(ctx, gate, lookups, c, threshold)
		}(i, c)
	}
	wg.Wait()

	kept := make([]document.CandidateLink, 0, len(candidates))
	for i := range candidates {
		if keep[i] {
			kept = append(kept, out[i])
		}
	}
	f.logger.Info("trust: filtered candidates", "total", len(candidates), "kept", len(kept), "threshold", threshold)
	return kept
}

func (f *Filter) evaluate(ctx context.Context, gate Permission, lookups *lookupMemo, c document.CandidateLink, threshold int) (document.CandidateLink, bool) {
	domain := Domain(c.URL)
	if domain == "" {
		f.logger.Info("trust: excluded candidate without domain", "url", c.URL)
		return c, false
	}
	logger := f.logger.With("domain", domain, "url", c.URL)

	if pattern := f.denied(domain); pattern != "" {
		logger.Info("trust: excluded site by deny pattern", "pattern", pattern)
		return c, false
	}
	if gate != nil && !gate.Allowed(ctx, c.URL) {
		logger.Info("trust: skipped site disallowed by robots.txt")
		return c, false
	}

	st, err := lookups.lookup(ctx, domain)
	if err != nil {
		logger.Info("trust: excluded site, lookup failed", "error", err)
		return c, false
	}
	if !st.Trusted(threshold) {
		logger.Info("trust: excluded site", "rank", st.Rank, "score", st.Score)
		return c, false
	}
	c.Score = st.Score
	return c, true
}

func (f *Filter) denied(domain string) string {
	for _, p := range f.deny {
		if ok, _ := doublestar.Match(p, domain); ok {
			return p
		}
	}
	return ""
}

// lookupMemo runs at most one oracle lookup per domain within one Filter call.
type lookupMemo struct {
	oracle Oracle
	mu     sync.Mutex
	calls  map[string]*lookupCall
}

type lookupCall struct {
	once sync.Once
	st   document.SiteTrust
	err  error
}

func newLookupMemo(o Oracle) *lookupMemo {
	return &lookupMemo{oracle: o, calls: make(map[string]*lookupCall)}
}

func (m *lookupMemo) lookup(ctx context.Context, domain string) (document.SiteTrust, error) {
	m.mu.Lock()
	c, ok := m.calls[domain]
	if !ok {
		c = &lookupCall{}
		m.calls[domain] = c
	}
	m.mu.Unlock()

	c.once.Do(func() {
		c.st, c.err = m.oracle.Lookup(ctx, domain)
	})
	return c.st, c.err
}
