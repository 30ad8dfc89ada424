// Package coordinator runs the search, trust, fetch and correlation steps
// of one retrieval until enough correlated evidence is found or a budget
// runs out.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/evidence/internal/correlate"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/evidence/internal/search"
	"github.com/hazyhaar/factcheck/evidence/internal/trust"
)

// Defaults.
const (
	DefaultNumResults      = 5
	DefaultMinValidSources = 3
	DefaultMaxRetries      = 3
	DefaultMaxAttempts     = 3
	DefaultBackoff         = 30 * time.Second
	DefaultFetchWorkers    = 5
	MaxFetchWorkers        = 10
)

// TrustFilter keeps trusted candidates.
type TrustFilter interface {
	Filter(ctx context.Context, gate trust.Permission, candidates []document.CandidateLink, threshold int) []document.CandidateLink
}

// Fetcher downloads a candidate.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (document.Document, error)
}

// Correlator keeps documents on the claim's topic.
type Correlator interface {
	Filter(ctx context.Context, claim string, docs []document.Document) []document.Document
}

// Compile-time checks.
var (
	_ TrustFilter = (*trust.Filter)(nil)
	_ Correlator  = (*correlate.Filter)(nil)
)

// Config wires the collaborators of a Coordinator.
type Config struct {
	Search    search.Provider
	Trust     TrustFilter
	Fetch     Fetcher
	Correlate Correlator
	// Permission opens a robots.txt session for one run. Nil skips the check.
	Permission func() trust.Permission

	Threshold    int           // trust score threshold. Default: 70.
	MaxAttempts  int           // top-up rounds. Default: 3.
	Backoff      time.Duration // rate-limit backoff. Default: 30s.
	FetchWorkers int           // Default: 5, clamped to [1, 10].
	// Sleep waits between rate-limited searches. Default: connectivity.Sleep.
	Sleep    func(ctx context.Context, d time.Duration) error
	Observer Observer
	Logger   *slog.Logger
	// Now is the clock stamped on transitions. Default: time.Now.
	Now func() time.Time
}

// Coordinator runs retrievals. It is safe for concurrent use; each
// Retrieve call owns its own state.
type Coordinator struct {
	cfg Config
}

// New validates cfg and creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Search == nil:
		return nil, errors.New("coordinator: search provider is required")
	case cfg.Trust == nil:
		return nil, errors.New("coordinator: trust filter is required")
	case cfg.Fetch == nil:
		return nil, errors.New("coordinator: fetcher is required")
	case cfg.Correlate == nil:
		return nil, errors.New("coordinator: correlator is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = trust.DefaultThreshold
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = DefaultFetchWorkers
	}
	if cfg.FetchWorkers > MaxFetchWorkers {
		cfg.FetchWorkers = MaxFetchWorkers
	}
	if cfg.Sleep == nil {
		cfg.Sleep = connectivity.Sleep
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{cfg: cfg}, nil
}

// Request is one retrieval.
type Request struct {
	Claim           string
	Query           string
	NumResults      int // first search size. Default: 5.
	MinValidSources int // Default: 3.
	// MaxRetries bounds rate-limit backoffs. Default: 3; negative fails
	// on the first rate limit.
	MaxRetries int
}

func (r *Request) defaults() {
	if r.Query == "" {
		r.Query = r.Claim
	}
	if r.NumResults <= 0 {
		r.NumResults = DefaultNumResults
	}
	if r.MinValidSources <= 0 {
		r.MinValidSources = DefaultMinValidSources
	}
	switch {
	case r.MaxRetries == 0:
		r.MaxRetries = DefaultMaxRetries
	case r.MaxRetries < 0:
		r.MaxRetries = 0
	}
}

// Result is the outcome of a run that did not fail.
type Result struct {
	Documents []document.Document
	// Partial is set when the run was cancelled after some evidence was
	// validated; Documents may then be fewer than MinValidSources.
	Partial  bool
	Outcome  State
	Attempts int
	Retries  int
	Searches int
	Fetched  int
}

// run is the mutable state of one Retrieve call.
type run struct {
	c        *Coordinator
	req      Request
	logger   *slog.Logger
	gate     trust.Permission
	state    State
	attempts int
	retries  int
	searches int
	seen     map[string]bool
	acc      *document.EvidenceSet
	// validated is the output of the last completed correlation pass.
	validated []document.Document
}

// Retrieve runs the pipeline for req. It returns at least MinValidSources
// correlated documents, or zero documents when the first search or trust
// pass yields nothing, or a partial result on cancellation. Otherwise it
// fails with *InsufficientEvidenceError, *RateLimitError, *SearchError or
// ErrCancelled.
func (c *Coordinator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	req.defaults()
	r := &run{
		c:      c,
		req:    req,
		logger: c.cfg.Logger.With("query", req.Query),
		seen:   make(map[string]bool),
		acc:    document.NewEvidenceSet(),
	}
	if c.cfg.Permission != nil {
		r.gate = c.cfg.Permission()
	}
	return r.loop(ctx)
}

func (r *run) loop(ctx context.Context) (*Result, error) {
	want := r.req.NumResults
	for {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}

		r.transition(StateSearching, 0)
		candidates, err := r.c.cfg.Search.Search(ctx, r.req.Query, want)
		r.searches++
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		if err != nil {
			if !errors.Is(err, search.ErrRateLimited) {
				r.transition(StateFailed, 0)
				return nil, &SearchError{Query: r.req.Query, Err: err}
			}
			if err := r.backoff(ctx, err); err != nil {
				if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
					return r.cancelled(ctx)
				}
				return nil, err
			}
			continue
		}

		fresh := r.unseen(candidates)
		if len(fresh) == 0 {
			if r.attempts == 0 {
				r.logger.Info("coordinator: search returned no results")
				return r.finish(StateEmpty), nil
			}
			r.logger.Info("coordinator: top-up found no new URLs", "attempt", r.attempts)
			return r.exhausted()
		}

		r.transition(StateTrustFiltering, len(fresh))
		trusted := r.c.cfg.Trust.Filter(ctx, r.gate, fresh, r.c.cfg.Threshold)
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		if len(trusted) == 0 {
			if r.attempts == 0 {
				r.logger.Info("coordinator: no trusted candidates")
				return r.finish(StateEmpty), nil
			}
			r.logger.Info("coordinator: top-up found no trusted URLs", "attempt", r.attempts)
			return r.exhausted()
		}

		r.transition(StateFetching, len(trusted))
		added := r.fetchAll(ctx, trusted)
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}

		// An unchanged set keeps the verdicts of the previous pass.
		correlated := r.validated
		if added > 0 {
			r.transition(StateCorrelating, r.acc.Len())
			correlated = r.c.cfg.Correlate.Filter(ctx, r.req.Claim, r.acc.Documents())
			if ctx.Err() != nil {
				return r.cancelled(ctx)
			}
			r.validated = correlated
		}

		if len(correlated) >= r.req.MinValidSources {
			r.preview()
			return r.finish(StateSufficient), nil
		}

		r.attempts++
		if r.attempts > r.c.cfg.MaxAttempts {
			return r.exhausted()
		}
		want = r.req.MinValidSources - len(correlated)
		r.logger.Info("coordinator: topping up",
			"attempt", r.attempts, "correlated", len(correlated),
			"required", r.req.MinValidSources, "want", want)
		r.transition(StateToppingUp, want)
	}
}

// backoff records a rate-limited search and sleeps. It returns a
// *RateLimitError once the retry budget is spent: MaxRetries consecutive
// rate limits cause exactly MaxRetries sleeps and no further search.
func (r *run) backoff(ctx context.Context, cause error) error {
	r.retries++
	r.transition(StateRateLimited, 0)
	if r.req.MaxRetries == 0 {
		r.transition(StateFailed, 0)
		return &RateLimitError{Retries: 0, Err: cause}
	}
	r.logger.Warn("coordinator: search rate limited, backing off",
		"retry", r.retries, "max_retries", r.req.MaxRetries, "backoff", r.c.cfg.Backoff, "error", cause)
	if err := r.c.cfg.Sleep(ctx, r.c.cfg.Backoff); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if r.retries >= r.req.MaxRetries {
		r.transition(StateFailed, 0)
		return &RateLimitError{Retries: r.retries, Err: cause}
	}
	return nil
}

// unseen returns candidates whose URL has not been handled in this run and
// marks them seen.
func (r *run) unseen(candidates []document.CandidateLink) []document.CandidateLink {
	var out []document.CandidateLink
	for _, c := range candidates {
		if c.URL == "" || r.seen[c.URL] {
			continue
		}
		r.seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

// fetchAll fetches candidates on a bounded pool and adds the fetched
// documents to the accumulated set, in candidate order. It returns how
// many documents were added.
func (r *run) fetchAll(ctx context.Context, candidates []document.CandidateLink) int {
	docs := make([]document.Document, len(candidates))
	sem := make(chan struct{}, r.c.cfg.FetchWorkers)
	var wg sync.WaitGroup
	for i, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cand document.CandidateLink) {
			defer wg.Done()
			defer func() { <-sem }()
			doc, err := r.c.cfg.Fetch.Fetch(ctx, cand.URL)
			if err != nil {
				r.logger.Warn("coordinator: fetch rejected candidate", "url", cand.URL, "error", err)
				return
			}
			doc.Score = cand.Score
			docs[i] = doc
		}(i, cand)
	}
	wg.Wait()

	added := 0
	for _, d := range docs {
		if d.OK() && r.acc.Add(d) {
			added++
		}
	}
	r.logger.Info("coordinator: fetched documents", "candidates", len(candidates), "added", added, "accumulated", r.acc.Len())
	return added
}

func (r *run) exhausted() (*Result, error) {
	r.transition(StateExhausted, len(r.validated))
	err := &InsufficientEvidenceError{
		Found:    len(r.validated),
		Required: r.req.MinValidSources,
		Attempts: min(r.attempts, r.c.cfg.MaxAttempts),
	}
	r.logger.Warn("coordinator: insufficient evidence", "found", err.Found, "required", err.Required, "attempt", r.attempts)
	return nil, err
}

func (r *run) cancelled(ctx context.Context) (*Result, error) {
	r.transition(StateCancelled, len(r.validated))
	if len(r.validated) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	r.logger.Info("coordinator: cancelled, returning validated evidence", "count", len(r.validated))
	res := r.finish(StateCancelled)
	res.Partial = true
	return res, nil
}

func (r *run) finish(outcome State) *Result {
	if outcome != StateCancelled {
		r.transition(outcome, len(r.validated))
	}
	return &Result{
		Documents: r.validated,
		Outcome:   outcome,
		Attempts:  r.attempts,
		Retries:   r.retries,
		Searches:  r.searches,
		Fetched:   r.acc.Len(),
	}
}

func (r *run) transition(to State, count int) {
	t := Transition{
		From:    r.state,
		To:      to,
		Attempt: r.attempts,
		Retry:   r.retries,
		Count:   count,
		At:      r.c.cfg.Now(),
	}
	r.state = to
	level, msg := slog.LevelDebug, "coordinator: transition"
	if to.Terminal() {
		level, msg = slog.LevelInfo, "coordinator: run finished"
	}
	r.logger.Log(context.Background(), level, msg, "from", t.From, "to", t.To, "attempt", t.Attempt, "retry", t.Retry, "count", count)
	if r.c.cfg.Observer != nil {
		r.c.cfg.Observer(t)
	}
}

// preview logs the accepted documents.
func (r *run) preview() {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, d := range r.validated {
		r.logger.Debug("coordinator: accepted document",
			"title", d.Title, "url", d.URL, "site", d.Site, "preview", correlate.Prefix(d.Body, 200))
	}
}
