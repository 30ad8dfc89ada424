// Package evidence retrieves, filters and validates textual evidence for a
// claim. A Service searches the web, keeps results from trusted publishers
// that robots.txt lets it crawl, fetches them, and keeps the documents a
// relevance judge finds correlated with the claim. It returns at least the
// required number of sources or fails with a typed error.
//
//	svc, err := evidence.New(cfg, logger)
//	ev, err := svc.Retrieve(ctx, "Greenland is for sale", "")
//
// Every run is recorded in a SQLite run log when cfg.DBPath is set. The
// Service is exposed over HTTP by Handler and over MCP by RegisterMCP.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/factcheck/connectivity"
	"github.com/hazyhaar/factcheck/evidence/internal/coordinator"
	"github.com/hazyhaar/factcheck/evidence/internal/correlate"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/evidence/internal/fetch"
	"github.com/hazyhaar/factcheck/evidence/internal/permission"
	"github.com/hazyhaar/factcheck/evidence/internal/runlog"
	"github.com/hazyhaar/factcheck/evidence/internal/search"
	"github.com/hazyhaar/factcheck/evidence/internal/trust"
	"github.com/hazyhaar/factcheck/extract"
)

// Request bounds.
const (
	maxClaimLen        = 5000
	maxNumResults      = 50
	maxMinValidSources = 20
	maxRetriesLimit    = 10
)

// Public names for the pipeline types.
type (
	Document       = document.Document
	CandidateLink  = document.CandidateLink
	SiteTrust      = document.SiteTrust
	SearchProvider = search.Provider
	ProviderFunc   = search.ProviderFunc
	Oracle         = trust.Oracle
	OracleFunc     = trust.OracleFunc
	Judge          = correlate.Judge
	JudgeFunc      = correlate.JudgeFunc
	Label          = correlate.Label
	State          = coordinator.State
	Transition     = coordinator.Transition
	Observer       = coordinator.Observer
	Run            = runlog.Run
	Source         = runlog.Source
)

// Judge labels.
const (
	Correlated    = correlate.Correlated
	NotCorrelated = correlate.NotCorrelated
)

// ErrRunNotFound is returned by Service.Run for an unknown ID.
var ErrRunNotFound = runlog.ErrNotFound

// Request is one retrieval. Zero fields take the configured defaults.
type Request struct {
	Claim           string `json:"claim"`
	Query           string `json:"query,omitempty"`
	NumResults      int    `json:"num_results,omitempty"`
	MinValidSources int    `json:"min_valid_sources,omitempty"`
	// MaxRetries bounds rate-limit backoffs; nil takes the configured value
	// and 0 fails on the first rate limit.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// Evidence is the result of a retrieval.
type Evidence struct {
	RunID     string     `json:"run_id,omitempty"`
	Claim     string     `json:"claim"`
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	// Partial is set when the run was cancelled after some evidence was
	// validated.
	Partial  bool  `json:"partial"`
	Outcome  State `json:"outcome"`
	Attempts int   `json:"attempts"`
	Retries  int   `json:"retries"`
	Searches int   `json:"searches"`
}

// Service is the evidence retrieval orchestrator.
type Service struct {
	config   *Config
	coord    *coordinator.Coordinator
	runs     *runlog.Log
	ownsRuns bool
	cache    *trust.Cache
	breakers map[string]func() connectivity.Counts
	logger   *slog.Logger
	now      func() time.Time

	// Overrides set by options.
	provider  search.Provider
	oracle    trust.Oracle
	judge     correlate.Judge
	sleep     func(ctx context.Context, d time.Duration) error
	observer  coordinator.Observer
	validator func(string) error
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithSearchProvider replaces the configured search provider.
func WithSearchProvider(p SearchProvider) ServiceOption {
	return func(s *Service) { s.provider = p }
}

// WithOracle replaces the configured trust oracle. The trust cache still
// applies when enabled.
func WithOracle(o Oracle) ServiceOption {
	return func(s *Service) { s.oracle = o }
}

// WithJudge replaces the chat completion judge.
func WithJudge(j Judge) ServiceOption {
	return func(s *Service) { s.judge = j }
}

// WithRunLog sets the run log. The Service does not close it.
func WithRunLog(l *runlog.Log) ServiceOption {
	return func(s *Service) { s.runs = l }
}

// WithSleep overrides the rate-limit backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) { s.sleep = fn }
}

// WithObserver receives every coordinator state transition.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithURLValidator overrides the SSRF check applied to fetched and
// robots.txt URLs (default: safeurl.Validate). Use in tests with httptest
// servers that listen on loopback addresses.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(s *Service) { s.validator = fn }
}

// New creates a Service from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("evidence: config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		breakers: make(map[string]func() connectivity.Counts),
	}
	for _, opt := range opts {
		opt(s)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.Fetch.Timeout.Std(),
		MaxBytes:     cfg.Fetch.MaxBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		BodyMode:     extract.Mode(cfg.Fetch.BodyMode),
		BlockPhrases: cfg.Fetch.BlockPhrases,
		BlockWindow:  cfg.Fetch.BlockWindow,
		URLValidator: s.validator,
	}, logger)

	gate := permission.New(permission.Config{
		Timeout:      cfg.Permission.Timeout.Std(),
		UserAgent:    cfg.Permission.UserAgent,
		URLValidator: s.validator,
	}, logger)

	oracle := s.oracle
	if oracle == nil {
		var err error
		if oracle, err = newOracle(cfg.Trust, logger); err != nil {
			return nil, err
		}
		if ng, ok := oracle.(*trust.NewsGuard); ok {
			s.breakers["newsguard"] = ng.Breaker
		}
	}
	if cfg.Trust.Cache {
		s.cache = trust.NewCache(oracle)
		oracle = s.cache
	}
	trustFilter, err := trust.NewFilter(oracle, trust.FilterConfig{
		Deny:    cfg.Trust.Deny,
		Workers: cfg.Trust.Workers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}

	judge := s.judge
	if judge == nil {
		chat := correlate.NewChatJudge(correlate.ChatConfig{
			BaseURL: cfg.Judge.BaseURL,
			Model:   cfg.Judge.Model,
			APIKey:  cfg.Judge.APIKey,
			Timeout: cfg.Judge.Timeout.Std(),
			Retries: cfg.Judge.Retries,
			Breaker: cfg.Judge.Breaker.toBreaker(),
		}, logger)
		s.breakers["judge"] = chat.Breaker
		judge = chat
	}
	correlator := correlate.NewFilter(judge, correlate.FilterConfig{
		PrefixChars: cfg.Judge.PrefixChars,
		Concurrency: cfg.Judge.Concurrency,
	}, logger)

	provider := s.provider
	if provider == nil {
		if provider, err = search.New(search.Config{
			Provider:  cfg.Search.Provider,
			Endpoint:  cfg.Search.Endpoint,
			Region:    cfg.Search.Region,
			Timeout:   cfg.Search.Timeout.Std(),
			UserAgent: cfg.Search.UserAgent,
			API:       search.APIConfig(cfg.Search.API),
		}, logger); err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
	}

	s.coord, err = coordinator.New(coordinator.Config{
		Search:       provider,
		Trust:        trustFilter,
		Fetch:        fetcher,
		Correlate:    correlator,
		Permission:   func() trust.Permission { return gate.Session() },
		Threshold:    cfg.Trust.Threshold,
		MaxAttempts:  cfg.Retrieval.MaxAttempts,
		Backoff:      cfg.Retrieval.Backoff.Std(),
		FetchWorkers: cfg.Retrieval.FetchWorkers,
		Sleep:        s.sleep,
		Observer:     s.observer,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}

	if s.runs == nil && cfg.DBPath != "" {
		if s.runs, err = runlog.Open(cfg.DBPath, logger); err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		s.ownsRuns = true
	}
	return s, nil
}

func newOracle(cfg TrustConfig, logger *slog.Logger) (trust.Oracle, error) {
	switch cfg.Provider {
	case "static":
		return trust.Static(cfg.staticTable()), nil
	default:
		ng, err := trust.NewNewsGuard(trust.NewsGuardConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			CheckURL:     cfg.CheckURL,
			Timeout:      cfg.Timeout.Std(),
			Breaker:      cfg.Breaker.toBreaker(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		return ng, nil
	}
}

// Config returns the configuration the Service was built with.
func (s *Service) Config() *Config { return s.config }

// Close releases the run log when the Service opened it.
func (s *Service) Close() error {
	if s.ownsRuns && s.runs != nil {
		return s.runs.Close()
	}
	return nil
}

// Retrieve gathers evidence for claim with the configured defaults. An
// empty query falls back to the claim.
func (s *Service) Retrieve(ctx context.Context, claim, query string) (*Evidence, error) {
	return s.RetrieveWith(ctx, Request{Claim: claim, Query: query})
}

// RetrieveWith gathers evidence for req. It returns at least
// MinValidSources correlated documents, zero documents when nothing
// trusted was found, or a partial set on cancellation. Otherwise it fails
// with ErrInvalidInput, *InsufficientEvidenceError, *RateLimitError,
// *SearchError or ErrCancelled.
func (s *Service) RetrieveWith(ctx context.Context, req Request) (*Evidence, error) {
	creq, err := s.coordinatorRequest(req)
	if err != nil {
		return nil, err
	}

	started := s.now()
	res, err := s.coord.Retrieve(ctx, creq)
	finished := s.now()

	ev := &Evidence{Claim: creq.Claim, Query: creq.Query}
	if res != nil {
		ev.Documents = res.Documents
		ev.Partial = res.Partial
		ev.Outcome = res.Outcome
		ev.Attempts = res.Attempts
		ev.Retries = res.Retries
		ev.Searches = res.Searches
	}
	if ev.Documents == nil {
		ev.Documents = []Document{}
	}

	if s.runs != nil {
		run := s.runRecord(creq, res, err, started, finished)
		// The run is recorded even when ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := s.runs.Record(rctx, run); rerr != nil {
			s.logger.Warn("evidence: record run failed", "claim", creq.Claim, "error", rerr)
		} else {
			ev.RunID = run.ID
		}
		cancel()
	}

	if s.cache != nil {
		entries, hits, misses := s.cache.Stats()
		s.logger.Debug("evidence: trust cache", "entries", entries, "hits", hits, "misses", misses)
	}

	if err != nil {
		return nil, err
	}
	s.logger.Info("evidence: retrieved",
		"run_id", ev.RunID, "outcome", ev.Outcome, "documents", len(ev.Documents),
		"partial", ev.Partial, "attempts", ev.Attempts, "retries", ev.Retries)
	return ev, nil
}

func (s *Service) coordinatorRequest(req Request) (coordinator.Request, error) {
	claim := strings.TrimSpace(req.Claim)
	switch {
	case claim == "":
		return coordinator.Request{}, fmt.Errorf("%w: claim is required", ErrInvalidInput)
	case len(claim) > maxClaimLen:
		return coordinator.Request{}, fmt.Errorf("%w: claim exceeds %d bytes", ErrInvalidInput, maxClaimLen)
	case req.NumResults < 0 || req.NumResults > maxNumResults:
		return coordinator.Request{}, fmt.Errorf("%w: num_results must be in [1, %d]", ErrInvalidInput, maxNumResults)
	case req.MinValidSources < 0 || req.MinValidSources > maxMinValidSources:
		return coordinator.Request{}, fmt.Errorf("%w: min_valid_sources must be in [1, %d]", ErrInvalidInput, maxMinValidSources)
	case req.MaxRetries != nil && (*req.MaxRetries < 0 || *req.MaxRetries > maxRetriesLimit):
		return coordinator.Request{}, fmt.Errorf("%w: max_retries must be in [0, %d]", ErrInvalidInput, maxRetriesLimit)
	}

	out := coordinator.Request{
		Claim:           claim,
		Query:           strings.TrimSpace(req.Query),
		NumResults:      req.NumResults,
		MinValidSources: req.MinValidSources,
	}
	if out.NumResults == 0 {
		out.NumResults = s.config.Retrieval.NumResults
	}
	if out.MinValidSources == 0 {
		out.MinValidSources = s.config.Retrieval.MinValidSources
	}
	retries := s.config.Retrieval.MaxRetries
	if req.MaxRetries != nil {
		retries = *req.MaxRetries
	}
	// The coordinator reads 0 as "default" and negative as "none".
	out.MaxRetries = retries
	if retries == 0 {
		out.MaxRetries = -1
	}
	if out.Query == "" {
		out.Query = claim
	}
	return out, nil
}

func (s *Service) runRecord(req coordinator.Request, res *coordinator.Result, err error, started, finished time.Time) *runlog.Run {
	run := &runlog.Run{
		Claim:      req.Claim,
		Query:      req.Query,
		Required:   req.MinValidSources,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if res != nil {
		run.Outcome = res.Outcome.String()
		run.Partial = res.Partial
		run.Attempts = res.Attempts
		run.Retries = res.Retries
		run.Searches = res.Searches
		run.Found = len(res.Documents)
		run.Sources = runlog.SourcesFrom(res.Documents)
		return run
	}

	run.Error = err.Error()
	var insufficient *InsufficientEvidenceError
	var limited *RateLimitError
	switch {
	case errors.As(err, &insufficient):
		run.Outcome = coordinator.StateExhausted.String()
		run.Found = insufficient.Found
		run.Attempts = insufficient.Attempts
	case errors.Is(err, ErrCancelled):
		run.Outcome = coordinator.StateCancelled.String()
	case errors.As(err, &limited):
		run.Outcome = coordinator.StateFailed.String()
		run.Retries = limited.Retries
	default:
		run.Outcome = coordinator.StateFailed.String()
	}
	return run
}

// History lists recent runs, newest first, without their sources.
func (s *Service) History(ctx context.Context, limit int) ([]Run, error) {
	if s.runs == nil {
		return nil, ErrNoRunLog
	}
	return s.runs.History(ctx, limit)
}

// Run returns one recorded run with its sources.
func (s *Service) Run(ctx context.Context, id string) (*Run, error) {
	if s.runs == nil {
		return nil, ErrNoRunLog
	}
	return s.runs.Run(ctx, id)
}

// Health is the state of the circuit breakers in front of the remote trust
// oracle and judge. Injected collaborators have no breaker.
type Health struct {
	Status   string                   `json:"status"` // ok | degraded
	Breakers map[string]BreakerStatus `json:"breakers"`
}

// BreakerStatus is the public view of one breaker.
type BreakerStatus struct {
	State    string `json:"state"`
	Rejected int64  `json:"rejected"`
	Failed   int64  `json:"failed"`
}

// Health reports breaker states. Status is "degraded" while any breaker is open.
func (s *Service) Health() Health {
	h := Health{Status: "ok", Breakers: make(map[string]BreakerStatus, len(s.breakers))}
	for name, counts := range s.breakers {
		c := counts()
		h.Breakers[name] = BreakerStatus{State: c.State.String(), Rejected: c.Rejected, Failed: c.Failed}
		if c.State == connectivity.BreakerOpen {
			h.Status = "degraded"
		}
	}
	return h
}
