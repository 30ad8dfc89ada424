package correlate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

// DefaultPrefixChars is how much of a body is shown to the judge.
const DefaultPrefixChars = 2000

// maxConcurrency caps parallel judge calls.
const maxConcurrency = 4

// FilterConfig configures a Filter.
type FilterConfig struct {
	PrefixChars int // Default: DefaultPrefixChars.
	Concurrency int // Default: 1, capped at 4.
}

// Filter keeps documents judged correlated with the claim.
type Filter struct {
	judge       Judge
	prefixChars int
	concurrency int
	logger      *slog.Logger
}

// NewFilter creates a Filter.
func NewFilter(judge Judge, cfg FilterConfig, logger *slog.Logger) *Filter {
	if cfg.PrefixChars <= 0 {
		cfg.PrefixChars = DefaultPrefixChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > maxConcurrency {
		cfg.Concurrency = maxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{judge: judge, prefixChars: cfg.PrefixChars, concurrency: cfg.Concurrency, logger: logger}
}

// Filter returns the documents the judge labels Correlated, in input
// order. A judge failure drops only the document it concerns.
func (f *Filter) Filter(ctx context.Context, claim string, docs []document.Document) []document.Document {
	keep := make([]bool, len(docs))

	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			keep[i] = f.judgeOne(ctx, claim, docs[i])
		}(i)
	}
	wg.Wait()

	out := make([]document.Document, 0, len(docs))
	for i, d := range docs {
		if keep[i] {
			out = append(out, d)
		}
	}
	f.logger.Info("correlate: filtered documents", "total", len(docs), "correlated", len(out))
	return out
}

func (f *Filter) judgeOne(ctx context.Context, claim string, doc document.Document) bool {
	logger := f.logger.With("url", doc.URL)
	label, err := f.judge.Classify(ctx, Prefix(doc.Body, f.prefixChars), claim)
	if err != nil {
		logger.Warn("correlate: judge failed, dropping document", "error", err)
		return false
	}
	if label != Correlated {
		logger.Debug("correlate: not correlated", "label", string(label))
		return false
	}
	return true
}

// Prefix returns the first n runes of s.
func Prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
