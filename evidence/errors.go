package evidence

import (
	"errors"

	"github.com/hazyhaar/factcheck/evidence/internal/coordinator"
)

// ErrInvalidInput is returned for an empty claim or out-of-range request values.
var ErrInvalidInput = errors.New("evidence: invalid input")

// ErrNoRunLog is returned by History and Run when no run log is configured.
var ErrNoRunLog = errors.New("evidence: run log disabled")

// ErrCancelled is returned when a retrieval is cancelled before any
// evidence was validated. It wraps the context's cause.
var ErrCancelled = coordinator.ErrCancelled

// InsufficientEvidenceError reports that fewer correlated sources than
// required were found after the top-up budget was spent.
type InsufficientEvidenceError = coordinator.InsufficientEvidenceError

// RateLimitError reports that the search provider kept throttling after
// every backoff.
type RateLimitError = coordinator.RateLimitError

// SearchError wraps a search provider failure that is not a rate limit.
type SearchError = coordinator.SearchError
