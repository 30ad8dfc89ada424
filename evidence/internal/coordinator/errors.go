package coordinator

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a run is cancelled before any evidence
// was validated.
var ErrCancelled = errors.New("coordinator: retrieval cancelled")

// InsufficientEvidenceError reports that fewer correlated sources than
// required were found once the top-up budget was spent.
type InsufficientEvidenceError struct {
	Found    int
	Required int
	Attempts int
}

func (e *InsufficientEvidenceError) Error() string {
	return fmt.Sprintf("coordinator: insufficient evidence: found %d of %d required after %d top-up attempts",
		e.Found, e.Required, e.Attempts)
}

// RateLimitError reports that the search provider kept throttling after
// the retry budget was spent.
type RateLimitError struct {
	Retries int
	Err     error // last provider error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("coordinator: search rate limited after %d retries: %v", e.Retries, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// SearchError wraps a search failure that is not a rate limit.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("coordinator: search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
