package coordinator

import "time"

// State is a step of a retrieval run.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateTrustFiltering
	StateFetching
	StateCorrelating
	StateToppingUp
	StateRateLimited
	StateSufficient
	StateExhausted
	StateEmpty
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateSearching:      "searching",
	StateTrustFiltering: "trust_filtering",
	StateFetching:       "fetching",
	StateCorrelating:    "correlating",
	StateToppingUp:      "topping_up",
	StateRateLimited:    "rate_limited",
	StateSufficient:     "sufficient",
	StateExhausted:      "exhausted",
	StateEmpty:          "empty",
	StateCancelled:      "cancelled",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether a run ends in s.
func (s State) Terminal() bool {
	switch s {
	case StateSufficient, StateExhausted, StateEmpty, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Transition is one state change of a run.
type Transition struct {
	From    State
	To      State
	Attempt int // top-up rounds so far
	Retry   int // rate-limit retries so far
	Count   int // items produced by the step that just ended
	At      time.Time
}

// Observer receives every transition, synchronously, on the run goroutine.
type Observer func(Transition)
