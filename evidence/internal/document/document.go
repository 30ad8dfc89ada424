// Package document defines the records that flow through evidence retrieval:
// candidate links from search, trust ratings, fetched documents and the
// URL-unique evidence set.
package document

import "fmt"

// Status classifies the outcome of fetching a candidate URL.
type Status int

const (
	StatusFailed  Status = iota // timeout, network error, unusable response
	StatusBlocked               // access denied, paywall, login wall, robots.txt
	StatusFetched               // title and body extracted
)

func (s Status) String() string {
	switch s {
	case StatusFetched:
		return "fetched"
	case StatusBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// MarshalText renders the status as its name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fetched":
		*s = StatusFetched
	case "blocked":
		*s = StatusBlocked
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("document: unknown status %q", b)
	}
	return nil
}

// TrustedRank is the oracle rank category of trusted publishers.
const TrustedRank = "T"

// CandidateLink is one search hit.
type CandidateLink struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Rank    int    `json:"rank"`            // 1-based provider position
	Score   int    `json:"score,omitempty"` // trust score, set by the trust filter
}

// SiteTrust is a trust oracle rating for a domain.
type SiteTrust struct {
	Domain string `json:"domain"`
	Rank   string `json:"rank"`
	Score  int    `json:"score"`
}

// Trusted reports whether the rating is in the trusted tier at or above threshold.
func (t SiteTrust) Trusted(threshold int) bool {
	return t.Rank == TrustedRank && t.Score >= threshold
}

// Document is a fetched page. Title and Body are both set iff Status is
// StatusFetched.
type Document struct {
	Title  string `json:"title"`
	Site   string `json:"site"`
	URL    string `json:"url"`
	Body   string `json:"body"`
	Score  int    `json:"score"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the document carries usable content.
func (d Document) OK() bool {
	return d.Status == StatusFetched && d.Title != "" && d.Body != ""
}

// Blocked returns an empty document for url marked as blocked.
func Blocked(url, reason string) Document {
	return Document{URL: url, Status: StatusBlocked, Reason: reason}
}

// Failed returns an empty document for url marked as failed.
func Failed(url, reason string) Document {
	return Document{URL: url, Status: StatusFailed, Reason: reason}
}
