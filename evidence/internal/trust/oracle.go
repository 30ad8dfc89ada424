// Package trust rates candidate sites through a trust oracle and keeps only
// trusted-tier publishers above a score threshold.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

// ErrUnrated is returned when the oracle has no rating for a domain.
var ErrUnrated = errors.New("trust: domain not rated")

// Oracle rates a domain.
type Oracle interface {
	Lookup(ctx context.Context, domain string) (document.SiteTrust, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, domain string) (document.SiteTrust, error)

// Lookup implements Oracle.
func (f OracleFunc) Lookup(ctx context.Context, domain string) (document.SiteTrust, error) {
	return f(ctx, domain)
}

// Static is an Oracle backed by a fixed table, keyed by domain.
// A "www." prefix on the looked-up domain is ignored when the exact
// domain is absent.
type Static map[string]document.SiteTrust

// Lookup implements Oracle.
func (s Static) Lookup(_ context.Context, domain string) (document.SiteTrust, error) {
	domain = strings.ToLower(domain)
	if st, ok := s[domain]; ok {
		st.Domain = domain
		return st, nil
	}
	if st, ok := s[strings.TrimPrefix(domain, "www.")]; ok {
		st.Domain = domain
		return st, nil
	}
	return document.SiteTrust{}, fmt.Errorf("%w: %s", ErrUnrated, domain)
}
