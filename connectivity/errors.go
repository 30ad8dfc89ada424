package connectivity

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrCircuitOpen is returned when the circuit breaker for a service is open,
// rejecting the call without attempting it.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// HTTPError is returned when a remote API answers with a non-2xx status.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string // truncated response body, for logs
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("connectivity: %s: http %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("connectivity: %s: http %d: %s", e.Service, e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError, keeping at most 200 bytes of body.
func NewHTTPError(service string, code int, body []byte) *HTTPError {
	if len(body) > 200 {
		body = body[:200]
	}
	return &HTTPError{Service: service, StatusCode: code, Body: string(body)}
}

// Temporary reports whether err is worth retrying: 429 and 5xx responses,
// and network timeouts.
func Temporary(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Outage reports whether err says the remote service is unhealthy rather
// than that this one request was bad. 4xx answers other than 429 are the
// caller's problem and do not count.
func Outage(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return true
}
