// Package shield provides the HTTP middleware in front of the evidence API:
// security headers, request body limits, request IDs and per-client rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.Config{MaxBody: 64 << 10}) {
//	    r.Use(mw)
//	}
//	r.With(limiter.Middleware).Post("/retrieve", h)
package shield

import "net/http"

// Config configures Stack.
type Config struct {
	Headers HeaderConfig // zero value uses DefaultHeaders
	MaxBody int64        // request body cap in bytes; 0 disables
}

// Stack returns the standard middleware stack, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func Stack(cfg Config) []func(http.Handler) http.Handler {
	headers := cfg.Headers
	if headers == (HeaderConfig{}) {
		headers = DefaultHeaders()
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(headers),
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return append(stack, RequestID)
}

// HeadToGet serves HEAD requests with the GET route; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody caps every request body at maxBytes. Reads past the cap fail and
// the handler reports a bad request.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
