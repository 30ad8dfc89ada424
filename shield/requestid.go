package shield

import (
	"net/http"
	"strings"

	"github.com/hazyhaar/factcheck/idgen"
	"github.com/hazyhaar/factcheck/kit"
)

// maxRequestIDLen bounds client-supplied request IDs.
const maxRequestIDLen = 128

// RequestID propagates X-Request-ID, or assigns a fresh one, into the
// response headers and the kit request ID of the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > maxRequestIDLen {
			id = idgen.New()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
	})
}
