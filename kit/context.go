package kit

import "context"

type ctxKey int

const (
	transportKey ctxKey = iota
	requestIDKey
)

// WithTransport records which surface ("http" or "mcp") carries the call.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// GetTransport returns the surface set by WithTransport, "http" when unset.
func GetTransport(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey).(string); ok {
		return t
	}
	return "http"
}

// WithRequestID attaches the request ID logged by Logging.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
