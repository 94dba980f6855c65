package logger

import "context"

type contextKey struct{}

var fieldsKey = contextKey{}

// Fields holds request-scoped values threaded through a dispatched request so
// every log line emitted while handling it carries the same correlation
// data, without passing a logger down every call.
type Fields struct {
	SessionID string // opaque per-Link session identifier
	StreamID  uint16 // the request's wire stream id
	Request   string // request code name (e.g. "read", "pgwrite")
	ClientIP  string
}

// WithFields attaches f to ctx for later retrieval by the *Ctx logging calls.
func WithFields(ctx context.Context, f *Fields) context.Context {
	return context.WithValue(ctx, fieldsKey, f)
}

// FromContext retrieves the Fields attached to ctx, or nil if none.
func FromContext(ctx context.Context) *Fields {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey).(*Fields)
	return f
}

func withFields(ctx context.Context, args []any) []any {
	f := FromContext(ctx)
	if f == nil {
		return args
	}

	out := make([]any, 0, 8+len(args))
	if f.SessionID != "" {
		out = append(out, "session_id", f.SessionID)
	}
	if f.StreamID != 0 {
		out = append(out, "stream_id", f.StreamID)
	}
	if f.Request != "" {
		out = append(out, "request", f.Request)
	}
	if f.ClientIP != "" {
		out = append(out, "client_ip", f.ClientIP)
	}
	return append(out, args...)
}
