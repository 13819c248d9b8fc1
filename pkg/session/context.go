package session

import "context"

type contextKey struct{}

// ContextWithSession attaches a session to the context for downstream
// handlers.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// SessionFromContext retrieves the session attached by
// ContextWithSession, or nil when none is present.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}
