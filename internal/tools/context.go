package tools

import "context"

// Session is the conversation a tool call belongs to. Handlers get it
// from the context because the model cannot be trusted to echo routing
// identifiers back correctly.
type Session struct {
	TenantPhone  string
	UserPhone    string
	InstanceName string
}

type sessionKey struct{}

// WithSession attaches the conversation to the context for the duration
// of a run.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom extracts the conversation, if any.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
