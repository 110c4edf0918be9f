// Package trace carries a short correlation id through a request's context
// so log lines from the collector, the run orchestrator, and tool handlers
// can be stitched together.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// NewID returns a short random correlation id.
func NewID() string {
	return uuid.NewString()[:8]
}

// WithID returns a context carrying the given correlation id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the correlation id from ctx, or "" when none was set.
func ID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
