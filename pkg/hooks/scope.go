package hooks

import "context"

// Scope identifies the session (and, while a stage is active, the stage
// execution) an event belongs to. Carried in the context so instrumented
// call sites don't need the ids threaded through every signature.
type Scope struct {
	SessionID        string
	StageExecutionID string
}

type scopeKey struct{}

// WithScope returns a context carrying the given session/stage scope.
func WithScope(ctx context.Context, sessionID, stageExecutionID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, Scope{
		SessionID:        sessionID,
		StageExecutionID: stageExecutionID,
	})
}

// ScopeFrom extracts the scope from the context. Returns the zero Scope when
// no scope was set (event will carry empty ids).
func ScopeFrom(ctx context.Context) Scope {
	if s, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}
