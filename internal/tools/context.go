package tools

import "context"

type contextKey string

const (
	threadIDKey contextKey = "thread_id"
	runIDKey    contextKey = "run_id"
)

// WithThreadID records the conversation thread the current run is
// answering. Tools that act on the thread read it back with
// [ThreadIDFromContext].
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadIDFromContext returns the thread ID, or "" if not set.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// WithRunID adds the per-invocation correlation ID to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run ID, or "" if not set.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
