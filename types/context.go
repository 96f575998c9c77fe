package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID     contextKey = "trace_id"
	keyExecutionID contextKey = "execution_id"
	keyNodeID      contextKey = "node_id"
	keyWorkflowID  contextKey = "workflow_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithExecutionID adds execution ID to context.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, keyExecutionID, executionID)
}

// ExecutionID extracts execution ID from context.
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyExecutionID).(string)
	return v, ok && v != ""
}

// WithNodeID adds node ID to context.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, keyNodeID, nodeID)
}

// NodeID extracts node ID from context.
func NodeID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyNodeID).(string)
	return v, ok && v != ""
}

// WithWorkflowID adds workflow ID to context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, keyWorkflowID, workflowID)
}

// WorkflowID extracts workflow ID from context.
func WorkflowID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorkflowID).(string)
	return v, ok && v != ""
}
