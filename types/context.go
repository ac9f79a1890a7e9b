package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyAgentID   contextKey = "agent_id"
	keyRequestID contextKey = "request_id"
)

// WithAgentID adds the calling agent's id to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts the calling agent's id from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}

// WithRequestID adds a request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request id from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}
