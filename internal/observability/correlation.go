package observability

import "context"

// ContextKey is the type for correlation keys stored in contexts.
type ContextKey string

const (
	// ConversationIDKey correlates log lines to one conversation.
	ConversationIDKey ContextKey = "conversation_id"

	// RequestIndexKey correlates log lines to one model request (the
	// event index of its LLM_REQUEST_START).
	RequestIndexKey ContextKey = "request_index"

	// ToolCallIDKey correlates log lines to one tool invocation.
	ToolCallIDKey ContextKey = "tool_call_id"
)

// AddConversationID adds a conversation ID to the context.
func AddConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// GetConversationID retrieves the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(ConversationIDKey).(string); ok {
		return id
	}
	return ""
}

// AddRequestIndex adds a model request index to the context.
func AddRequestIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, RequestIndexKey, index)
}

// GetRequestIndex retrieves the model request index, or -1 when absent.
func GetRequestIndex(ctx context.Context) int {
	if idx, ok := ctx.Value(RequestIndexKey).(int); ok {
		return idx
	}
	return -1
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, id)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}
