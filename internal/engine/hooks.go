package engine

import (
	"context"

	"github.com/haasonsaas/convo/internal/llm"
	"github.com/haasonsaas/convo/pkg/models"
)

// ToolExecFunc executes a tool call with parsed arguments.
type ToolExecFunc func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error)

// ToolWrapper decorates a tool execution (rate limits, audit, approval).
// Wrappers compose innermost-last: the last wrapper in a tool's list is the
// one closest to the executor.
type ToolWrapper func(next ToolExecFunc) ToolExecFunc

// ToolOutcome is what a tool execution chain returns.
type ToolOutcome struct {
	ToolCallResult models.ToolCallResult

	// TriggerLLMRequest overrides the default trigger behavior of the
	// resulting event: nil keeps the default.
	TriggerLLMRequest *bool

	// AddEvents are extra events the tool wants appended alongside its
	// call event.
	AddEvents []models.Event
}

// RuntimeTool is a resolved, executable tool available during one state
// read. Tools without an Execute func are declaration-only (remote or
// provider-side) and cannot be invoked locally.
type RuntimeTool struct {
	Spec     models.ToolSpec
	Execute  ToolExecFunc
	Wrappers []ToolWrapper
}

// IsLocal reports whether the tool can be executed by this engine.
func (t RuntimeTool) IsLocal() bool { return t.Execute != nil }

// UploadFileRequest is the payload of the UploadFile host hook.
type UploadFileRequest struct {
	Content       []byte
	Filename      string
	ContentLength int
	MimeType      string
	Metadata      map[string]any
}

// UploadedFile identifies a stored file on the host and, when applicable,
// at the provider.
type UploadedFile struct {
	FileID       string
	OpenAIFileID string
	PublicURL    string
}

// StreamChunkInfo is the context added to forwarded stream chunks.
type StreamChunkInfo struct {
	// BatchID is the event index of the LLM_REQUEST_START this stream
	// belongs to.
	BatchID int

	// ActiveFunctionCalls is the number of tool invocations in flight.
	ActiveFunctionCalls int
}

// EventNotification is delivered to the OnEventAdded observer for every
// admitted event, in append order.
type EventNotification struct {
	Event        models.Event
	ReducedState models.ReducedState
}

// ApprovalRequest is the payload of the RequestApprovalForToolCall hook.
type ApprovalRequest struct {
	ToolName   string
	Args       map[string]any
	ToolCallID string
}

// ApprovedToolCall is delivered to OnToolCallApproved after an approval
// resolves positively. ReplayToolCall re-invokes the tool with an
// "injected-" call id (skipping the approval wrapper) and appends the
// resulting events.
type ApprovedToolCall struct {
	Data          models.ToolCallApprovedData
	Approval      models.ToolCallApproval
	State         models.ReducedState
	ReplayToolCall func(ctx context.Context) error
}

// Hooks is the enumerated host contract. Every hook degrades gracefully
// when nil, except where a feature (approvals, codemode, image output)
// explicitly needs its hook.
type Hooks struct {
	// StoreEvents persists the whole log; called after every batch. A nil
	// hook skips persistence.
	StoreEvents func(ctx context.Context, events []models.Event) error

	// Background runs fire-and-forget work. A nil hook falls back to a
	// plain goroutine that logs errors and recovers panics.
	Background func(name string, fn func(ctx context.Context) error)

	// GetClient returns the provider client for one request.
	GetClient func(ctx context.Context) (llm.Client, error)

	// ToolSpecsToImplementations resolves tool specs to runtime tools.
	ToolSpecsToImplementations func(specs []models.ToolSpec) []RuntimeTool

	// UploadFile stores a file produced by the model (image generation).
	UploadFile func(ctx context.Context, req UploadFileRequest) (*UploadedFile, error)

	// TurnFileIDIntoPublicURL maps a host file id to a shareable URL.
	TurnFileIDIntoPublicURL func(fileID string) (string, bool)

	// GetFinalRedirectURL resolves the public URL of a hosted engine
	// instance. Purely informational for hosts that route by instance name.
	GetFinalRedirectURL func(instanceName string) (string, bool)

	// OnLLMStreamResponseStreamingChunk observes raw stream chunks.
	OnLLMStreamResponseStreamingChunk func(chunk models.StreamChunk, info StreamChunkInfo)

	// OnEventAdded observes every admitted event.
	OnEventAdded func(n EventNotification)

	// GetRuleMatchData returns the value context-rule matchers evaluate
	// against. A nil hook exposes metadata, labels and participants.
	GetRuleMatchData func(state *models.ReducedState) any

	// RequestApprovalForToolCall registers an approval request and returns
	// a fresh approval key. Required iff approval policies are used.
	RequestApprovalForToolCall func(ctx context.Context, req ApprovalRequest) (string, error)

	// OnToolCallApproved fires after an approval resolves positively.
	OnToolCallApproved func(ctx context.Context, approved ApprovedToolCall)

	// SetupCodemode acquires a scoped codemode evaluator. Required iff
	// codemode policies are used.
	SetupCodemode func(ctx context.Context, fns map[string]models.CodemodeFunc) (models.CodemodeSession, error)

	// UserFacingToolName is the tool counted by the infinite-loop
	// failsafe. Defaults to "sendSlackMessage".
	UserFacingToolName string
}

const defaultUserFacingToolName = "sendSlackMessage"

func (h Hooks) userFacingToolName() string {
	if h.UserFacingToolName != "" {
		return h.UserFacingToolName
	}
	return defaultUserFacingToolName
}
