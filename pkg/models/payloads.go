package models

// Typed payloads for core events. Every core event type has a fixed payload
// shape; slice events carry whatever their slice schema allows.

// InitializedWithEventsData is the payload of CORE:INITIALIZED_WITH_EVENTS.
type InitializedWithEventsData struct {
	EventCount int `json:"eventCount"`
}

// SetSystemPromptData is the payload of CORE:SET_SYSTEM_PROMPT.
type SetSystemPromptData struct {
	Prompt string `json:"prompt"`
}

// AddContextRulesData is the payload of CORE:ADD_CONTEXT_RULES.
type AddContextRulesData struct {
	Rules []ContextRule `json:"rules"`
}

// SetModelOptsData is the payload of CORE:SET_MODEL_OPTS.
type SetModelOptsData struct {
	ModelOpts ModelOpts `json:"modelOpts"`
}

// SetMetadataData is the payload of CORE:SET_METADATA.
type SetMetadataData struct {
	Metadata map[string]any `json:"metadata"`
}

// AddLabelData is the payload of CORE:ADD_LABEL.
type AddLabelData struct {
	Label string `json:"label"`
}

// LLMRequestStartData is the payload of CORE:LLM_REQUEST_START. It carries
// the parameter set the request was launched with.
type LLMRequestStartData struct {
	Params ResponseParams `json:"params"`
}

// LLMRequestEndData is the payload of CORE:LLM_REQUEST_END.
type LLMRequestEndData struct {
	RawResponse map[string]any `json:"rawResponse,omitempty"`
}

// LLMRequestCancelData is the payload of CORE:LLM_REQUEST_CANCEL.
type LLMRequestCancelData struct {
	Reason string `json:"reason"`
}

// LocalFunctionToolCallData is the payload of CORE:LOCAL_FUNCTION_TOOL_CALL.
type LocalFunctionToolCallData struct {
	Call            FunctionCall   `json:"call"`
	Result          ToolCallResult `json:"result"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`

	// AssociatedReasoningItemID links the call to the reasoning item that
	// preceded it in the model output stream.
	AssociatedReasoningItemID string `json:"associatedReasoningItemId,omitempty"`

	// LLMRequestStartEventIndex is the index of the LLM_REQUEST_START event
	// of the request that produced this call.
	LLMRequestStartEventIndex *int `json:"llmRequestStartEventIndex,omitempty"`
}

// CodemodeToolCallsData is the payload of CORE:CODEMODE_TOOL_CALLS.
type CodemodeToolCallsData struct {
	ToolCalls []RecordedToolCall `json:"toolCalls"`
}

// PauseLLMRequestsData is the payload of CORE:PAUSE_LLM_REQUESTS.
type PauseLLMRequestsData struct {
	Reason string `json:"reason,omitempty"`
}

// FileDirection describes which way a shared file travelled.
type FileDirection string

const (
	// FileFromAgentToUser marks files produced by the agent.
	FileFromAgentToUser FileDirection = "from-agent-to-user"

	// FileFromUserToAgent marks files supplied by a participant.
	FileFromUserToAgent FileDirection = "from-user-to-agent"
)

// FileSharedData is the payload of CORE:FILE_SHARED.
type FileSharedData struct {
	Direction    FileDirection  `json:"direction"`
	FileID       string         `json:"fileId"`
	OpenAIFileID string         `json:"openAIFileId,omitempty"`
	Filename     string         `json:"filename,omitempty"`
	MimeType     string         `json:"mimeType,omitempty"`
	PublicURL    string         `json:"publicURL,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MessageFromAgentData is the payload of CORE:MESSAGE_FROM_AGENT.
type MessageFromAgentData struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

// ParticipantEventData is the payload of the CORE:PARTICIPANT_* events.
type ParticipantEventData struct {
	Participant Participant `json:"participant"`

	// Message is the mention text for PARTICIPANT_MENTIONED.
	Message string `json:"message,omitempty"`
}

// ToolCallApprovalRequestedData is the payload of
// CORE:TOOL_CALL_APPROVAL_REQUESTED.
type ToolCallApprovalRequestedData struct {
	ApprovalKey string         `json:"approvalKey"`
	ToolName    string         `json:"toolName"`
	Args        map[string]any `json:"args,omitempty"`
	ToolCallID  string         `json:"toolCallId"`
}

// ToolCallApprovedData is the payload of CORE:TOOL_CALL_APPROVED.
type ToolCallApprovedData struct {
	ApprovalKey string `json:"approvalKey"`
	Approved    bool   `json:"approved"`
	DecidedBy   string `json:"decidedBy,omitempty"`
}

// InternalErrorData is the payload of CORE:INTERNAL_ERROR.
type InternalErrorData struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`

	// RejectedEvents embeds the batch that failed ingress, as JSON.
	RejectedEvents string `json:"rejectedEvents,omitempty"`
}

// LogData is the payload of CORE:LOG.
type LogData struct {
	Msg   string `json:"msg"`
	Level string `json:"level,omitempty"`
}

// BackgroundTaskProgressData is the payload of CORE:BACKGROUND_TASK_PROGRESS.
type BackgroundTaskProgressData struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
