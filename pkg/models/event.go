package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of an event. Core events are namespaced
// "CORE:"; slice events use their own "<SLICE>:" namespace.
type EventType string

// CoreNamespace is the namespace prefix reserved for engine-owned events.
const CoreNamespace = "CORE:"

const (
	// EventInitializedWithEvents marks the end of a historical replay.
	EventInitializedWithEvents EventType = "CORE:INITIALIZED_WITH_EVENTS"

	// EventSetSystemPrompt overwrites the conversation system prompt.
	EventSetSystemPrompt EventType = "CORE:SET_SYSTEM_PROMPT"

	// EventAddContextRules upserts context rules keyed by rule key.
	EventAddContextRules EventType = "CORE:ADD_CONTEXT_RULES"

	// EventSetModelOpts overwrites the model options atomically.
	EventSetModelOpts EventType = "CORE:SET_MODEL_OPTS"

	// EventSetMetadata deep-merges into conversation metadata.
	EventSetMetadata EventType = "CORE:SET_METADATA"

	// EventAddLabel inserts a label into metadata.labels if absent.
	EventAddLabel EventType = "CORE:ADD_LABEL"

	// EventLLMInputItem appends an item to the model input transcript.
	EventLLMInputItem EventType = "CORE:LLM_INPUT_ITEM"

	// EventLLMOutputItem appends a model-produced item to the transcript.
	EventLLMOutputItem EventType = "CORE:LLM_OUTPUT_ITEM"

	// EventLLMRequestStart records that a model request was launched.
	EventLLMRequestStart EventType = "CORE:LLM_REQUEST_START"

	// EventLLMRequestEnd records that the active model request completed.
	EventLLMRequestEnd EventType = "CORE:LLM_REQUEST_END"

	// EventLLMRequestCancel records that the active model request was
	// cancelled or superseded.
	EventLLMRequestCancel EventType = "CORE:LLM_REQUEST_CANCEL"

	// EventLocalFunctionToolCall records a completed local tool invocation.
	EventLocalFunctionToolCall EventType = "CORE:LOCAL_FUNCTION_TOOL_CALL"

	// EventCodemodeToolCalls records the inner tool calls performed by a
	// codemode program.
	EventCodemodeToolCalls EventType = "CORE:CODEMODE_TOOL_CALLS"

	// EventPauseLLMRequests suspends model request triggering.
	EventPauseLLMRequests EventType = "CORE:PAUSE_LLM_REQUESTS"

	// EventResumeLLMRequests lifts a previous pause.
	EventResumeLLMRequests EventType = "CORE:RESUME_LLM_REQUESTS"

	// EventFileShared records a file moving between agent and user.
	EventFileShared EventType = "CORE:FILE_SHARED"

	// EventMessageFromAgent records an outgoing agent message.
	EventMessageFromAgent EventType = "CORE:MESSAGE_FROM_AGENT"

	// EventParticipantJoined adds a participant to the conversation.
	EventParticipantJoined EventType = "CORE:PARTICIPANT_JOINED"

	// EventParticipantLeft removes a participant from the conversation.
	EventParticipantLeft EventType = "CORE:PARTICIPANT_LEFT"

	// EventParticipantMentioned records a mention of the agent by a participant.
	EventParticipantMentioned EventType = "CORE:PARTICIPANT_MENTIONED"

	// EventToolCallApprovalRequested suspends a tool call pending approval.
	EventToolCallApprovalRequested EventType = "CORE:TOOL_CALL_APPROVAL_REQUESTED"

	// EventToolCallApproved resolves a pending approval.
	EventToolCallApproved EventType = "CORE:TOOL_CALL_APPROVED"

	// EventInternalError records an engine-internal failure.
	EventInternalError EventType = "CORE:INTERNAL_ERROR"

	// EventLog records a free-form log line in the event history.
	EventLog EventType = "CORE:LOG"

	// EventBackgroundTaskProgress reports progress of host background work.
	EventBackgroundTaskProgress EventType = "CORE:BACKGROUND_TASK_PROGRESS"
)

// IsCore reports whether the type belongs to the engine's own namespace.
func (t EventType) IsCore() bool {
	return len(t) > len(CoreNamespace) && string(t[:len(CoreNamespace)]) == CoreNamespace
}

// Event is the atom of the conversation log. Events are immutable once
// appended; EventIndex and CreatedAt are assigned at append time.
type Event struct {
	// Type is the discriminant for the Data payload.
	Type EventType `json:"type"`

	// Data is the type-specific payload.
	Data json.RawMessage `json:"data,omitempty"`

	// Metadata carries free-form annotations that do not affect reduction.
	Metadata map[string]any `json:"metadata,omitempty"`

	// EventIndex is the position of the event in its log.
	EventIndex int `json:"eventIndex"`

	// CreatedAt is the append timestamp (UTC).
	CreatedAt time.Time `json:"createdAt"`

	// TriggerLLMRequest requests a model request at the end of the batch.
	TriggerLLMRequest bool `json:"triggerLLMRequest,omitempty"`

	// IdempotencyKey prevents the same event from being appended twice.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// NewEvent builds an event of the given type with a marshalled payload.
// It panics if the payload cannot be marshalled; payload types are
// engine-owned structs for which marshalling cannot fail.
func NewEvent(t EventType, payload any) Event {
	ev := Event{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(fmt.Sprintf("models: marshal %s payload: %v", t, err))
		}
		ev.Data = data
	}
	return ev
}

// DecodeData unmarshals the payload into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DataAsMap returns the payload decoded as a generic map, or an empty map
// when the payload is absent or not an object.
func (e Event) DataAsMap() map[string]any {
	if len(e.Data) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.Data != nil {
		out.Data = append(json.RawMessage(nil), e.Data...)
	}
	if e.Metadata != nil {
		out.Metadata = cloneAnyMap(e.Metadata)
	}
	return out
}

// CloneEvents deep-copies a slice of events.
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}
