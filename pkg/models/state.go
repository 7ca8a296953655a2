package models

// ModelOpts are the model parameters carried in reduced state and forwarded
// to the provider. ToolChoice is renamed tool_choice on the wire.
type ModelOpts struct {
	Model           string         `json:"model,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxOutputTokens *int           `json:"maxOutputTokens,omitempty"`
	ToolChoice      any            `json:"toolChoice,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Clone deep-copies the options.
func (o ModelOpts) Clone() ModelOpts {
	out := o
	if o.Temperature != nil {
		t := *o.Temperature
		out.Temperature = &t
	}
	if o.MaxOutputTokens != nil {
		m := *o.MaxOutputTokens
		out.MaxOutputTokens = &m
	}
	out.ToolChoice = cloneAny(o.ToolChoice)
	if o.Extra != nil {
		out.Extra = cloneAnyMap(o.Extra)
	}
	return out
}

// Participant is a conversation member.
type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ApprovalStatus is the state of a tool-call approval.
type ApprovalStatus string

const (
	// ApprovalPending means the approval has been requested and not decided.
	ApprovalPending ApprovalStatus = "pending"

	// ApprovalApproved means a host user approved the call.
	ApprovalApproved ApprovalStatus = "approved"

	// ApprovalRejected means a host user rejected the call.
	ApprovalRejected ApprovalStatus = "rejected"
)

// ToolCallApproval tracks one suspended tool call.
type ToolCallApproval struct {
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args,omitempty"`
	ToolCallID string         `json:"toolCallId"`
	Status     ApprovalStatus `json:"status"`
}

// ReducedState is the deterministic fold of the event log through the core
// reducer and the registered slices. Slice partitions live under Slices,
// keyed by slice name.
type ReducedState struct {
	SystemPrompt             string                      `json:"systemPrompt"`
	ModelOpts                ModelOpts                   `json:"modelOpts"`
	Metadata                 map[string]any              `json:"metadata"`
	ContextRules             map[string]ContextRule      `json:"contextRules"`
	InputItems               []InputItem                 `json:"inputItems"`
	LLMRequestStartedAtIndex *int                        `json:"llmRequestStartedAtIndex"`
	TriggerLLMRequest        bool                        `json:"triggerLLMRequest"`
	Paused                   bool                        `json:"paused"`
	Participants             map[string]Participant      `json:"participants"`
	MentionedParticipants    map[string]Participant      `json:"mentionedParticipants"`
	SharedFiles              []FileSharedData            `json:"sharedFiles,omitempty"`
	ToolCallApprovals        map[string]ToolCallApproval `json:"toolCallApprovals"`
	RecordedToolCalls        []RecordedToolCall          `json:"recordedToolCalls,omitempty"`
	Slices                   map[string]any              `json:"slices,omitempty"`
}

// NewReducedState returns the initial state all conversations start from.
func NewReducedState() ReducedState {
	return ReducedState{
		Metadata:              map[string]any{},
		ContextRules:          map[string]ContextRule{},
		Participants:          map[string]Participant{},
		MentionedParticipants: map[string]Participant{},
		ToolCallApprovals:     map[string]ToolCallApproval{},
		Slices:                map[string]any{},
	}
}

// Labels returns metadata.labels as a string slice.
func (s *ReducedState) Labels() []string {
	raw, ok := s.Metadata["labels"].([]any)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			labels = append(labels, str)
		}
	}
	return labels
}

// Clone deep-copies the state. Scalar values are copied; maps and slices
// are cloned recursively. Values of kinds that cannot be copied (functions
// inside slice partitions) are preserved by reference.
func (s ReducedState) Clone() ReducedState {
	out := s
	out.ModelOpts = s.ModelOpts.Clone()
	out.Metadata = cloneAnyMap(s.Metadata)
	if s.ContextRules != nil {
		out.ContextRules = make(map[string]ContextRule, len(s.ContextRules))
		for k, r := range s.ContextRules {
			out.ContextRules[k] = r.Clone()
		}
	}
	if s.InputItems != nil {
		out.InputItems = make([]InputItem, len(s.InputItems))
		for i, it := range s.InputItems {
			out.InputItems[i] = it.Clone()
		}
	}
	if s.LLMRequestStartedAtIndex != nil {
		idx := *s.LLMRequestStartedAtIndex
		out.LLMRequestStartedAtIndex = &idx
	}
	out.Participants = cloneParticipants(s.Participants)
	out.MentionedParticipants = cloneParticipants(s.MentionedParticipants)
	if s.SharedFiles != nil {
		out.SharedFiles = make([]FileSharedData, len(s.SharedFiles))
		for i, f := range s.SharedFiles {
			out.SharedFiles[i] = f
			if f.Metadata != nil {
				out.SharedFiles[i].Metadata = cloneAnyMap(f.Metadata)
			}
		}
	}
	if s.ToolCallApprovals != nil {
		out.ToolCallApprovals = make(map[string]ToolCallApproval, len(s.ToolCallApprovals))
		for k, a := range s.ToolCallApprovals {
			if a.Args != nil {
				a.Args = cloneAnyMap(a.Args)
			}
			out.ToolCallApprovals[k] = a
		}
	}
	if s.RecordedToolCalls != nil {
		out.RecordedToolCalls = make([]RecordedToolCall, len(s.RecordedToolCalls))
		for i, c := range s.RecordedToolCalls {
			out.RecordedToolCalls[i] = RecordedToolCall{
				Tool:   c.Tool,
				Input:  cloneAny(c.Input),
				Output: cloneAny(c.Output),
			}
		}
	}
	if s.Slices != nil {
		out.Slices = make(map[string]any, len(s.Slices))
		for k, v := range s.Slices {
			out.Slices[k] = cloneAny(v)
		}
	}
	return out
}

func cloneParticipants(in map[string]Participant) map[string]Participant {
	if in == nil {
		return nil
	}
	out := make(map[string]Participant, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// cloneAny deep-copies JSON-shaped values (maps, slices, scalars). Other
// kinds, functions included, are returned as-is.
func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAnyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}
