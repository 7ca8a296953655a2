package models

// ResponseParams is the parameter set passed to the provider stream. The
// field names follow the responses-API wire format.
type ResponseParams struct {
	Model             string           `json:"model,omitempty"`
	Instructions      string           `json:"instructions,omitempty"`
	Input             []map[string]any `json:"input"`
	Tools             []map[string]any `json:"tools,omitempty"`
	ToolChoice        any              `json:"tool_choice,omitempty"`
	ParallelToolCalls bool             `json:"parallel_tool_calls"`
	Temperature       *float64         `json:"temperature,omitempty"`
	MaxOutputTokens   *int             `json:"max_output_tokens,omitempty"`
}

// Stream chunk types the engine acts on. Every other chunk type is
// forwarded verbatim to the host streaming observer.
const (
	ChunkOutputItemDone    = "response.output_item.done"
	ChunkResponseCompleted = "response.completed"
)

// StreamChunk is one provider stream element in a provider-neutral shape.
type StreamChunk struct {
	Type     string         `json:"type"`
	Item     map[string]any `json:"item,omitempty"`
	Response map[string]any `json:"response,omitempty"`

	// Raw is the full chunk as received from the provider.
	Raw map[string]any `json:"-"`
}

// Item type discriminants the stream parser distinguishes.
const (
	ItemTypeMessage             = "message"
	ItemTypeReasoning           = "reasoning"
	ItemTypeFunctionCall        = "function_call"
	ItemTypeFunctionCallOutput  = "function_call_output"
	ItemTypeImageGenerationCall = "image_generation_call"
)
