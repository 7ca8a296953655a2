package models

// InputItem is one entry of the model input transcript. The payload follows
// the provider's open item format (messages, function calls, reasoning,
// ...), so it is kept as a generic map. A sort score, when present,
// overrides the item's natural position at request-build time.
type InputItem struct {
	Data      map[string]any `json:"data"`
	SortScore *float64       `json:"sortScore,omitempty"`
}

// NewInputItem wraps an item payload without a sort score.
func NewInputItem(data map[string]any) InputItem {
	return InputItem{Data: data}
}

// WithSortScore returns a copy of the item with the given sort score.
func (it InputItem) WithSortScore(score float64) InputItem {
	it.SortScore = &score
	return it
}

// SortKey returns the key used when ordering transcript items: the explicit
// sort score if present, otherwise the item's original index.
func (it InputItem) SortKey(index int) float64 {
	if it.SortScore != nil {
		return *it.SortScore
	}
	return float64(index)
}

// Type returns the item's "type" field ("message", "function_call", ...).
func (it InputItem) Type() string {
	return stringField(it.Data, "type")
}

// Role returns the item's "role" field for message items.
func (it InputItem) Role() string {
	return stringField(it.Data, "role")
}

// ID returns the item's "id" field.
func (it InputItem) ID() string {
	return stringField(it.Data, "id")
}

// Name returns the item's "name" field for function-call items.
func (it InputItem) Name() string {
	return stringField(it.Data, "name")
}

// CallID returns the item's "call_id" field for function-call items.
func (it InputItem) CallID() string {
	return stringField(it.Data, "call_id")
}

// FirstInputText returns the text of the first input_text content entry of
// a message item, or "" when the item has none.
func (it InputItem) FirstInputText() string {
	content, ok := it.Data["content"].([]any)
	if !ok || len(content) == 0 {
		return ""
	}
	entry, ok := content[0].(map[string]any)
	if !ok {
		return ""
	}
	if stringField(entry, "type") != "input_text" {
		return ""
	}
	return stringField(entry, "text")
}

// Clone deep-copies the item.
func (it InputItem) Clone() InputItem {
	out := InputItem{Data: cloneAnyMap(it.Data)}
	if it.SortScore != nil {
		score := *it.SortScore
		out.SortScore = &score
	}
	return out
}

// DeveloperMessageItem builds a developer message item with a single
// input_text content entry. Used for engine-generated transcript notes
// (approval prompts, shared files, mentions).
func DeveloperMessageItem(text string) InputItem {
	return NewInputItem(map[string]any{
		"type": "message",
		"role": "developer",
		"content": []any{
			map[string]any{"type": "input_text", "text": text},
		},
	})
}

// AssistantMessageItem builds an assistant message item with a single
// output_text content entry.
func AssistantMessageItem(text string) InputItem {
	return NewInputItem(map[string]any{
		"type": "message",
		"role": "assistant",
		"content": []any{
			map[string]any{"type": "output_text", "text": text},
		},
	})
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
