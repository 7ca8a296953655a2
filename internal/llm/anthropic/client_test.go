package anthropic

import (
	"testing"
)

func TestAdaptInputMergesTurns(t *testing.T) {
	input := []map[string]any{
		{
			"type": "message", "role": "developer",
			"content": []any{map[string]any{"type": "input_text", "text": "Be terse."}},
		},
		{
			"type": "message", "role": "user",
			"content": []any{map[string]any{"type": "input_text", "text": "hi"}},
		},
		{
			"type": "message", "role": "assistant",
			"content": []any{map[string]any{"type": "output_text", "text": "hello"}},
		},
		{
			"type": "function_call", "call_id": "c1", "name": "echo",
			"arguments": `{"text":"x"}`,
		},
		{
			"type": "function_call_output", "call_id": "c1", "output": "x",
		},
		{
			"type": "reasoning", "id": "r1",
		},
	}

	messages, err := adaptInput(input)
	if err != nil {
		t.Fatalf("adaptInput: %v", err)
	}

	// developer+user merge into one user turn; assistant text and the tool
	// use merge into one assistant turn; the tool result is a user turn.
	if len(messages) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(messages))
	}
	if messages[0].Role != "user" {
		t.Fatalf("turn 0 role = %v", messages[0].Role)
	}
	if len(messages[0].Content) != 2 {
		t.Fatalf("consecutive same-role items should merge, got %d blocks", len(messages[0].Content))
	}
	if messages[1].Role != "assistant" {
		t.Fatalf("turn 1 role = %v", messages[1].Role)
	}
	if len(messages[1].Content) != 2 {
		t.Fatalf("assistant text and tool_use should merge, got %d blocks", len(messages[1].Content))
	}
	if messages[2].Role != "user" {
		t.Fatalf("tool results are user turns, got %v", messages[2].Role)
	}
}

func TestAdaptInputEmptyArguments(t *testing.T) {
	messages, err := adaptInput([]map[string]any{
		{"type": "function_call", "call_id": "c1", "name": "ping", "arguments": ""},
	})
	if err != nil {
		t.Fatalf("adaptInput: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(messages))
	}
}

func TestAdaptTools(t *testing.T) {
	tools := adaptTools([]map[string]any{
		{
			"type":        "function",
			"name":        "search",
			"description": "Search things.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"q": map[string]any{"type": "string"},
				},
				"required": []any{"q"},
			},
		},
		{"type": "function"}, // nameless: skipped
	})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	tool := tools[0].OfTool
	if tool == nil || tool.Name != "search" {
		t.Fatalf("tool = %+v", tools[0])
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "q" {
		t.Fatalf("required = %v", tool.InputSchema.Required)
	}
}
