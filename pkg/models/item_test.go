package models

import "testing"

func TestInputItemAccessors(t *testing.T) {
	item := NewInputItem(map[string]any{
		"type": "message",
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": "hello"},
		},
	})
	if item.Type() != "message" || item.Role() != "user" {
		t.Fatalf("accessors: type=%q role=%q", item.Type(), item.Role())
	}
	if item.FirstInputText() != "hello" {
		t.Fatalf("FirstInputText = %q", item.FirstInputText())
	}

	call := NewInputItem(map[string]any{
		"type":    "function_call",
		"call_id": "c1",
		"name":    "echo",
	})
	if call.Name() != "echo" || call.CallID() != "c1" {
		t.Fatalf("call accessors: name=%q call_id=%q", call.Name(), call.CallID())
	}
	if call.FirstInputText() != "" {
		t.Fatal("non-message items have no input text")
	}
}

func TestInputItemSortKey(t *testing.T) {
	plain := NewInputItem(map[string]any{"type": "message"})
	if plain.SortKey(4) != 4 {
		t.Fatalf("SortKey falls back to the index, got %v", plain.SortKey(4))
	}
	scored := plain.WithSortScore(1.1)
	if scored.SortKey(4) != 1.1 {
		t.Fatalf("explicit score wins, got %v", scored.SortKey(4))
	}
	if plain.SortScore != nil {
		t.Fatal("WithSortScore must not mutate the receiver")
	}
}

func TestInputItemCloneIsolation(t *testing.T) {
	item := NewInputItem(map[string]any{
		"content": []any{map[string]any{"type": "input_text", "text": "a"}},
	}).WithSortScore(2)

	clone := item.Clone()
	clone.Data["content"].([]any)[0].(map[string]any)["text"] = "mutated"
	*clone.SortScore = 9

	if item.Data["content"].([]any)[0].(map[string]any)["text"] != "a" {
		t.Fatal("clone should not share nested content")
	}
	if *item.SortScore != 2 {
		t.Fatal("clone should not share the score pointer")
	}
}

func TestDeveloperMessageItem(t *testing.T) {
	item := DeveloperMessageItem("User message: hi")
	if item.Role() != "developer" {
		t.Fatalf("role = %q", item.Role())
	}
	if item.FirstInputText() != "User message: hi" {
		t.Fatalf("text = %q", item.FirstInputText())
	}
}
