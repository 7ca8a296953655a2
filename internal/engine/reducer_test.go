package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/convo/pkg/models"
)

func reasoningItemEvent(id string) models.Event {
	return models.NewEvent(models.EventLLMOutputItem, map[string]any{
		"type":    "reasoning",
		"id":      id,
		"summary": []any{},
	})
}

func TestReasoningCoupledSortScores(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{reasoningItemEvent("r1")}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventLocalFunctionToolCall, models.LocalFunctionToolCallData{
			Call:                      models.FunctionCall{CallID: "c1", Name: "lookup", Arguments: `{"q":"x"}`},
			Result:                    models.ToolCallResult{Success: true, Output: "ok"},
			AssociatedReasoningItemID: "r1",
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	items := eng.State().InputItems
	if len(items) != 3 {
		t.Fatalf("expected 3 input items, got %d", len(items))
	}
	if items[1].SortScore == nil || *items[1].SortScore != 1.1 {
		t.Fatalf("call item sort score = %v, want 1.1", items[1].SortScore)
	}
	if items[2].SortScore == nil || *items[2].SortScore != 1.2 {
		t.Fatalf("output item sort score = %v, want 1.2", items[2].SortScore)
	}

	params := buildResponseParams(eng.State())
	if len(params.Input) != 3 {
		t.Fatalf("expected 3 input entries, got %d", len(params.Input))
	}
	order := []string{"reasoning", "function_call", "function_call_output"}
	for i, want := range order {
		if got := params.Input[i]["type"]; got != want {
			t.Fatalf("input[%d].type = %v, want %s", i, got, want)
		}
	}
	if got := params.Input[2]["output"]; got != "ok" {
		t.Fatalf("function call output = %v, want ok", got)
	}
}

func TestMissingReasoningItemIsFatal(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)

	_, err := eng.AddEvents(context.Background(), []models.Event{
		models.NewEvent(models.EventLocalFunctionToolCall, models.LocalFunctionToolCallData{
			Call:                      models.FunctionCall{CallID: "c1", Name: "lookup", Arguments: "{}"},
			Result:                    models.ToolCallResult{Success: true, Output: "ok"},
			AssociatedReasoningItemID: "ghost",
		}),
	})
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected fatal missing-reasoning error, got %v", err)
	}

	events := eng.Events()
	if len(events) != 1 || events[0].Type != models.EventInternalError {
		t.Fatalf("expected rollback plus INTERNAL_ERROR, got %v", events)
	}
}

func TestToolOutputStringification(t *testing.T) {
	tests := []struct {
		name   string
		result models.ToolCallResult
		want   string
	}{
		{"string passes through", models.ToolCallResult{Success: true, Output: "plain"}, "plain"},
		{"object stringifies", models.ToolCallResult{Success: true, Output: map[string]any{"a": 1}}, `{"a":1}`},
		{"error uses message", models.ToolCallResult{Success: false, Error: "it broke"}, "it broke"},
		{"nil is empty", models.ToolCallResult{Success: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stringifyToolOutput(tt.result); got != tt.want {
				t.Errorf("stringifyToolOutput = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetadataDeepMergeAndLabels(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventSetMetadata, models.SetMetadataData{
			Metadata: map[string]any{
				"team": map[string]any{"name": "infra", "size": 3.0},
				"tags": []any{"a"},
			},
		}),
		models.NewEvent(models.EventSetMetadata, models.SetMetadataData{
			Metadata: map[string]any{
				"team": map[string]any{"size": 4.0},
				"tags": []any{"b"},
			},
		}),
		models.NewEvent(models.EventAddLabel, models.AddLabelData{Label: "vip"}),
		models.NewEvent(models.EventAddLabel, models.AddLabelData{Label: "beta"}),
		models.NewEvent(models.EventAddLabel, models.AddLabelData{Label: "vip"}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	team := st.Metadata["team"].(map[string]any)
	if team["name"] != "infra" || team["size"] != 4.0 {
		t.Fatalf("objects should merge key-wise, got %v", team)
	}
	tags := st.Metadata["tags"].([]any)
	if len(tags) != 1 || tags[0] != "b" {
		t.Fatalf("arrays should replace, got %v", tags)
	}
	labels := st.Labels()
	if len(labels) != 2 || labels[0] != "vip" || labels[1] != "beta" {
		t.Fatalf("labels should dedupe preserving order, got %v", labels)
	}
}

func TestContextRuleUpsert(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{{Key: "base", Prompt: "v1"}},
		}),
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{{Key: "base", Prompt: "v2"}, {Key: "extra", Prompt: "x"}},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	if len(st.ContextRules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(st.ContextRules))
	}
	if st.ContextRules["base"].Prompt != "v2" {
		t.Fatal("rules should upsert by key")
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventPauseLLMRequests, models.PauseLLMRequestsData{Reason: "manual"}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	if !eng.State().Paused {
		t.Fatal("should be paused")
	}

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventResumeLLMRequests, nil),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	if eng.State().Paused {
		t.Fatal("resume should clear the pause")
	}
}

func TestParticipantLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	alice := models.Participant{UserID: "u1", DisplayName: "Alice"}
	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventParticipantJoined, models.ParticipantEventData{Participant: alice}),
		models.NewEvent(models.EventParticipantMentioned, models.ParticipantEventData{Participant: alice, Message: "hey bot"}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	if _, ok := st.Participants["u1"]; !ok {
		t.Fatal("participant should be tracked")
	}
	if _, ok := st.MentionedParticipants["u1"]; !ok {
		t.Fatal("mention should be tracked")
	}
	last := st.InputItems[len(st.InputItems)-1]
	if !strings.HasPrefix(last.FirstInputText(), "User mentioned") {
		t.Fatalf("mention should leave a developer note, got %q", last.FirstInputText())
	}

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventParticipantLeft, models.ParticipantEventData{Participant: alice}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	st = eng.State()
	if len(st.Participants) != 0 || len(st.MentionedParticipants) != 0 {
		t.Fatal("leave should clear both participant maps")
	}
}

func TestApprovalReducerLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventToolCallApprovalRequested, models.ToolCallApprovalRequestedData{
			ApprovalKey: "ap-1",
			ToolName:    "deleteRepo",
			Args:        map[string]any{"repo": "prod"},
			ToolCallID:  "c1",
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	st := eng.State()
	if st.ToolCallApprovals["ap-1"].Status != models.ApprovalPending {
		t.Fatal("approval should be pending")
	}
	if st.TriggerLLMRequest {
		t.Fatal("requesting approval should not trigger")
	}

	// Unknown key: diagnostic only.
	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventToolCallApproved, models.ToolCallApprovedData{ApprovalKey: "nope", Approved: true}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	st = eng.State()
	last := st.InputItems[len(st.InputItems)-1]
	if !strings.Contains(last.FirstInputText(), "ap-1") {
		t.Fatalf("diagnostic should list known keys, got %q", last.FirstInputText())
	}
	if st.ToolCallApprovals["ap-1"].Status != models.ApprovalPending {
		t.Fatal("unknown key must not change existing approvals")
	}

	// Approve: status flips, trigger set.
	eng2, tasks := newTestEngine(t, nil)
	initEmpty(t, eng2)
	if _, err := eng2.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventToolCallApprovalRequested, models.ToolCallApprovalRequestedData{
			ApprovalKey: "ap-2", ToolName: "t", ToolCallID: "c2",
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	if _, err := eng2.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventToolCallApproved, models.ToolCallApprovedData{ApprovalKey: "ap-2", Approved: true}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	if eng2.State().ToolCallApprovals["ap-2"].Status != models.ApprovalApproved {
		t.Fatal("approval should be approved")
	}
	// The approval trigger launches a model run.
	if len(tasks.launched()) != 1 {
		t.Fatalf("approval should trigger a model run, got %v", tasks.launched())
	}

	// Re-deciding a settled approval is ignored.
	if _, err := eng2.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventToolCallApproved, models.ToolCallApprovedData{ApprovalKey: "ap-2", Approved: false}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	if eng2.State().ToolCallApprovals["ap-2"].Status != models.ApprovalApproved {
		t.Fatal("settled approvals must not flip")
	}
}

func TestSliceDependencyValidation(t *testing.T) {
	mk := func(name string, deps ...string) Slice {
		return Slice{Name: name, DependsOn: deps, Reduce: func(SliceView, models.Event) (any, error) { return nil, nil }}
	}

	if _, err := New(Hooks{}, WithSlices(mk("a"), mk("a"))); !errors.Is(err, ErrDuplicateSlice) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := New(Hooks{}, WithSlices(mk("a", "missing"))); !errors.Is(err, ErrUnknownSliceDep) {
		t.Fatalf("expected unknown dep error, got %v", err)
	}
	if _, err := New(Hooks{}, WithSlices(mk("a", "b"), mk("b", "a"))); !errors.Is(err, ErrCircularSliceDep) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, err := New(Hooks{}, WithSlices(mk("a"), mk("b", "a"))); err != nil {
		t.Fatalf("valid dependency chain rejected: %v", err)
	}
}

func TestSlicePatchMerging(t *testing.T) {
	counter := Slice{
		Name:         "counter",
		InitialState: func() any { return map[string]any{"count": 0.0, "kept": "yes"} },
		Reduce: func(view SliceView, ev models.Event) (any, error) {
			if ev.Type != models.EventLog {
				return nil, nil
			}
			current, _ := view.Own.(map[string]any)
			count, _ := current["count"].(float64)
			return map[string]any{"count": count + 1}, nil
		},
	}

	eng, _ := newTestEngine(t, nil, WithSlices(counter))
	initEmpty(t, eng)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.AddEvents(ctx, []models.Event{
			models.NewEvent(models.EventLog, models.LogData{Msg: "tick"}),
		}); err != nil {
			t.Fatalf("AddEvents: %v", err)
		}
	}

	part := eng.State().Slices["counter"].(map[string]any)
	if part["count"] != 3.0 {
		t.Fatalf("count = %v, want 3", part["count"])
	}
	if part["kept"] != "yes" {
		t.Fatal("patches should shallow-merge, keeping untouched keys")
	}
}
