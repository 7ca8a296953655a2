package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/convo/pkg/models"
)

func TestAugmentEnablesMatchingRules(t *testing.T) {
	resolved := 0
	eng, _ := newTestEngine(t, func(h *Hooks) {
		h.ToolSpecsToImplementations = func(specs []models.ToolSpec) []RuntimeTool {
			resolved++
			tools := make([]RuntimeTool, 0, len(specs))
			for _, spec := range specs {
				tools = append(tools, RuntimeTool{Spec: spec, Execute: echoExec})
			}
			return tools
		}
	})
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{
				{Key: "always", Prompt: "base prompt", Tools: []models.ToolSpec{{Name: "echo"}}},
				{Key: "pro-only", Match: `metadata.tier = "pro"`, Prompt: "pro prompt"},
			},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	if len(st.EnabledContextRules) != 1 || st.EnabledContextRules[0].Key != "always" {
		t.Fatalf("expected only the unconditional rule, got %+v", st.EnabledContextRules)
	}
	if st.EphemeralPromptFragments["always"] != "base prompt" {
		t.Fatal("enabled rule prompts become fragments")
	}
	if _, ok := st.EphemeralPromptFragments["pro-only"]; ok {
		t.Fatal("disabled rules contribute nothing")
	}
	if len(st.GroupedRuntimeTools[ContextRuleGroup]) != 1 {
		t.Fatal("rule tools group under context-rule")
	}
	if _, ok := st.FindRuntimeTool("echo"); !ok {
		t.Fatal("grouped tools flatten into runtime tools")
	}

	// Matching metadata enables the second rule.
	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventSetMetadata, models.SetMetadataData{
			Metadata: map[string]any{"tier": "pro"},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}
	st = eng.State()
	if len(st.EnabledContextRules) != 2 {
		t.Fatalf("expected both rules enabled, got %d", len(st.EnabledContextRules))
	}
	if st.EphemeralPromptFragments["pro-only"] != "pro prompt" {
		t.Fatal("newly matching rule contributes its prompt")
	}
}

func TestAugmentUsesHostMatchData(t *testing.T) {
	eng, _ := newTestEngine(t, func(h *Hooks) {
		h.GetRuleMatchData = func(state *models.ReducedState) any {
			return map[string]any{"channel": "email"}
		}
	})
	initEmpty(t, eng)

	if _, err := eng.AddEvents(context.Background(), []models.Event{
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{
				{Key: "email", Match: `channel = "email"`, Prompt: "email etiquette"},
				{Key: "slack", Match: `channel = "slack"`, Prompt: "slack etiquette"},
			},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	if len(st.EnabledContextRules) != 1 || st.EnabledContextRules[0].Key != "email" {
		t.Fatalf("host match data should drive rule matching, got %+v", st.EnabledContextRules)
	}
}

func TestAugmentCollectsMCPServers(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)

	if _, err := eng.AddEvents(context.Background(), []models.Event{
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{{
				Key:        "mcp",
				MCPServers: []models.MCPServer{{Name: "files", URL: "https://mcp.example/files"}},
			}},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	st := eng.State()
	if len(st.MCPServers) != 1 || st.MCPServers[0].Name != "files" {
		t.Fatalf("expected MCP server collected, got %+v", st.MCPServers)
	}
}

func TestInstructionsRenderTaggedFragments(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)
	ctx := context.Background()

	if _, err := eng.AddEvents(ctx, []models.Event{
		models.NewEvent(models.EventSetSystemPrompt, models.SetSystemPromptData{Prompt: "You are helpful."}),
		models.NewEvent(models.EventAddContextRules, models.AddContextRulesData{
			Rules: []models.ContextRule{
				{Key: "b-rule", Prompt: "second"},
				{Key: "a-rule", Prompt: "first"},
			},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	params := buildResponseParams(eng.State())
	if !strings.HasPrefix(params.Instructions, "You are helpful.") {
		t.Fatalf("instructions should start with the system prompt: %q", params.Instructions)
	}
	aPos := strings.Index(params.Instructions, "<a-rule>\nfirst\n</a-rule>")
	bPos := strings.Index(params.Instructions, "<b-rule>\nsecond\n</b-rule>")
	if aPos < 0 || bPos < 0 {
		t.Fatalf("fragments should render as tagged blocks: %q", params.Instructions)
	}
	if aPos > bPos {
		t.Fatal("fragments should render in stable key order")
	}
	if !params.ParallelToolCalls {
		t.Fatal("parallel_tool_calls is always true")
	}
}

func TestModelOptsFlowIntoParams(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	initEmpty(t, eng)

	temp := 0.2
	maxTokens := 512
	if _, err := eng.AddEvents(context.Background(), []models.Event{
		models.NewEvent(models.EventSetModelOpts, models.SetModelOptsData{
			ModelOpts: models.ModelOpts{
				Model:           "gpt-4o",
				Temperature:     &temp,
				MaxOutputTokens: &maxTokens,
				ToolChoice:      "auto",
			},
		}),
	}); err != nil {
		t.Fatalf("AddEvents: %v", err)
	}

	params := buildResponseParams(eng.State())
	if params.Model != "gpt-4o" {
		t.Fatalf("model = %q", params.Model)
	}
	if params.ToolChoice != "auto" {
		t.Fatalf("toolChoice should rename to tool_choice, got %v", params.ToolChoice)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Fatalf("temperature = %v", params.Temperature)
	}
	if params.MaxOutputTokens == nil || *params.MaxOutputTokens != 512 {
		t.Fatalf("maxOutputTokens = %v", params.MaxOutputTokens)
	}
}
