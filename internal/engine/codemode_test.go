package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/convo/internal/codemode"
	"github.com/haasonsaas/convo/pkg/models"
)

func codemodeRule(policies ...models.ToolPolicy) models.ContextRule {
	return models.ContextRule{
		Key: "tools",
		Tools: []models.ToolSpec{
			echoSpec(),
			{Name: "add", Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []any{"a", "b"},
			}},
			{Name: "sendSlackMessage"},
		},
		ToolPolicies: policies,
	}
}

func codemodeImpls() map[string]ToolExecFunc {
	return map[string]ToolExecFunc{
		"echo": echoExec,
		"add": func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return &ToolOutcome{ToolCallResult: models.ToolCallResult{Success: true, Output: a + b}}, nil
		},
		"sendSlackMessage": func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error) {
			return &ToolOutcome{ToolCallResult: models.ToolCallResult{Success: true}}, nil
		},
	}
}

func TestCodemodeSubstitutionPartitionsTools(t *testing.T) {
	yes := true
	rule := codemodeRule(models.ToolPolicy{Match: `name != "sendSlackMessage"`, Codemode: &yes})
	eng, _ := installTools(t, nil, rule, codemodeImpls(), nil)

	st := eng.State()
	if len(st.RuntimeTools) != 2 {
		t.Fatalf("expected normal tool plus codemode, got %d tools", len(st.RuntimeTools))
	}
	if _, ok := st.FindRuntimeTool("sendSlackMessage"); !ok {
		t.Fatal("unmatched tools stay in the surface")
	}
	if _, ok := st.FindRuntimeTool(CodemodeToolName); !ok {
		t.Fatal("the codemode meta-tool replaces matched tools")
	}
	if _, ok := st.FindRuntimeTool("echo"); ok {
		t.Fatal("matched tools leave the surface")
	}
	if len(st.CodemodeEnabledTools) != 2 {
		t.Fatalf("codemodeEnabledTools = %v", st.CodemodeEnabledTools)
	}

	fragment := st.EphemeralPromptFragments[CodemodeFragmentKey]
	if fragment == "" {
		t.Fatal("substitution installs the codemode prompt fragment")
	}
	if !strings.Contains(fragment, "declare function echo") || !strings.Contains(fragment, "declare function add") {
		t.Fatal("fragment should embed the type surface for matched tools")
	}
	if strings.Contains(fragment, "declare function sendSlackMessage") {
		t.Fatal("normal tools are excluded from the surface")
	}
}

func TestCodemodeExplicitFalseWins(t *testing.T) {
	yes, no := true, false
	rule := codemodeRule(
		models.ToolPolicy{Codemode: &yes},
		models.ToolPolicy{Match: `name = "echo"`, Codemode: &no},
	)
	eng, _ := installTools(t, nil, rule, codemodeImpls(), nil)

	st := eng.State()
	if _, ok := st.FindRuntimeTool("echo"); !ok {
		t.Fatal("codemode=false should keep the tool in the normal bucket")
	}
	if _, ok := st.FindRuntimeTool(CodemodeToolName); !ok {
		t.Fatal("other tools still substitute")
	}
}

func TestCodemodeExecutorRunsProgram(t *testing.T) {
	yes := true
	rule := codemodeRule(models.ToolPolicy{Match: `name != "sendSlackMessage"`, Codemode: &yes})
	eng, _ := installTools(t, func(h *Hooks) {
		h.SetupCodemode = codemode.Setup
	}, rule, codemodeImpls(), nil)

	program := `async function codemode() {
  const [sum, echoed] = await Promise.all([
    add({a: 2, b: 3}),
    echo({text: "hi"}),
  ]);
  return {sum: sum, echoed: echoed.echo};
}`

	inv := eng.invokeTool(context.Background(), models.FunctionCall{
		CallID:    "outer-1",
		Name:      CodemodeToolName,
		Arguments: mustJSON(map[string]any{"functionCode": program, "statusIndicatorText": "crunching"}),
	})
	if !inv.Result.Success {
		t.Fatalf("codemode program failed: %+v", inv.Result)
	}
	out := inv.Result.Output.(map[string]any)
	if out["sum"] != 5.0 || out["echoed"] != "hi" {
		t.Fatalf("unexpected program result %v", out)
	}

	if len(inv.AddEvents) == 0 || inv.AddEvents[0].Type != models.EventCodemodeToolCalls {
		t.Fatalf("expected CODEMODE_TOOL_CALLS event first, got %v", inv.AddEvents)
	}
	var calls models.CodemodeToolCallsData
	if err := inv.AddEvents[0].DecodeData(&calls); err != nil {
		t.Fatalf("decode codemode calls: %v", err)
	}
	if len(calls.ToolCalls) != 2 {
		t.Fatalf("expected 2 recorded inner calls, got %d", len(calls.ToolCalls))
	}
}

func TestCodemodeCombinedTrigger(t *testing.T) {
	yes := true
	noTrigger := false
	impls := codemodeImpls()
	impls["quietTool"] = func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error) {
		return &ToolOutcome{
			ToolCallResult:    models.ToolCallResult{Success: true},
			TriggerLLMRequest: &noTrigger,
		}, nil
	}
	rule := codemodeRule(models.ToolPolicy{Match: `name != "sendSlackMessage"`, Codemode: &yes})
	rule.Tools = append(rule.Tools, models.ToolSpec{Name: "quietTool"})

	eng, _ := installTools(t, func(h *Hooks) {
		h.SetupCodemode = codemode.Setup
	}, rule, impls, nil)

	inv := eng.invokeTool(context.Background(), models.FunctionCall{
		CallID: "outer-1",
		Name:   CodemodeToolName,
		Arguments: mustJSON(map[string]any{
			"functionCode":        `async function codemode() { return await quietTool({}); }`,
			"statusIndicatorText": "x",
		}),
	})
	if !inv.Result.Success {
		t.Fatalf("program failed: %+v", inv.Result)
	}
	if inv.TriggerLLMRequest == nil || *inv.TriggerLLMRequest {
		t.Fatal("an explicit inner false should defeat the default trigger")
	}
}

func TestCodemodeWithoutEvaluatorFails(t *testing.T) {
	yes := true
	rule := codemodeRule(models.ToolPolicy{Codemode: &yes})
	eng, _ := installTools(t, nil, rule, codemodeImpls(), nil)

	result := eng.TryInvokeLocalFunctionTool(context.Background(), models.FunctionCall{
		CallID: "outer-1",
		Name:   CodemodeToolName,
		Arguments: mustJSON(map[string]any{
			"functionCode":        `async function codemode() { return 1; }`,
			"statusIndicatorText": "x",
		}),
	})
	if result.Success || !strings.Contains(result.Error, "no codemode evaluator") {
		t.Fatalf("expected evaluator error, got %+v", result)
	}
}
