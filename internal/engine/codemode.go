package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/convo/internal/codemode"
	"github.com/haasonsaas/convo/internal/match"
	"github.com/haasonsaas/convo/pkg/models"
)

// CodemodeToolName is the name of the substituted meta-tool.
const CodemodeToolName = "codemode"

// CodemodeFragmentKey is the ephemeral prompt fragment key the
// substitution installs.
const CodemodeFragmentKey = "codemode"

var codemodeToolParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"functionCode": map[string]any{
			"type":        "string",
			"description": "An async function named codemode that returns a value.",
		},
		"statusIndicatorText": map[string]any{
			"type":        "string",
			"description": "Short progress text shown to the user while the program runs.",
		},
	},
	"required": []any{"functionCode", "statusIndicatorText"},
}

// applyCodemodeSubstitution partitions the runtime tools by the enabled
// codemode policies and, when any tool matches, replaces the tool surface
// with the normal bucket plus a single code-generating tool. Returns
// whether a substitution happened.
func (e *Engine) applyCodemodeSubstitution(as *AugmentedState) bool {
	policies := as.EnabledToolPolicies()

	var normal, matched []RuntimeTool
	for _, tool := range as.RuntimeTools {
		if e.toolIsCodemode(policies, tool) {
			matched = append(matched, tool)
		} else {
			normal = append(normal, tool)
		}
	}
	if len(matched) == 0 {
		return false
	}

	normalNames := make([]string, 0, len(normal))
	for _, t := range normal {
		normalNames = append(normalNames, t.Spec.Name)
	}
	matchedSpecs := make([]models.ToolSpec, 0, len(matched))
	matchedNames := make([]string, 0, len(matched))
	for _, t := range matched {
		matchedSpecs = append(matchedSpecs, t.Spec)
		matchedNames = append(matchedNames, t.Spec.Name)
	}

	metaTool := e.buildCodemodeTool(append(append([]RuntimeTool(nil), normal...), matched...), policies)

	as.RuntimeTools = append(append([]RuntimeTool(nil), normal...), metaTool)
	if _, ok := as.GroupedRuntimeTools[ContextRuleGroup]; ok {
		as.GroupedRuntimeTools[ContextRuleGroup] = normal
	}
	as.GroupedRuntimeTools[CodemodeToolName] = []RuntimeTool{metaTool}
	as.CodemodeEnabledTools = matchedNames
	as.EphemeralPromptFragments[CodemodeFragmentKey] =
		codemode.RenderPromptFragment(matchedSpecs, as.RecordedToolCalls, normalNames)
	return true
}

// toolIsCodemode evaluates the codemode policies against the tool
// descriptor. An explicit codemode=false wins over any true match.
func (e *Engine) toolIsCodemode(policies []models.ToolPolicy, tool RuntimeTool) bool {
	descriptor := map[string]any{
		"name":        tool.Spec.Name,
		"description": tool.Spec.Description,
		"parameters":  tool.Spec.Parameters,
	}
	isCodemode := false
	for _, policy := range policies {
		if policy.Codemode == nil {
			continue
		}
		matched, err := match.Eval(policy.Match, descriptor)
		if err != nil {
			e.log.Warn("codemode policy matcher failed, policy skipped",
				"tool", tool.Spec.Name, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if !*policy.Codemode {
			return false
		}
		isCodemode = true
	}
	return isCodemode
}

// buildCodemodeTool builds the meta-tool whose executor evaluates a
// generated program against the original tool surface through the host's
// scoped codemode evaluator.
func (e *Engine) buildCodemodeTool(originalTools []RuntimeTool, policies []models.ToolPolicy) RuntimeTool {
	toolsByName := make(map[string]RuntimeTool, len(originalTools))
	for _, t := range originalTools {
		toolsByName[t.Spec.Name] = t
	}

	return RuntimeTool{
		Spec: models.ToolSpec{
			Name: CodemodeToolName,
			Description: "Run a batch of tool calls as a single generated program. " +
				"Write an async function named codemode that calls the available functions and returns a value.",
			Parameters: codemodeToolParameters,
		},
		Execute: func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error) {
			if e.hooks.SetupCodemode == nil {
				return nil, fmt.Errorf("codemode is enabled but no codemode evaluator is configured")
			}

			functionCode, _ := args["functionCode"].(string)
			statusText, _ := args["statusIndicatorText"].(string)
			if functionCode == "" {
				return nil, fmt.Errorf("functionCode is required")
			}

			var (
				sideMu      sync.Mutex
				addEvents   []models.Event
				anyTrigger  bool
				anyNoTrig   bool
				callCounter atomic.Int64
			)

			fns := make(map[string]models.CodemodeFunc, len(toolsByName))
			for name, tool := range toolsByName {
				name, tool := name, tool
				fns[name] = func(ctx context.Context, input map[string]any) (any, error) {
					arguments := "{}"
					if input != nil {
						raw, err := json.Marshal(input)
						if err != nil {
							return nil, fmt.Errorf("marshal input for %s: %w", name, err)
						}
						arguments = string(raw)
					}
					innerCall := models.FunctionCall{
						CallID:    fmt.Sprintf("%s-%s-%d", call.CallID, name, callCounter.Add(1)),
						Name:      name,
						Arguments: arguments,
					}
					inv := e.executeResolvedTool(ctx, tool, policies, innerCall)

					sideMu.Lock()
					addEvents = append(addEvents, inv.AddEvents...)
					if inv.TriggerLLMRequest != nil {
						if *inv.TriggerLLMRequest {
							anyTrigger = true
						} else {
							anyNoTrig = true
						}
					}
					sideMu.Unlock()

					if !inv.Result.Success {
						return nil, fmt.Errorf("%s", inv.Result.Error)
					}
					return inv.Result.Output, nil
				}
			}

			session, err := e.hooks.SetupCodemode(ctx, fns)
			if err != nil {
				return nil, fmt.Errorf("setup codemode evaluator: %w", err)
			}
			defer func() {
				if cerr := session.Close(); cerr != nil {
					e.log.Warn("codemode session close failed", "error", cerr)
				}
			}()

			evalResult, err := session.Eval(ctx, functionCode, statusText)
			if err != nil {
				return nil, err
			}

			outcome := &ToolOutcome{
				ToolCallResult: models.ToolCallResult{Success: true, Output: evalResult.Result},
			}
			outcome.AddEvents = append(outcome.AddEvents,
				models.NewEvent(models.EventCodemodeToolCalls, models.CodemodeToolCallsData{
					ToolCalls: evalResult.ToolCalls,
				}))

			sideMu.Lock()
			outcome.AddEvents = append(outcome.AddEvents, addEvents...)
			switch {
			case anyTrigger:
				t := true
				outcome.TriggerLLMRequest = &t
			case anyNoTrig:
				f := false
				outcome.TriggerLLMRequest = &f
			}
			sideMu.Unlock()

			return outcome, nil
		},
	}
}
