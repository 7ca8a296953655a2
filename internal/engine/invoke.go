package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/convo/internal/match"
	"github.com/haasonsaas/convo/pkg/models"
)

// InvokeResult is the full outcome of one tool invocation, including the
// side effects the tool requested.
type InvokeResult struct {
	Result            models.ToolCallResult
	TriggerLLMRequest *bool
	AddEvents         []models.Event
	ExecutionTimeMs   int64
}

// TryInvokeLocalFunctionTool invokes a tool by name against the current
// augmented state and returns the normalized result. Used directly by
// codemode runtimes and host-driven replays.
func (e *Engine) TryInvokeLocalFunctionTool(ctx context.Context, call models.FunctionCall) models.ToolCallResult {
	return e.invokeTool(ctx, call).Result
}

// invokeTool resolves the tool from the current augmented state and runs
// the full invocation.
func (e *Engine) invokeTool(ctx context.Context, call models.FunctionCall) InvokeResult {
	as := e.State()
	tool, ok := as.FindRuntimeTool(call.Name)
	if !ok || !tool.IsLocal() {
		return InvokeResult{Result: models.ToolCallResult{
			Success: false,
			Error:   "Tool not found or not local: " + call.Name,
		}}
	}
	return e.executeResolvedTool(ctx, tool, as.EnabledToolPolicies(), call)
}

// executeResolvedTool runs a resolved tool through its wrapper chain,
// injecting the approval wrapper when a policy demands it. Failures never
// propagate as errors; they normalize into the result.
func (e *Engine) executeResolvedTool(ctx context.Context, tool RuntimeTool, policies []models.ToolPolicy, call models.FunctionCall) InvokeResult {
	start := time.Now()
	finish := func(r InvokeResult) InvokeResult {
		elapsed := time.Since(start)
		r.ExecutionTimeMs = elapsed.Milliseconds()
		if e.metrics != nil {
			outcome := "success"
			if !r.Result.Success {
				outcome = "error"
			}
			e.metrics.ToolInvocations.WithLabelValues(outcome).Inc()
			e.metrics.ToolDuration.Observe(elapsed.Seconds())
		}
		return r
	}

	args, err := parseCallArguments(call.Arguments)
	if err != nil {
		return finish(InvokeResult{Result: models.ToolCallResult{
			Success: false,
			Error:   fmt.Sprintf("Error in tool %s: %v", call.Name, err),
		}})
	}

	if verr := validateToolArgs(tool.Spec, args); verr != nil {
		// Schema validation messages omit the stack.
		return finish(InvokeResult{Result: models.ToolCallResult{
			Success: false,
			Error:   fmt.Sprintf("Error in tool %s: %v", call.Name, verr),
		}})
	}

	chain := tool.Execute
	for i := len(tool.Wrappers) - 1; i >= 0; i-- {
		chain = tool.Wrappers[i](chain)
	}
	if e.callNeedsApproval(policies, call, args) && !strings.HasPrefix(call.CallID, injectedCallPrefix) {
		chain = e.approvalWrapper(chain)
	}

	outcome, err := runToolChain(ctx, chain, call, args)
	if err != nil {
		return finish(InvokeResult{Result: models.ToolCallResult{
			Success: false,
			Error:   normalizeToolError(call.Name, err),
		}})
	}
	if outcome == nil {
		return finish(InvokeResult{Result: models.ToolCallResult{
			Success: false,
			Error:   fmt.Sprintf("Error in tool %s: tool returned no outcome", call.Name),
		}})
	}

	result := outcome.ToolCallResult
	if result.Success {
		result.Output = sanitizeOutput(result.Output)
	}
	return finish(InvokeResult{
		Result:            result,
		TriggerLLMRequest: outcome.TriggerLLMRequest,
		AddEvents:         outcome.AddEvents,
	})
}

// invokeToToolCallEvents performs a full invocation and packages it as the
// events the stream parser (and approval replay) append: the tool-call
// event first, then whatever the tool asked to add. The tool-call event
// triggers a follow-up model request unless the tool said otherwise.
func (e *Engine) invokeToToolCallEvents(ctx context.Context, call models.FunctionCall, associatedReasoningItemID string, llmRequestStartEventIndex *int) []models.Event {
	inv := e.invokeTool(ctx, call)

	ev := models.NewEvent(models.EventLocalFunctionToolCall, models.LocalFunctionToolCallData{
		Call:                      call,
		Result:                    inv.Result,
		ExecutionTimeMs:           inv.ExecutionTimeMs,
		AssociatedReasoningItemID: associatedReasoningItemID,
		LLMRequestStartEventIndex: llmRequestStartEventIndex,
	})
	ev.TriggerLLMRequest = true
	if inv.TriggerLLMRequest != nil {
		ev.TriggerLLMRequest = *inv.TriggerLLMRequest
	}

	return append([]models.Event{ev}, inv.AddEvents...)
}

// callNeedsApproval evaluates approval policies against the call object.
func (e *Engine) callNeedsApproval(policies []models.ToolPolicy, call models.FunctionCall, args map[string]any) bool {
	callObject := map[string]any{
		"name":       call.Name,
		"toolName":   call.Name,
		"toolCallId": call.CallID,
		"args":       args,
	}
	for _, policy := range policies {
		if !policy.ApprovalRequired {
			continue
		}
		matched, err := match.Eval(policy.Match, callObject)
		if err != nil {
			e.log.Warn("approval policy matcher failed, requiring approval",
				"tool", call.Name, "error", err)
			return true
		}
		if matched {
			return true
		}
	}
	return false
}

func parseCallArguments(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// validateToolArgs checks parsed arguments against the tool's parameter
// schema when one is declared.
func validateToolArgs(spec models.ToolSpec, args map[string]any) error {
	if spec.Parameters == nil {
		return nil
	}
	doc, err := json.Marshal(spec.Parameters)
	if err != nil {
		return nil
	}
	schema, err := jsonschema.CompileString(spec.Name+"-args.json", string(doc))
	if err != nil {
		// A broken schema should not make the tool uncallable.
		return nil
	}
	var generic any = map[string]any{}
	if len(args) > 0 {
		raw, _ := json.Marshal(args)
		_ = json.Unmarshal(raw, &generic)
	}
	if verr := schema.Validate(generic); verr != nil {
		return fmt.Errorf("invalid arguments: %v", verr)
	}
	return nil
}

// runToolChain executes the composed chain, converting panics into errors
// that carry the panic stack.
func runToolChain(ctx context.Context, chain ToolExecFunc, call models.FunctionCall, args map[string]any) (outcome *ToolOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return chain(ctx, call, args)
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("%v", p.value) }

// normalizeToolError renders a chain failure. Panics carry the top of
// their stack; plain errors just the message.
func normalizeToolError(toolName string, err error) string {
	msg := fmt.Sprintf("Error in tool %s: %v", toolName, err)
	var pe *panicError
	if asPanic(err, &pe) {
		if top := topStackLines(string(pe.stack), 3); top != "" {
			msg += "\n" + top
		}
	}
	return msg
}

func asPanic(err error, target **panicError) bool {
	pe, ok := err.(*panicError)
	if ok {
		*target = pe
	}
	return ok
}

func topStackLines(stack string, n int) string {
	lines := strings.Split(strings.TrimSpace(stack), "\n")
	// Skip the "goroutine N [running]:" header.
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine") {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// sanitizeOutput strips non-serializable values by round-tripping through
// JSON. Values that cannot be marshalled degrade to their string form.
func sanitizeOutput(output any) any {
	if output == nil {
		return nil
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	var clean any
	if err := json.Unmarshal(raw, &clean); err != nil {
		return string(raw)
	}
	return clean
}
