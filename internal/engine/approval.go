package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/convo/pkg/models"
)

// injectedCallPrefix marks system-driven replays of approved tool calls;
// the approval wrapper is skipped for them.
const injectedCallPrefix = "injected-"

// reduceApprovalRequested registers a pending approval and leaves a
// developer note in the transcript describing the suspended call.
func reduceApprovalRequested(st *models.ReducedState, data models.ToolCallApprovalRequestedData) {
	st.ToolCallApprovals[data.ApprovalKey] = models.ToolCallApproval{
		ToolName:   data.ToolName,
		Args:       data.Args,
		ToolCallID: data.ToolCallID,
		Status:     models.ApprovalPending,
	}

	args := "{}"
	if data.Args != nil {
		if raw, err := json.Marshal(data.Args); err == nil {
			args = string(raw)
		}
	}
	st.InputItems = append(st.InputItems, models.DeveloperMessageItem(fmt.Sprintf(
		"Tool call %s to %s with args %s is waiting for approval (key %s).",
		data.ToolCallID, data.ToolName, args, data.ApprovalKey)))
}

// reduceApprovalDecision resolves a pending approval. A missing key only
// produces a diagnostic message; a non-pending key is ignored.
func reduceApprovalDecision(st *models.ReducedState, data models.ToolCallApprovedData) {
	approval, ok := st.ToolCallApprovals[data.ApprovalKey]
	if !ok {
		keys := make([]string, 0, len(st.ToolCallApprovals))
		for k := range st.ToolCallApprovals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		st.InputItems = append(st.InputItems, models.DeveloperMessageItem(fmt.Sprintf(
			"Approval decision for unknown key %s ignored. Known approval keys: [%s]",
			data.ApprovalKey, strings.Join(keys, ", "))))
		return
	}
	if approval.Status != models.ApprovalPending {
		return
	}

	outcome := "rejected"
	approval.Status = models.ApprovalRejected
	if data.Approved {
		outcome = "approved"
		approval.Status = models.ApprovalApproved
	}
	st.ToolCallApprovals[data.ApprovalKey] = approval

	st.InputItems = append(st.InputItems, models.DeveloperMessageItem(fmt.Sprintf(
		"Tool call %s to %s was %s.", approval.ToolCallID, approval.ToolName, outcome)))
	if !st.Paused {
		st.TriggerLLMRequest = true
	}
}

// approvalWrapper suspends execution: it registers an approval request with
// the host, short-circuits the chain with a pending result, and emits the
// approval-request event. The chain is never re-entered for this call;
// re-execution after approval goes through ReplayToolCall with an
// "injected-" call id.
func (e *Engine) approvalWrapper(_ ToolExecFunc) ToolExecFunc {
	return func(ctx context.Context, call models.FunctionCall, args map[string]any) (*ToolOutcome, error) {
		if e.hooks.RequestApprovalForToolCall == nil {
			return nil, fmt.Errorf("tool %s requires approval but no approval hook is configured", call.Name)
		}
		approvalKey, err := e.hooks.RequestApprovalForToolCall(ctx, ApprovalRequest{
			ToolName:   call.Name,
			Args:       args,
			ToolCallID: call.CallID,
		})
		if err != nil {
			return nil, fmt.Errorf("request approval for %s: %w", call.Name, err)
		}

		noTrigger := false
		return &ToolOutcome{
			ToolCallResult: models.ToolCallResult{
				Success: true,
				Output:  map[string]any{"message": "Tool call needs approval"},
			},
			TriggerLLMRequest: &noTrigger,
			AddEvents: []models.Event{
				models.NewEvent(models.EventToolCallApprovalRequested, models.ToolCallApprovalRequestedData{
					ApprovalKey: approvalKey,
					ToolName:    call.Name,
					Args:        args,
					ToolCallID:  call.CallID,
				}),
			},
		}, nil
	}
}

// notifyApprovedToolCalls fires the OnToolCallApproved hook for approvals
// that resolved positively in this batch, handing the host a replay
// closure that bypasses the approval wrapper.
func (e *Engine) notifyApprovedToolCalls(approved []models.ToolCallApprovedData, state models.ReducedState) {
	if e.hooks.OnToolCallApproved == nil {
		return
	}
	for _, data := range approved {
		approval, ok := state.ToolCallApprovals[data.ApprovalKey]
		if !ok || approval.Status != models.ApprovalApproved {
			continue
		}
		data, approval := data, approval
		e.background("on-tool-call-approved", func(ctx context.Context) error {
			e.hooks.OnToolCallApproved(ctx, ApprovedToolCall{
				Data:     data,
				Approval: approval,
				State:    state,
				ReplayToolCall: func(ctx context.Context) error {
					return e.replayApprovedToolCall(ctx, approval)
				},
			})
			return nil
		})
	}
}

// replayApprovedToolCall re-invokes an approved tool call with an injected
// call id and appends the resulting events.
func (e *Engine) replayApprovedToolCall(ctx context.Context, approval models.ToolCallApproval) error {
	arguments := "{}"
	if approval.Args != nil {
		raw, err := json.Marshal(approval.Args)
		if err != nil {
			return fmt.Errorf("marshal approved args for %s: %w", approval.ToolName, err)
		}
		arguments = string(raw)
	}
	call := models.FunctionCall{
		CallID:    injectedCallPrefix + approval.ToolCallID,
		Name:      approval.ToolName,
		Arguments: arguments,
	}
	events := e.invokeToToolCallEvents(ctx, call, "", nil)
	_, err := e.AddEvents(ctx, events)
	return err
}
