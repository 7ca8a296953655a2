package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/convo/pkg/models"
)

// reduceEvent folds one event through the core reducer and the slice
// pipeline. The input state is never mutated; the returned state shares no
// mutable structure with it.
func (e *Engine) reduceEvent(state models.ReducedState, ev models.Event) (models.ReducedState, error) {
	work := state.Clone()

	if err := reduceCore(&work, ev, e.log); err != nil {
		return state, err
	}

	for _, s := range e.slices {
		var deps map[string]any
		if len(s.DependsOn) > 0 {
			deps = make(map[string]any, len(s.DependsOn))
			for _, dep := range s.DependsOn {
				deps[dep] = work.Slices[dep]
			}
		}
		patch, err := s.Reduce(SliceView{State: &work, Own: work.Slices[s.Name], Deps: deps}, ev)
		if err != nil {
			return state, fmt.Errorf("slice %q reducer: %w", s.Name, err)
		}
		if patch != nil {
			if work.Slices == nil {
				work.Slices = map[string]any{}
			}
			work.Slices[s.Name] = mergeSlicePatch(work.Slices[s.Name], patch)
		}
	}
	return work, nil
}

// reduceCore applies the core event semantics in place.
func reduceCore(st *models.ReducedState, ev models.Event, log *slog.Logger) error {
	// The trigger flag survives to the end of the batch unless a pause or
	// request start clears it. Paused conversations drop triggers.
	if ev.TriggerLLMRequest && !st.Paused {
		st.TriggerLLMRequest = true
	}

	if !ev.Type.IsCore() {
		return nil
	}

	switch ev.Type {
	case models.EventInitializedWithEvents:
		// Replay marker; no state change.

	case models.EventSetSystemPrompt:
		var data models.SetSystemPromptData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.SystemPrompt = data.Prompt

	case models.EventAddContextRules:
		var data models.AddContextRulesData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		for _, rule := range data.Rules {
			st.ContextRules[rule.Key] = rule.Clone()
		}

	case models.EventSetModelOpts:
		var data models.SetModelOptsData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.ModelOpts = data.ModelOpts.Clone()

	case models.EventSetMetadata:
		var data models.SetMetadataData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.Metadata = deepMergeMaps(st.Metadata, data.Metadata)

	case models.EventAddLabel:
		var data models.AddLabelData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		addLabel(st, data.Label)

	case models.EventLLMInputItem, models.EventLLMOutputItem:
		st.InputItems = append(st.InputItems, models.NewInputItem(ev.DataAsMap()))

	case models.EventLLMRequestStart:
		idx := ev.EventIndex
		st.LLMRequestStartedAtIndex = &idx
		st.TriggerLLMRequest = false

	case models.EventLLMRequestEnd, models.EventLLMRequestCancel:
		st.LLMRequestStartedAtIndex = nil

	case models.EventLocalFunctionToolCall:
		var data models.LocalFunctionToolCallData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		if err := reduceLocalFunctionToolCall(st, data); err != nil {
			return err
		}

	case models.EventCodemodeToolCalls:
		var data models.CodemodeToolCallsData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.RecordedToolCalls = append(st.RecordedToolCalls, data.ToolCalls...)

	case models.EventPauseLLMRequests:
		st.Paused = true
		st.TriggerLLMRequest = false

	case models.EventResumeLLMRequests:
		st.Paused = false

	case models.EventFileShared:
		var data models.FileSharedData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.SharedFiles = append(st.SharedFiles, data)
		if data.Direction == models.FileFromUserToAgent {
			st.InputItems = append(st.InputItems, models.DeveloperMessageItem(
				fmt.Sprintf("User shared a file: %s (file id %s)", data.Filename, data.FileID)))
		}

	case models.EventMessageFromAgent:
		var data models.MessageFromAgentData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.InputItems = append(st.InputItems, models.AssistantMessageItem(data.Message))

	case models.EventParticipantJoined:
		var data models.ParticipantEventData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.Participants[data.Participant.UserID] = data.Participant

	case models.EventParticipantLeft:
		var data models.ParticipantEventData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		delete(st.Participants, data.Participant.UserID)
		delete(st.MentionedParticipants, data.Participant.UserID)

	case models.EventParticipantMentioned:
		var data models.ParticipantEventData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		st.MentionedParticipants[data.Participant.UserID] = data.Participant
		name := data.Participant.DisplayName
		if name == "" {
			name = data.Participant.UserID
		}
		text := fmt.Sprintf("User mentioned by %s", name)
		if data.Message != "" {
			text = fmt.Sprintf("User mentioned by %s: %s", name, data.Message)
		}
		st.InputItems = append(st.InputItems, models.DeveloperMessageItem(text))

	case models.EventToolCallApprovalRequested:
		var data models.ToolCallApprovalRequestedData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		reduceApprovalRequested(st, data)

	case models.EventToolCallApproved:
		var data models.ToolCallApprovedData
		if err := ev.DecodeData(&data); err != nil {
			return err
		}
		reduceApprovalDecision(st, data)

	case models.EventInternalError, models.EventLog, models.EventBackgroundTaskProgress:
		// Recorded in the log only.

	default:
		log.Warn("unknown core event type, state unchanged", "type", ev.Type)
	}
	return nil
}

// reduceLocalFunctionToolCall appends the function call and its stringified
// output to the transcript, attaching sort scores next to the associated
// reasoning item when one is declared.
func reduceLocalFunctionToolCall(st *models.ReducedState, data models.LocalFunctionToolCallData) error {
	callItem := models.NewInputItem(map[string]any{
		"type":      models.ItemTypeFunctionCall,
		"call_id":   data.Call.CallID,
		"name":      data.Call.Name,
		"arguments": data.Call.Arguments,
	})
	if data.Call.ID != "" {
		callItem.Data["id"] = data.Call.ID
	}
	outputItem := models.NewInputItem(map[string]any{
		"type":    models.ItemTypeFunctionCallOutput,
		"call_id": data.Call.CallID,
		"output":  stringifyToolOutput(data.Result),
	})

	if data.AssociatedReasoningItemID != "" {
		reasoningIndex := -1
		for i, it := range st.InputItems {
			if it.Type() == models.ItemTypeReasoning && it.ID() == data.AssociatedReasoningItemID {
				reasoningIndex = i
				break
			}
		}
		if reasoningIndex < 0 {
			return fmt.Errorf("tool call %s references reasoning item %q which is not in the transcript",
				data.Call.CallID, data.AssociatedReasoningItemID)
		}
		base := float64(reasoningIndex + 1)
		callItem = callItem.WithSortScore(base + 0.1)
		outputItem = outputItem.WithSortScore(base + 0.2)
	}

	st.InputItems = append(st.InputItems, callItem, outputItem)

	var input any
	if data.Call.Arguments != "" {
		var parsed any
		if err := json.Unmarshal([]byte(data.Call.Arguments), &parsed); err == nil {
			input = parsed
		} else {
			input = data.Call.Arguments
		}
	}
	st.RecordedToolCalls = append(st.RecordedToolCalls, models.RecordedToolCall{
		Tool:   data.Call.Name,
		Input:  input,
		Output: data.Result.Output,
	})
	return nil
}

// stringifyToolOutput renders a tool result for the transcript: strings
// pass through, other values JSON-stringify, errors serialize to their
// message.
func stringifyToolOutput(result models.ToolCallResult) string {
	if !result.Success && result.Error != "" {
		return result.Error
	}
	switch out := result.Output.(type) {
	case nil:
		return ""
	case string:
		return out
	default:
		raw, err := json.Marshal(out)
		if err != nil {
			return fmt.Sprintf("%v", out)
		}
		return string(raw)
	}
}

func addLabel(st *models.ReducedState, label string) {
	existing, _ := st.Metadata["labels"].([]any)
	for _, l := range existing {
		if l == label {
			return
		}
	}
	st.Metadata["labels"] = append(existing, label)
}

// deepMergeMaps merges src into dst key-wise: nested objects merge
// recursively, everything else (arrays included) replaces.
func deepMergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = deepMergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
