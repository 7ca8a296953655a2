package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/convo/pkg/models"
)

// maxUserFacingSendsPerTurn bounds consecutive user-facing tool calls
// since the last user action before the failsafe pauses the conversation.
const maxUserFacingSendsPerTurn = 10

// evaluateTriggerLocked runs after a successful batch: if the reduced
// state requests a model run, it applies the infinite-loop failsafe,
// supersedes any active request, appends the LLM_REQUEST_START event and
// launches the stream in the background.
func (e *Engine) evaluateTriggerLocked() {
	if !e.state.TriggerLLMRequest {
		return
	}
	if e.state.Paused {
		e.log.Info("model request trigger ignored, conversation paused")
		return
	}

	if sends := e.userFacingSendsSinceLastUserAction(); sends >= maxUserFacingSendsPerTurn {
		e.log.Warn("infinite-loop failsafe tripped, pausing model requests",
			"sends", sends, "tool", e.hooks.userFacingToolName())
		pause := models.NewEvent(models.EventPauseLLMRequests, models.PauseLLMRequestsData{
			Reason: fmt.Sprintf("failsafe: %d consecutive %s calls since the last user action",
				sends, e.hooks.userFacingToolName()),
		})
		e.appendSyntheticLocked(pause)
		if e.metrics != nil {
			e.metrics.FailsafePauses.Inc()
		}
		return
	}

	params := buildResponseParams(e.augmentLocked())

	if active := e.state.LLMRequestStartedAtIndex; active != nil {
		cancel := models.NewEvent(models.EventLLMRequestCancel, models.LLMRequestCancelData{
			Reason: fmt.Sprintf("#%d superseded by #%d", *active, len(e.events)),
		})
		e.appendSyntheticLocked(cancel)
		if e.metrics != nil {
			e.metrics.RequestsCancelled.Inc()
		}
	}

	start := models.NewEvent(models.EventLLMRequestStart, models.LLMRequestStartData{Params: params})
	if !e.appendSyntheticLocked(start) {
		return
	}
	if e.metrics != nil {
		e.metrics.RequestsStarted.Inc()
	}

	e.launchRun(e.events[len(e.events)-1].EventIndex, params)
}

// appendSyntheticLocked appends an engine-generated event inside the
// current batch. These events are constructed by the engine and reduce
// deterministically; a failure is a bug, logged and swallowed so the
// user-submitted batch stands.
func (e *Engine) appendSyntheticLocked(ev models.Event) bool {
	if err := e.appendAndReduceLocked(&ev); err != nil {
		e.log.Error("failed to append synthetic event", "type", ev.Type, "error", err)
		return false
	}
	e.notifyEventAddedLocked(ev, e.state)
	return true
}

// augmentLocked augments a copy of the current state. Called with the
// engine mutex held; the hooks it reaches (rule match data, tool
// resolution) must not re-enter the engine.
func (e *Engine) augmentLocked() *AugmentedState {
	return e.augment(e.state.Clone())
}

// userFacingSendsSinceLastUserAction counts function-call items invoking
// the user-facing message tool after the last developer message that
// records a user action.
func (e *Engine) userFacingSendsSinceLastUserAction() int {
	lastUserAction := -1
	for i, it := range e.state.InputItems {
		if it.Type() != models.ItemTypeMessage || it.Role() != "developer" {
			continue
		}
		text := it.FirstInputText()
		if strings.HasPrefix(text, "User mentioned") || strings.HasPrefix(text, "User message") {
			lastUserAction = i
		}
	}

	toolName := e.hooks.userFacingToolName()
	sends := 0
	for i := lastUserAction + 1; i < len(e.state.InputItems); i++ {
		it := e.state.InputItems[i]
		if it.Type() == models.ItemTypeFunctionCall && it.Name() == toolName {
			sends++
		}
	}
	return sends
}

// launchRun starts the background stream task for the given start index.
func (e *Engine) launchRun(startIndex int, params models.ResponseParams) {
	e.background(fmt.Sprintf("llm-request-%d", startIndex), func(ctx context.Context) error {
		return e.runLLMRequest(ctx, startIndex, params)
	})
}
