package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/convo/pkg/models"
)

// runLLMRequest is the background task driving one model request. It
// aborts silently whenever a newer request has superseded it; all other
// failures translate into INTERNAL_ERROR plus LLM_REQUEST_CANCEL if the
// request is still current.
func (e *Engine) runLLMRequest(ctx context.Context, startIndex int, params models.ResponseParams) error {
	start := time.Now()
	err := e.runLLMRequestOnce(ctx, startIndex, params)
	if e.metrics != nil {
		e.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}

	if err == nil || errors.Is(err, errSuperseded) {
		return nil
	}

	e.log.Error("model request failed", "startIndex", startIndex, "error", err)
	if !e.isActiveRequest(startIndex) {
		return err
	}

	failureEvents := []models.Event{
		models.NewEvent(models.EventInternalError, models.InternalErrorData{
			Error: err.Error(),
		}),
		models.NewEvent(models.EventLLMRequestCancel, models.LLMRequestCancelData{
			Reason: "error",
		}),
	}
	if _, aerr := e.AddEvents(ctx, failureEvents); aerr != nil {
		e.log.Error("failed to record model request failure", "error", aerr)
	}
	return err
}

func (e *Engine) runLLMRequestOnce(ctx context.Context, startIndex int, params models.ResponseParams) error {
	if e.hooks.GetClient == nil {
		return errors.New("no model client configured")
	}
	client, err := e.hooks.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("acquire model client: %w", err)
	}

	if !e.isActiveRequest(startIndex) {
		return errSuperseded
	}

	stream, err := client.StreamResponse(ctx, params)
	if err != nil {
		return fmt.Errorf("open model stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	collected, err := e.consumeStream(ctx, startIndex, stream)
	if err != nil {
		return err
	}

	if !e.isActiveRequest(startIndex) {
		return errSuperseded
	}
	if _, err := e.AddEvents(ctx, collected); err != nil {
		return fmt.Errorf("append stream events: %w", err)
	}
	return nil
}
