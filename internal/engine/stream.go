package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/haasonsaas/convo/internal/llm"
	"github.com/haasonsaas/convo/pkg/models"
)

// eventSlot holds the events one stream element produced. Slots for tool
// calls are filled asynchronously; the final flush awaits them in arrival
// order, so everything that streamed after an outstanding call stays
// queued behind it.
type eventSlot struct {
	events []models.Event
	done   chan struct{}
}

func readySlot(events ...models.Event) *eventSlot {
	done := make(chan struct{})
	close(done)
	return &eventSlot{events: events, done: done}
}

// consumeStream parses one provider stream into the events to append.
// Function-call items start tool execution immediately; image-generation
// completions upload in the background; everything else becomes an
// LLM_OUTPUT_ITEM. The LLM_REQUEST_END event is flushed last. Supersession
// is rechecked between stream steps.
func (e *Engine) consumeStream(ctx context.Context, startIndex int, stream llm.Stream) ([]models.Event, error) {
	var (
		slots         []*eventSlot
		endEvents     []models.Event
		lastReasoning string
		activeCalls   atomic.Int32
	)

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}
		if !e.isActiveRequest(startIndex) {
			return nil, errSuperseded
		}

		switch chunk.Type {
		case models.ChunkOutputItemDone:
			item := chunk.Item
			switch itemType(item) {
			case models.ItemTypeFunctionCall:
				call := functionCallFromItem(item)
				associated := lastReasoning
				idx := startIndex
				slot := &eventSlot{done: make(chan struct{})}
				slots = append(slots, slot)
				activeCalls.Add(1)
				go func() {
					defer close(slot.done)
					defer activeCalls.Add(-1)
					slot.events = e.invokeToToolCallEvents(ctx, call, associated, &idx)
				}()

			case models.ItemTypeImageGenerationCall:
				if status, _ := item["status"].(string); status != "completed" {
					slots = append(slots, readySlot(models.NewEvent(models.EventLLMOutputItem, item)))
					lastReasoning = ""
					continue
				}
				lastReasoning = ""
				slot := &eventSlot{done: make(chan struct{})}
				slots = append(slots, slot)
				go func() {
					defer close(slot.done)
					slot.events = e.shareGeneratedImage(ctx, item)
				}()

			case models.ItemTypeReasoning:
				lastReasoning, _ = item["id"].(string)
				slots = append(slots, readySlot(models.NewEvent(models.EventLLMOutputItem, item)))

			default:
				lastReasoning = ""
				slots = append(slots, readySlot(models.NewEvent(models.EventLLMOutputItem, item)))
			}

		case models.ChunkResponseCompleted:
			endEvents = append(endEvents, models.NewEvent(models.EventLLMRequestEnd, models.LLMRequestEndData{
				RawResponse: chunk.Response,
			}))

		default:
			if e.hooks.OnLLMStreamResponseStreamingChunk != nil {
				e.hooks.OnLLMStreamResponseStreamingChunk(chunk, StreamChunkInfo{
					BatchID:             startIndex,
					ActiveFunctionCalls: int(activeCalls.Load()),
				})
			}
		}
	}

	var collected []models.Event
	for _, slot := range slots {
		select {
		case <-slot.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !e.isActiveRequest(startIndex) {
			return nil, errSuperseded
		}
		collected = append(collected, slot.events...)
	}
	return append(collected, endEvents...), nil
}

// shareGeneratedImage uploads a completed image-generation result through
// the host and emits the FILE_SHARED event. The base64 payload is stripped
// before any metadata is retained. Upload failures surface as events, not
// stream failures.
func (e *Engine) shareGeneratedImage(ctx context.Context, item map[string]any) []models.Event {
	encoded, _ := item["result"].(string)
	providerFileID, _ := item["id"].(string)

	stripped := map[string]any{}
	for k, v := range item {
		if k == "result" {
			continue
		}
		stripped[k] = v
	}

	if e.hooks.UploadFile == nil {
		return []models.Event{models.NewEvent(models.EventInternalError, models.InternalErrorData{
			Error: "model produced an image but no upload hook is configured",
		})}
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return []models.Event{models.NewEvent(models.EventInternalError, models.InternalErrorData{
			Error: fmt.Sprintf("decode generated image %s: %v", providerFileID, err),
		})}
	}

	filename := fmt.Sprintf("generated-%s.png", providerFileID)
	uploaded, err := e.hooks.UploadFile(ctx, UploadFileRequest{
		Content:       content,
		Filename:      filename,
		ContentLength: len(content),
		MimeType:      "image/png",
		Metadata:      stripped,
	})
	if err != nil {
		return []models.Event{models.NewEvent(models.EventInternalError, models.InternalErrorData{
			Error: fmt.Sprintf("upload generated image %s: %v", providerFileID, err),
		})}
	}

	data := models.FileSharedData{
		Direction:    models.FileFromAgentToUser,
		FileID:       uploaded.FileID,
		OpenAIFileID: firstNonEmpty(uploaded.OpenAIFileID, providerFileID),
		Filename:     filename,
		MimeType:     "image/png",
		Metadata:     stripped,
	}
	if e.hooks.TurnFileIDIntoPublicURL != nil {
		if url, ok := e.hooks.TurnFileIDIntoPublicURL(uploaded.FileID); ok {
			data.PublicURL = url
		}
	}
	return []models.Event{models.NewEvent(models.EventFileShared, data)}
}

func itemType(item map[string]any) string {
	t, _ := item["type"].(string)
	return t
}

func functionCallFromItem(item map[string]any) models.FunctionCall {
	call := models.FunctionCall{}
	call.ID, _ = item["id"].(string)
	call.CallID, _ = item["call_id"].(string)
	call.Name, _ = item["name"].(string)
	call.Arguments, _ = item["arguments"].(string)
	if call.CallID == "" {
		call.CallID = call.ID
	}
	return call
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
