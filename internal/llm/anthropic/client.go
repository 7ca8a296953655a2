// Package anthropic adapts the Anthropic Messages API to the engine's
// responses-shaped provider contract. Transcript items translate into
// message turns with tool_use/tool_result blocks; the streaming events
// translate back into output-item chunks.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/convo/internal/llm"
	"github.com/haasonsaas/convo/pkg/models"
)

const defaultMaxTokens int64 = 4096

// Client is an llm.Client backed by the Anthropic Messages API.
type Client struct {
	sdk sdk.Client
}

// New creates a client with the given API key.
func New(apiKey string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}, opts...)
	return &Client{sdk: sdk.NewClient(all...)}
}

// StreamResponse opens a streaming messages call translated from the
// responses-shaped parameter set.
func (c *Client) StreamResponse(ctx context.Context, params models.ResponseParams) (llm.Stream, error) {
	messages, err := adaptInput(params.Input)
	if err != nil {
		return nil, err
	}

	p := sdk.MessageNewParams{
		Model:     sdk.Model(params.Model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}
	if params.Instructions != "" {
		p.System = []sdk.TextBlockParam{{Text: params.Instructions}}
	}
	if params.MaxOutputTokens != nil {
		p.MaxTokens = int64(*params.MaxOutputTokens)
	}
	if params.Temperature != nil {
		p.Temperature = sdk.Float(*params.Temperature)
	}
	if len(params.Tools) > 0 {
		p.Tools = adaptTools(params.Tools)
	}

	s := c.sdk.Messages.NewStreaming(ctx, p)
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open messages stream: %w", err)
	}
	return &stream{s: s, blocks: map[int64]*blockBuffer{}}, nil
}

// adaptInput converts responses items into alternating message turns.
// Consecutive blocks with the same role merge into one turn; reasoning
// items are dropped (the Messages API replays thinking on its own terms).
func adaptInput(input []map[string]any) ([]sdk.MessageParam, error) {
	type turn struct {
		role   string
		blocks []sdk.ContentBlockParamUnion
	}
	var turns []turn

	push := func(role string, block sdk.ContentBlockParamUnion) {
		if len(turns) > 0 && turns[len(turns)-1].role == role {
			turns[len(turns)-1].blocks = append(turns[len(turns)-1].blocks, block)
			return
		}
		turns = append(turns, turn{role: role, blocks: []sdk.ContentBlockParamUnion{block}})
	}

	for _, item := range input {
		it := models.NewInputItem(item)
		switch it.Type() {
		case models.ItemTypeMessage:
			text := itemText(item)
			if text == "" {
				continue
			}
			role := "user"
			if it.Role() == "assistant" {
				role = "assistant"
			}
			push(role, sdk.NewTextBlock(text))
		case models.ItemTypeFunctionCall:
			name, _ := item["name"].(string)
			callID, _ := item["call_id"].(string)
			args, _ := item["arguments"].(string)
			if args == "" {
				args = "{}"
			}
			push("assistant", sdk.NewToolUseBlock(callID, json.RawMessage(args), name))
		case models.ItemTypeFunctionCallOutput:
			callID, _ := item["call_id"].(string)
			output, _ := item["output"].(string)
			push("user", sdk.NewToolResultBlock(callID, output, false))
		case models.ItemTypeReasoning:
			continue
		default:
			continue
		}
	}

	messages := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(t.blocks...))
		} else {
			messages = append(messages, sdk.NewUserMessage(t.blocks...))
		}
	}
	return messages, nil
}

func itemText(item map[string]any) string {
	content, ok := item["content"].([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, entry := range content {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		switch m["type"] {
		case "input_text", "output_text", "text":
			if text, ok := m["text"].(string); ok {
				b.WriteString(text)
			}
		}
	}
	return b.String()
}

func adaptTools(tools []map[string]any) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name, _ := t["name"].(string)
		if name == "" {
			continue
		}
		tool := sdk.ToolParam{Name: name}
		if desc, ok := t["description"].(string); ok && desc != "" {
			tool.Description = sdk.String(desc)
		}
		if schema, ok := t["parameters"].(map[string]any); ok {
			if props, ok := schema["properties"].(map[string]any); ok {
				tool.InputSchema.Properties = props
			}
			if req, ok := schema["required"].([]any); ok {
				required := make([]string, 0, len(req))
				for _, r := range req {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
				tool.InputSchema.Required = required
			}
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// blockBuffer accumulates one content block across streaming deltas.
type blockBuffer struct {
	kind string // "text", "tool_use", "thinking"
	id   string
	name string
	text strings.Builder
	args strings.Builder
}

type stream struct {
	s         *ssestream.Stream[sdk.MessageStreamEventUnion]
	blocks    map[int64]*blockBuffer
	messageID string
	usage     map[string]any
	completed bool
	finished  bool
}

// Next translates the Messages stream into responses-shaped chunks:
// content_block_stop becomes response.output_item.done, message_stop
// becomes response.completed. Deltas pass through with their native type
// so the host observer still sees them.
func (s *stream) Next() (models.StreamChunk, error) {
	for s.s.Next() {
		event := s.s.Current()

		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			s.messageID = ev.Message.ID

		case sdk.ContentBlockStartEvent:
			buf := &blockBuffer{}
			switch block := ev.ContentBlock.AsAny().(type) {
			case sdk.TextBlock:
				buf.kind = "text"
				buf.text.WriteString(block.Text)
			case sdk.ToolUseBlock:
				buf.kind = "tool_use"
				buf.id = block.ID
				buf.name = block.Name
				if len(block.Input) > 0 && string(block.Input) != "{}" {
					buf.args.Write(block.Input)
				}
			case sdk.ThinkingBlock:
				buf.kind = "thinking"
				buf.text.WriteString(block.Thinking)
			}
			s.blocks[ev.Index] = buf

		case sdk.ContentBlockDeltaEvent:
			buf := s.blocks[ev.Index]
			if buf == nil {
				buf = &blockBuffer{kind: "text"}
				s.blocks[ev.Index] = buf
			}
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				buf.text.WriteString(delta.Text)
			case sdk.InputJSONDelta:
				buf.args.WriteString(delta.PartialJSON)
			case sdk.ThinkingDelta:
				buf.text.WriteString(delta.Thinking)
			}
			return rawChunk(event)

		case sdk.ContentBlockStopEvent:
			buf := s.blocks[ev.Index]
			if buf == nil {
				continue
			}
			delete(s.blocks, ev.Index)
			return models.StreamChunk{
				Type: models.ChunkOutputItemDone,
				Item: s.itemFor(buf, ev.Index),
			}, nil

		case sdk.MessageDeltaEvent:
			s.usage = map[string]any{
				"output_tokens": ev.Usage.OutputTokens,
			}
			return rawChunk(event)

		case sdk.MessageStopEvent:
			s.completed = true
			return models.StreamChunk{
				Type: models.ChunkResponseCompleted,
				Response: map[string]any{
					"id":    s.messageID,
					"usage": s.usage,
				},
			}, nil

		default:
			return rawChunk(event)
		}
	}

	if err := s.s.Err(); err != nil {
		return models.StreamChunk{}, err
	}
	if !s.completed && !s.finished {
		// The stream ended without message_stop; synthesize completion so
		// the request still terminates cleanly.
		s.finished = true
		return models.StreamChunk{
			Type:     models.ChunkResponseCompleted,
			Response: map[string]any{"id": s.messageID, "usage": s.usage},
		}, nil
	}
	return models.StreamChunk{}, io.EOF
}

func (s *stream) itemFor(buf *blockBuffer, index int64) map[string]any {
	switch buf.kind {
	case "tool_use":
		args := buf.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		return map[string]any{
			"type":      models.ItemTypeFunctionCall,
			"id":        buf.id,
			"call_id":   buf.id,
			"name":      buf.name,
			"arguments": args,
		}
	case "thinking":
		return map[string]any{
			"type": models.ItemTypeReasoning,
			"id":   fmt.Sprintf("%s-reasoning-%d", s.messageID, index),
			"summary": []any{
				map[string]any{"type": "summary_text", "text": buf.text.String()},
			},
		}
	default:
		return map[string]any{
			"type": models.ItemTypeMessage,
			"role": "assistant",
			"id":   fmt.Sprintf("%s-msg-%d", s.messageID, index),
			"content": []any{
				map[string]any{"type": "output_text", "text": buf.text.String()},
			},
		}
	}
}

func rawChunk(event sdk.MessageStreamEventUnion) (models.StreamChunk, error) {
	chunk := models.StreamChunk{Type: string(event.Type)}
	var raw map[string]any
	if err := json.Unmarshal([]byte(event.RawJSON()), &raw); err == nil {
		chunk.Raw = raw
	}
	return chunk, nil
}

func (s *stream) Close() error {
	return s.s.Close()
}
