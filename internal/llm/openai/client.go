// Package openai adapts the OpenAI Responses API to the engine's provider
// contract. The parameter set maps onto the wire format directly, so most
// fields pass through as extra body fields.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/responses"

	"github.com/haasonsaas/convo/internal/llm"
	"github.com/haasonsaas/convo/pkg/models"
)

// Client is an llm.Client backed by the OpenAI Responses API.
type Client struct {
	sdk sdk.Client
}

// New creates a client with the given API key. Extra request options (base
// URL overrides, custom HTTP clients) pass through to the SDK.
func New(apiKey string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{sdk: sdk.NewClient(all...)}
}

// StreamResponse opens a streaming responses call.
func (c *Client) StreamResponse(ctx context.Context, params models.ResponseParams) (llm.Stream, error) {
	p := responses.ResponseNewParams{
		Model: responses.ResponsesModel(params.Model),
	}
	if params.Instructions != "" {
		p.Instructions = sdk.String(params.Instructions)
	}

	extra := map[string]any{
		"input":               params.Input,
		"parallel_tool_calls": params.ParallelToolCalls,
	}
	if len(params.Tools) > 0 {
		extra["tools"] = params.Tools
	}
	if params.ToolChoice != nil {
		extra["tool_choice"] = params.ToolChoice
	}
	if params.Temperature != nil {
		extra["temperature"] = *params.Temperature
	}
	if params.MaxOutputTokens != nil {
		extra["max_output_tokens"] = *params.MaxOutputTokens
	}
	p.SetExtraFields(extra)

	s := c.sdk.Responses.NewStreaming(ctx, p)
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open responses stream: %w", err)
	}
	return &stream{s: s}, nil
}

type stream struct {
	s *ssestream.Stream[responses.ResponseStreamEventUnion]
}

func (s *stream) Next() (models.StreamChunk, error) {
	if !s.s.Next() {
		if err := s.s.Err(); err != nil {
			return models.StreamChunk{}, err
		}
		return models.StreamChunk{}, io.EOF
	}

	event := s.s.Current()
	chunk := models.StreamChunk{Type: string(event.Type)}

	var raw map[string]any
	if err := json.Unmarshal([]byte(event.RawJSON()), &raw); err == nil {
		chunk.Raw = raw
		if item, ok := raw["item"].(map[string]any); ok {
			chunk.Item = item
		}
		if resp, ok := raw["response"].(map[string]any); ok {
			chunk.Response = resp
		}
	}
	return chunk, nil
}

func (s *stream) Close() error {
	return s.s.Close()
}
