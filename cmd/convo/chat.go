package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/convo/internal/codemode"
	"github.com/haasonsaas/convo/internal/engine"
	"github.com/haasonsaas/convo/internal/llm"
	anthropicllm "github.com/haasonsaas/convo/internal/llm/anthropic"
	openaillm "github.com/haasonsaas/convo/internal/llm/openai"
	"github.com/haasonsaas/convo/internal/store"
	"github.com/haasonsaas/convo/pkg/models"
)

func newChatCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a live conversation loop against the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("no API key configured for provider %s", cfg.LLM.Provider)
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			var client llm.Client
			switch cfg.LLM.Provider {
			case "anthropic":
				client = anthropicllm.New(cfg.LLM.APIKey)
			default:
				client = openaillm.New(cfg.LLM.APIKey)
			}

			agentOut := make(chan string, 16)

			hooks := engine.Hooks{
				StoreEvents: func(ctx context.Context, events []models.Event) error {
					return db.StoreEvents(ctx, conversationID, events)
				},
				GetClient: func(ctx context.Context) (llm.Client, error) {
					return client, nil
				},
				ToolSpecsToImplementations: builtinTools,
				SetupCodemode:              codemode.Setup,
				RequestApprovalForToolCall: func(ctx context.Context, req engine.ApprovalRequest) (string, error) {
					return uuid.NewString(), nil
				},
				OnEventAdded: func(n engine.EventNotification) {
					if n.Event.Type != models.EventLLMOutputItem {
						return
					}
					item := models.NewInputItem(n.Event.DataAsMap())
					if item.Type() == models.ItemTypeMessage && item.Role() == "assistant" {
						if text := outputText(item.Data); text != "" {
							agentOut <- text
						}
					}
				},
			}

			eng, err := engine.New(hooks)
			if err != nil {
				return err
			}

			existing, err := db.LoadEvents(ctx, conversationID)
			if err != nil {
				return err
			}
			if err := eng.InitializeWithEvents(ctx, existing); err != nil {
				return err
			}

			if len(existing) == 0 {
				seed := []models.Event{
					models.NewEvent(models.EventSetModelOpts, models.SetModelOptsData{
						ModelOpts: models.ModelOpts{
							Model:           cfg.LLM.Model,
							Temperature:     cfg.LLM.Temperature,
							MaxOutputTokens: cfg.LLM.MaxOutputTokens,
						},
					}),
				}
				if cfg.Engine.SystemPrompt != "" {
					seed = append(seed, models.NewEvent(models.EventSetSystemPrompt,
						models.SetSystemPromptData{Prompt: cfg.Engine.SystemPrompt}))
				}
				if len(cfg.Rules) > 0 {
					seed = append(seed, models.NewEvent(models.EventAddContextRules,
						models.AddContextRulesData{Rules: cfg.Rules}))
				}
				if _, err := eng.AddEvents(ctx, seed); err != nil {
					return err
				}
			}

			fmt.Printf("conversation %s (ctrl-d to exit)\n", conversationID)
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				userItem := map[string]any{
					"type": "message",
					"role": "user",
					"content": []any{
						map[string]any{"type": "input_text", "text": line},
					},
				}
				ev := models.NewEvent(models.EventLLMInputItem, userItem)
				ev.TriggerLLMRequest = true
				if _, err := eng.AddEvent(ctx, ev); err != nil {
					slog.Error("add user message failed", "error", err)
					continue
				}

				drainUntilIdle(eng, agentOut)
			}
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: new)")
	return cmd
}

// drainUntilIdle prints agent output until the active request settles.
func drainUntilIdle(eng *engine.Engine, agentOut <-chan string) {
	for {
		select {
		case text := <-agentOut:
			fmt.Println(text)
		case <-time.After(200 * time.Millisecond):
			if !eng.LLMRequestInProgress() {
				for {
					select {
					case text := <-agentOut:
						fmt.Println(text)
					default:
						return
					}
				}
			}
		}
	}
}

// builtinTools resolves the demo tool specs the CLI ships with.
func builtinTools(specs []models.ToolSpec) []engine.RuntimeTool {
	tools := make([]engine.RuntimeTool, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		switch spec.Name {
		case "getCurrentTime":
			tools = append(tools, engine.RuntimeTool{
				Spec: spec,
				Execute: func(ctx context.Context, call models.FunctionCall, args map[string]any) (*engine.ToolOutcome, error) {
					return &engine.ToolOutcome{
						ToolCallResult: models.ToolCallResult{
							Success: true,
							Output:  map[string]any{"now": time.Now().UTC().Format(time.RFC3339)},
						},
					}, nil
				},
			})
		default:
			// Declaration-only: the spec is advertised but not locally
			// executable.
			tools = append(tools, engine.RuntimeTool{Spec: spec})
		}
	}
	return tools
}

func outputText(item map[string]any) string {
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
		if m["type"] == "output_text" {
			if text, ok := m["text"].(string); ok {
				b.WriteString(text)
			}
		}
	}
	return b.String()
}
