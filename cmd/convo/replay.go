package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/convo/internal/engine"
	"github.com/haasonsaas/convo/internal/store"
	"github.com/haasonsaas/convo/pkg/models"
)

func newReplayCmd() *cobra.Command {
	var atIndex int

	cmd := &cobra.Command{
		Use:   "replay <conversation-id>",
		Short: "Fold a stored event log and print the derived state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := db.LoadEvents(ctx, args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("conversation %s has no events", args[0])
			}

			eng, err := engine.New(inertHooks())
			if err != nil {
				return err
			}
			if err := eng.InitializeWithEvents(ctx, events); err != nil {
				return err
			}

			index := atIndex
			if index < 0 {
				index = len(eng.Events()) - 1
			}
			state, err := eng.ReducedStateAtEventIndex(index)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(replayOutput{
				ConversationID: args[0],
				EventCount:     len(events),
				AtIndex:        index,
				State:          state.ReducedState,
			})
		},
	}
	cmd.Flags().IntVar(&atIndex, "at", -1, "replay up to this event index (default: whole log)")
	return cmd
}

type replayOutput struct {
	ConversationID string              `json:"conversationId"`
	EventCount     int                 `json:"eventCount"`
	AtIndex        int                 `json:"atIndex"`
	State          models.ReducedState `json:"state"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <events.json>",
		Short: "Validate an event log file against the engine schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var events []models.Event
			if err := json.Unmarshal(raw, &events); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			eng, err := engine.New(inertHooks())
			if err != nil {
				return err
			}
			if err := eng.InitializeWithEvents(context.Background(), events); err != nil {
				return err
			}
			fmt.Printf("ok: %d events\n", len(events))
			return nil
		},
	}
}

// inertHooks keeps offline inspection side-effect free: replayed logs that
// show a request in flight must not actually relaunch it.
func inertHooks() engine.Hooks {
	return engine.Hooks{
		Background: func(name string, fn func(ctx context.Context) error) {},
	}
}
