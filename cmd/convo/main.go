// Command convo is the CLI host for the conversation engine: replay and
// validate stored event logs, or run a live conversation against a model
// provider.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/convo/internal/config"
	"github.com/haasonsaas/convo/internal/observability"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "convo",
		Short:         "Per-conversation agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Missing .env files are fine; explicit configs are not.
			_ = godotenv.Load()

			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			slog.SetDefault(observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			}))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONVO_CONFIG"), "path to config file")

	root.AddCommand(newReplayCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newChatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
