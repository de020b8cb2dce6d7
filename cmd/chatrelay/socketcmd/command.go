package socketcmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/appwire"
	"github.com/chatrelay/chatrelay/internal/configutil"
	"github.com/chatrelay/chatrelay/slack"
)

// NewCommand returns the Socket Mode command: a long-lived websocket
// connection to Slack instead of the inbound webhook.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Run the Slack bot over Socket Mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or CHATRELAY_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or CHATRELAY_SLACK_APP_TOKEN)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := appwire.Build(ctx, cmd)
			if err != nil {
				return err
			}
			defer runtime.Close()

			api := slack.NewAPI(nil, "", botToken, appToken)
			auth, err := api.AuthTest(ctx)
			if err != nil {
				return fmt.Errorf("slack auth.test failed: %w", err)
			}
			slog.Info("slack_start", "bot_user_id", auth.UserID, "team", auth.Team)

			bot := slack.NewBot(api, runtime.Processor, auth.UserID)
			return slack.NewSocketRunner(api, bot).Run(ctx)
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...)")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token (xapp-...) for Socket Mode")
	cmd.Flags().String("provider", "", "default AI provider (openai or ollama)")
	cmd.Flags().Float64("temperature", 0, "sampling temperature")
	cmd.Flags().String("openai-model", "", "OpenAI model name")
	cmd.Flags().String("ollama-model", "", "Ollama model name")
	cmd.Flags().Duration("llm-request-timeout", 0, "per-request LLM timeout")
	cmd.Flags().String("redis-addr", "", "Redis address for conversation persistence")
	cmd.Flags().Int("max-messages", 0, "max messages kept per conversation")
	cmd.Flags().String("agents-config", "", "path to agents.json")
	return cmd
}
