package servecmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/appwire"
	"github.com/chatrelay/chatrelay/internal/configutil"
	"github.com/chatrelay/chatrelay/internal/httpapi"
	"github.com/chatrelay/chatrelay/slack"
)

// NewCommand returns the HTTP server command: the management API plus
// the Slack events webhook.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and Slack webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "api-token", "auth.api_token"))
			if apiToken == "" {
				return fmt.Errorf("missing auth.api_token (set via --api-token or CHATRELAY_AUTH_API_TOKEN)")
			}
			signingSecret := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-signing-secret", "slack.signing_secret"))
			if signingSecret == "" {
				return fmt.Errorf("missing slack.signing_secret (set via --slack-signing-secret or CHATRELAY_SLACK_SIGNING_SECRET)")
			}
			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "server.listen"))
			if listen == "" {
				listen = ":8000"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := appwire.Build(ctx, cmd)
			if err != nil {
				return err
			}
			defer runtime.Close()

			// The webhook path can answer in channels only when a bot
			// token is configured; without one it still acks events.
			var bot *slack.Bot
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken != "" {
				api := slack.NewAPI(nil, "", botToken, "")
				auth, err := api.AuthTest(ctx)
				if err != nil {
					slog.Warn("slack_auth_test_error", "error", err)
				} else {
					bot = slack.NewBot(api, runtime.Processor, auth.UserID)
					slog.Info("slack_bot_ready", "bot_user_id", auth.UserID, "team", auth.Team)
				}
			}

			server := httpapi.NewServer(httpapi.Options{
				Processor: runtime.Processor,
				Verifier:  slack.NewVerifier(signingSecret),
				Bot:       bot,
				AuthToken: apiToken,
			})
			return server.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().String("listen", "", "listen address (default :8000)")
	cmd.Flags().String("api-token", "", "bearer token for the management API")
	cmd.Flags().String("slack-signing-secret", "", "Slack signing secret for webhook verification")
	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...) for posting replies")
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
