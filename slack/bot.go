package slack

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chatrelay/chatrelay/relay"
)

// Bot bridges inbound Slack messages to the chat processor and posts
// the answers back. One Bot serves both the webhook and Socket Mode
// paths.
type Bot struct {
	api       *API
	processor *relay.Processor
	botUserID string
}

func NewBot(api *API, processor *relay.Processor, botUserID string) *Bot {
	return &Bot{
		api:       api,
		processor: processor,
		botUserID: strings.TrimSpace(botUserID),
	}
}

func (b *Bot) BotUserID() string { return b.botUserID }

// HandleMessage runs one chat turn for the event and posts the reply
// as a thread response. Turn failures are reported to the channel, so
// the sender always hears back.
func (b *Bot) HandleMessage(ctx context.Context, event MessageEvent) {
	slog.Info("slack_message_received",
		"channel_id", event.ChannelID,
		"user_id", event.UserID,
		"message_ts", event.MessageTS,
		"app_mention", event.IsAppMention,
	)

	result := b.processor.ProcessMessage(ctx, relay.Request{
		Message:   event.Text,
		UserID:    event.UserID,
		ChannelID: event.ChannelID,
		UseTools:  true,
	})
	if result.Err != "" {
		slog.Warn("slack_turn_error", "channel_id", event.ChannelID, "error", result.Err)
	}

	reply := strings.TrimSpace(result.Response)
	if reply == "" {
		reply = "Sorry, I encountered an error processing your message. Please try again."
	}
	threadTS := event.ThreadTS
	if threadTS == "" {
		threadTS = event.MessageTS
	}
	if err := b.api.PostMessage(ctx, event.ChannelID, reply, threadTS); err != nil {
		slog.Warn("slack_post_message_error", "channel_id", event.ChannelID, "error", err)
	}
}
