package slack

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type socketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SocketRunner consumes Slack Socket Mode. It reconnects with a short
// backoff until the context is canceled, acking every envelope and
// handing chat messages to the bot.
type SocketRunner struct {
	api *API
	bot *Bot
}

func NewSocketRunner(api *API, bot *Bot) *SocketRunner {
	return &SocketRunner{api: api, bot: bot}
}

// Run blocks until ctx is canceled.
func (r *SocketRunner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			slog.Info("slack_socket_stop", "reason", "context_canceled")
			return nil
		}
		conn, err := r.api.ConnectSocket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("slack_socket_stop", "reason", "context_canceled")
				return nil
			}
			slog.Warn("slack_socket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, 2*time.Second); err != nil {
				return nil
			}
			continue
		}
		slog.Info("slack_socket_connected")

		readErr := r.consume(ctx, conn)
		_ = conn.Close()
		if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
			slog.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}

func (r *SocketRunner) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var envelope socketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		// ack first so Slack does not redeliver while we process
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
			continue
		}
		env, err := ParseEnvelope(envelope.Payload)
		if err != nil {
			slog.Warn("slack_socket_payload_error", "error", err.Error())
			continue
		}
		event, ok := ParseMessageEvent(env, r.bot.BotUserID())
		if !ok {
			continue
		}
		go r.bot.HandleMessage(ctx, event)
	}
}
