package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatrelay/chatrelay/conversation"
)

// ManageConversationsTool exposes conversation housekeeping: stats,
// listing, deleting one channel's history or evicting old ones.
type ManageConversationsTool struct {
	store *conversation.Store
}

func NewManageConversationsTool(store *conversation.Store) *ManageConversationsTool {
	return &ManageConversationsTool{store: store}
}

func (t *ManageConversationsTool) Name() string { return "manage_conversations" }

func (t *ManageConversationsTool) Description() string {
	return "Inspect and maintain stored conversations: stats, list, delete one channel's history, or clean up the oldest conversations."
}

func (t *ManageConversationsTool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "action": { "type": "string", "enum": ["stats", "list", "delete", "cleanup"], "description": "Operation to perform (default stats)." },
    "channel_id": { "type": "string", "description": "Channel whose conversation to delete." },
    "max_conversations": { "type": "integer", "description": "For cleanup: how many conversations to keep." }
  }
}`
}

func (t *ManageConversationsTool) Execute(ctx context.Context, params map[string]any) Result {
	action := strings.TrimSpace(getString(params, "action"))
	if action == "" {
		action = "stats"
	}
	meta := map[string]any{"tool_name": t.Name()}

	switch action {
	case "stats":
		stats := t.store.Stats()
		return Ok(map[string]any{
			"total_conversations":           stats.TotalConversations,
			"total_messages":                stats.TotalMessages,
			"max_messages_per_conversation": stats.MaxMessages,
			"storage_type":                  stats.StorageType,
		}, meta)

	case "list":
		channels := t.store.Channels()
		return Ok(map[string]any{
			"channels":            channels,
			"total_conversations": len(channels),
		}, meta)

	case "delete":
		channelID := strings.TrimSpace(getString(params, "channel_id"))
		if channelID == "" {
			return Fail("channel_id parameter is required for delete", meta)
		}
		if !t.store.Clear(ctx, channelID) {
			return Fail(fmt.Sprintf("no conversation found for channel %s", channelID), meta)
		}
		return Ok(map[string]any{
			"message":    fmt.Sprintf("Deleted conversation for channel %s", channelID),
			"channel_id": channelID,
		}, meta)

	case "cleanup":
		max := getInt(params, "max_conversations")
		removed := t.store.Cleanup(max)
		return Ok(map[string]any{
			"message":           fmt.Sprintf("Cleaned up %d conversation(s)", removed),
			"removed_count":     removed,
			"max_conversations": max,
		}, meta)

	default:
		return Fail(fmt.Sprintf("unknown action %q", action), meta)
	}
}
