package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatrelay/chatrelay/llm"
)

// ManageProvidersTool lets the model request a backend switch for the
// current channel. The tool itself never rebinds anything: a switch
// request is carried as a provider_switch directive in the result
// metadata and validated by the orchestrator after the batch.
type ManageProvidersTool struct {
	table *llm.Table
}

func NewManageProvidersTool(table *llm.Table) *ManageProvidersTool {
	return &ManageProvidersTool{table: table}
}

func (t *ManageProvidersTool) Name() string { return "manage_providers" }

func (t *ManageProvidersTool) Description() string {
	return "Switch the AI provider for the current channel, or list the available providers and their status."
}

func (t *ManageProvidersTool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "action": { "type": "string", "enum": ["switch", "list", "status"], "description": "Operation to perform (default status)." },
    "provider": { "type": "string", "description": "Target provider for switch." },
    "channel_id": { "type": "string", "description": "Channel whose binding is inspected or changed." }
  }
}`
}

func (t *ManageProvidersTool) Execute(ctx context.Context, params map[string]any) Result {
	action := strings.TrimSpace(getString(params, "action"))
	if action == "" {
		action = "status"
	}
	provider := strings.TrimSpace(getString(params, "provider"))
	channelID := strings.TrimSpace(getString(params, "channel_id"))
	meta := map[string]any{"tool_name": t.Name()}

	switch action {
	case "switch":
		if provider == "" {
			return Fail("provider parameter is required for switch", meta)
		}
		if !llm.KnownProvider(provider) {
			return Fail(llm.ErrUnknownProvider(provider).Error(), meta)
		}
		meta["provider_switch"] = true
		meta["provider"] = provider
		return Ok(map[string]any{
			"message":  fmt.Sprintf("Provider switch to %s requested", provider),
			"provider": provider,
			"note":     "The switch takes effect once the current turn completes.",
		}, meta)

	case "list":
		providers := make(map[string]any, len(llm.Known))
		for _, name := range llm.Known {
			info := map[string]any{"available": false}
			if p, ok := t.table.Get(name); ok {
				info["available"] = p.Available()
				info["model"] = p.Model()
			}
			providers[name] = info
		}
		return Ok(map[string]any{
			"providers": providers,
			"default":   t.table.Default(),
		}, meta)

	case "status":
		if channelID == "" {
			return Fail("channel_id parameter is required for status", meta)
		}
		p, name := t.table.Resolve(channelID)
		return Ok(map[string]any{
			"channel_id": channelID,
			"provider":   name,
			"model":      p.Model(),
			"available":  p.Available(),
			"is_custom":  t.table.IsCustom(channelID),
		}, meta)

	default:
		return Fail(fmt.Sprintf("unknown action %q", action), meta)
	}
}
