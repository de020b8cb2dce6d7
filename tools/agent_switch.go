package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatrelay/chatrelay/agents"
)

// ManageAgentsTool lets the model switch, list and inspect agent
// personas. A successful switch carries an agent_switch directive in
// the result metadata; the orchestrator applies it after the batch.
type ManageAgentsTool struct {
	agents *agents.Manager
}

func NewManageAgentsTool(m *agents.Manager) *ManageAgentsTool {
	return &ManageAgentsTool{agents: m}
}

func (t *ManageAgentsTool) Name() string { return "manage_agents" }

func (t *ManageAgentsTool) Description() string {
	return "Switch the active AI agent for the current user and channel, or list and inspect available agents."
}

func (t *ManageAgentsTool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "action": { "type": "string", "enum": ["switch", "list", "current", "info"], "description": "Operation to perform (default current)." },
    "agent_id": { "type": "string", "description": "Target agent for switch/info." },
    "user_id": { "type": "string", "description": "Requesting user (required for switch/current)." },
    "channel_id": { "type": "string", "description": "Channel of the conversation (required for switch/current)." }
  }
}`
}

func (t *ManageAgentsTool) Execute(ctx context.Context, params map[string]any) Result {
	action := strings.TrimSpace(getString(params, "action"))
	if action == "" {
		action = "current"
	}
	agentID := strings.TrimSpace(getString(params, "agent_id"))
	userID := strings.TrimSpace(getString(params, "user_id"))
	channelID := strings.TrimSpace(getString(params, "channel_id"))
	meta := map[string]any{"tool_name": t.Name()}

	switch action {
	case "switch":
		if agentID == "" || userID == "" || channelID == "" {
			return Fail("agent_id, user_id and channel_id are required for switch", meta)
		}
		profile, ok := t.agents.Info(agentID)
		if !ok {
			return Fail(fmt.Sprintf("agent %q not found, available: %v", agentID, t.agents.Available()), meta)
		}
		if err := t.agents.SetUserAgent(userID, channelID, agentID); err != nil {
			return Fail(err.Error(), meta)
		}
		meta["agent_switch"] = true
		meta["new_agent_id"] = agentID
		return Ok(map[string]any{
			"message":     fmt.Sprintf("Switched to the %s agent", profile.Name),
			"agent_id":    agentID,
			"agent_name":  profile.Name,
			"description": profile.Description,
			"tools":       t.agents.AgentTools(agentID),
		}, meta)

	case "list":
		return Ok(map[string]any{
			"agents":       t.agents.All(),
			"total_agents": len(t.agents.Available()),
		}, meta)

	case "current":
		if userID == "" || channelID == "" {
			return Fail("user_id and channel_id are required for current", meta)
		}
		current := t.agents.UserAgent(userID, channelID)
		profile, _ := t.agents.Info(current)
		return Ok(map[string]any{
			"current_agent": current,
			"agent_info":    profile,
		}, meta)

	case "info":
		if agentID == "" {
			return Fail("agent_id is required for info", meta)
		}
		profile, ok := t.agents.Info(agentID)
		if !ok {
			return Fail(fmt.Sprintf("agent %q not found", agentID), meta)
		}
		return Ok(map[string]any{
			"agent_id":   agentID,
			"agent_info": profile,
		}, meta)

	default:
		return Fail(fmt.Sprintf("unknown action %q", action), meta)
	}
}
