package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/agents"
	"github.com/chatrelay/chatrelay/conversation"
	"github.com/chatrelay/chatrelay/llm"
	"github.com/chatrelay/chatrelay/tools"
)

// Request is one inbound chat turn.
type Request struct {
	Message     string
	UserID      string
	ChannelID   string
	UseTools    bool
	Temperature *float64
}

// TurnResult is what every turn returns. Err is set when the provider
// failed; the caller still gets a user-presentable Response and the
// turn never surfaces a Go error for provider failures.
type TurnResult struct {
	Response       string
	Provider       string
	Model          string
	Usage          llm.Usage
	History        []conversation.SnapshotMessage
	ConversationID string
	Err            string
}

// Processor orchestrates one chat turn: resolve provider and agent,
// record the user message, dispatch to the model, run requested tools,
// redispatch once with the tool outputs, and persist the final answer.
type Processor struct {
	table       *llm.Table
	registry    *tools.Registry
	store       *conversation.Store
	agents      *agents.Manager
	temperature float64
	maxMessages int

	lockMu   sync.Mutex
	chanLock map[string]*sync.Mutex
}

type Config struct {
	Temperature float64
	MaxMessages int
}

func NewProcessor(table *llm.Table, registry *tools.Registry, store *conversation.Store, agentMgr *agents.Manager, cfg Config) *Processor {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	return &Processor{
		table:       table,
		registry:    registry,
		store:       store,
		agents:      agentMgr,
		temperature: cfg.Temperature,
		maxMessages: cfg.MaxMessages,
		chanLock:    make(map[string]*sync.Mutex),
	}
}

// Table exposes the provider routing table for the management surface.
func (p *Processor) Table() *llm.Table { return p.table }

// Registry exposes the tool registry for the management surface.
func (p *Processor) Registry() *tools.Registry { return p.registry }

// Store exposes the conversation store for the management surface.
func (p *Processor) Store() *conversation.Store { return p.store }

// Agents exposes the agent manager for the management surface.
func (p *Processor) Agents() *agents.Manager { return p.agents }

// channelLock serializes turns per channel. Turns for different
// channels run concurrently; within one channel the shared conversation
// is read-modify-write, so concurrent turns would race.
func (p *Processor) channelLock(channelID string) *sync.Mutex {
	p.lockMu.Lock()
	defer p.lockMu.Unlock()
	mu, ok := p.chanLock[channelID]
	if !ok {
		mu = &sync.Mutex{}
		p.chanLock[channelID] = mu
	}
	return mu
}

// ProcessMessage runs one full chat turn. Provider failures are folded
// into the result; only the short-circuit on an unconfigured provider
// skips the conversation store entirely.
func (p *Processor) ProcessMessage(ctx context.Context, req Request) *TurnResult {
	turnID := uuid.NewString()
	mu := p.channelLock(req.ChannelID)
	mu.Lock()
	defer mu.Unlock()

	provider, providerName := p.table.Resolve(req.ChannelID)
	if !provider.Available() {
		slog.Warn("provider_unavailable", "turn_id", turnID, "provider", providerName, "channel_id", req.ChannelID)
		return &TurnResult{
			Response: fmt.Sprintf("The %s provider is not available right now. Please try again later or switch providers.", providerName),
			Provider: providerName,
			Model:    provider.Model(),
			Err:      fmt.Sprintf("provider %s unavailable", providerName),
		}
	}

	systemPrompt := p.agents.UserSystemPrompt(req.UserID, req.ChannelID)
	permittedTools := p.agents.UserTools(req.UserID, req.ChannelID)
	history := p.store.Context(req.ChannelID, p.maxMessages)

	conv := p.store.AddUserMessage(ctx, req.UserID, req.ChannelID, req.Message, providerName, provider.Model())

	messages := make([]llm.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	chatReq := llm.ChatRequest{
		Messages:    messages,
		Temperature: temperature,
	}
	// an agent with no permitted tools dispatches without schemas
	if req.UseTools && len(permittedTools) > 0 {
		chatReq.Tools = p.registry.Schemas(permittedTools)
	}

	result, err := provider.ChatCompletion(ctx, chatReq)
	if err != nil {
		return p.failTurn(ctx, req, turnID, providerName, conv.ID, err)
	}

	if len(result.ToolCalls) > 0 {
		executed := p.runTools(ctx, req, result.ToolCalls)
		p.applyDirectives(req, executed)

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, ex := range executed {
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    ex.encoded,
				ToolCallID: ex.callID,
			})
		}

		final, err := provider.ChatCompletion(ctx, llm.ChatRequest{
			Messages:    messages,
			Temperature: temperature,
		})
		if err != nil {
			return p.failTurn(ctx, req, turnID, providerName, conv.ID, err)
		}
		result = final
	}

	p.store.AddAssistantMessage(ctx, req.ChannelID, result.Content)
	slog.Info("turn_complete",
		"turn_id", turnID,
		"channel_id", req.ChannelID,
		"user_id", req.UserID,
		"provider", providerName,
		"model", result.Model,
		"total_tokens", result.Usage.TotalTokens,
	)

	return &TurnResult{
		Response:       result.Content,
		Provider:       providerName,
		Model:          result.Model,
		Usage:          result.Usage,
		History:        p.boundedHistory(req.ChannelID),
		ConversationID: conv.ID,
	}
}

type executedCall struct {
	callID  string
	name    string
	result  tools.Result
	encoded string
}

// runTools executes the batch in call order. A missing tool or a failed
// execution is logged and skipped; the rest of the batch proceeds.
func (p *Processor) runTools(ctx context.Context, req Request, calls []llm.ToolCall) []executedCall {
	var executed []executedCall
	for _, call := range calls {
		tool, ok := p.registry.Get(call.Name)
		if !ok {
			slog.Warn("tool_not_found", "tool", call.Name, "channel_id", req.ChannelID)
			continue
		}
		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}
		// give identity-aware tools the caller's context
		if _, set := args["user_id"]; !set {
			args["user_id"] = req.UserID
		}
		if _, set := args["channel_id"]; !set {
			args["channel_id"] = req.ChannelID
		}

		res := tool.Execute(ctx, args)
		if !res.OK {
			slog.Warn("tool_failed", "tool", call.Name, "error", res.Err)
		}
		encoded := res.Encode()
		p.store.AddToolResult(ctx, req.ChannelID, call.Name, encoded)
		executed = append(executed, executedCall{
			callID:  call.ID,
			name:    call.Name,
			result:  res,
			encoded: encoded,
		})
	}
	return executed
}

// applyDirectives commits agent and provider switches requested by tool
// results. Directives are applied only after the whole batch finished,
// so they affect the next turn, never the remaining calls of this one.
func (p *Processor) applyDirectives(req Request, executed []executedCall) {
	for _, ex := range executed {
		if ex.result.Meta == nil {
			continue
		}
		if ex.result.Meta["agent_switch"] == true {
			if agentID, _ := ex.result.Meta["new_agent_id"].(string); agentID != "" {
				if err := p.agents.SetUserAgent(req.UserID, req.ChannelID, agentID); err != nil {
					slog.Warn("agent_switch_rejected", "agent_id", agentID, "error", err)
				} else {
					slog.Info("agent_switched", "agent_id", agentID, "user_id", req.UserID, "channel_id", req.ChannelID)
				}
			}
		}
		if ex.result.Meta["provider_switch"] == true {
			name, _ := ex.result.Meta["provider"].(string)
			target, ok := p.table.Get(name)
			if !ok || !target.Available() {
				slog.Warn("provider_switch_rejected", "provider", name, "channel_id", req.ChannelID)
				continue
			}
			if err := p.table.Set(req.ChannelID, name); err != nil {
				slog.Warn("provider_switch_rejected", "provider", name, "error", err)
				continue
			}
			slog.Info("provider_switched", "provider", name, "channel_id", req.ChannelID)
		}
	}
}

// failTurn records the provider failure in the conversation and folds
// it into a normal-shaped result.
func (p *Processor) failTurn(ctx context.Context, req Request, turnID, providerName, conversationID string, err error) *TurnResult {
	slog.Error("turn_error", "turn_id", turnID, "channel_id", req.ChannelID, "provider", providerName, "error", err)
	apology := fmt.Sprintf("Sorry, I encountered an error: %v", err)
	p.store.AddAssistantMessage(ctx, req.ChannelID, apology)
	return &TurnResult{
		Response:       apology,
		Provider:       providerName,
		History:        p.boundedHistory(req.ChannelID),
		ConversationID: conversationID,
		Err:            err.Error(),
	}
}

func (p *Processor) boundedHistory(channelID string) []conversation.SnapshotMessage {
	ctxMsgs := p.store.Context(channelID, p.maxMessages)
	out := make([]conversation.SnapshotMessage, 0, len(ctxMsgs))
	for _, msg := range ctxMsgs {
		out = append(out, conversation.SnapshotMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
