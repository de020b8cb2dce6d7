package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/jsonutil"
)

type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// OpenAIProvider talks to the hosted OpenAI-compatible chat completions
// API. Tool-call arguments arrive as a JSON-encoded string and are
// parsed into the canonical map form here.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Available() bool { return p.apiKey != "" }

func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
	if !p.Available() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type openAIWireMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIWireMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Tools       []openAIWireTool    `json:"tools,omitempty"`
	ToolChoice  string              `json:"tool_choice,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if p.apiKey == "" {
		return nil, newProviderError("openai", "api key is not configured", nil)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.model
	}

	wire := openAIChatRequest{
		Model:       model,
		Messages:    make([]openAIWireMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ToolChoice:  strings.TrimSpace(req.ToolChoice),
	}
	for _, msg := range req.Messages {
		wire.Messages = append(wire.Messages, openAIWireMessageFrom(msg))
	}
	for _, schema := range req.Tools {
		var t openAIWireTool
		t.Type = "function"
		t.Function.Name = schema.Name
		t.Function.Description = schema.Description
		t.Function.Parameters = schema.Parameters
		wire.Tools = append(wire.Tools, t)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, newProviderError("openai", "marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newProviderError("openai", "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, newProviderError("openai", "request failed", err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, newProviderError("openai", "read response", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newProviderError("openai", fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}

	var out openAIChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, newProviderError("openai", "decode response", err)
	}
	if len(out.Choices) == 0 {
		return nil, newProviderError("openai", "no choices in response", nil)
	}

	result := &ChatResult{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage:   out.Usage,
	}
	if result.Model == "" {
		result.Model = model
	}
	result.ToolCalls = normalizeOpenAIToolCalls(out.Choices[0].Message.ToolCalls)
	return result, nil
}

// normalizeOpenAIToolCalls parses the string-encoded arguments into the
// canonical map form. A call with unparsable arguments is dropped; the
// rest of the batch goes through.
func normalizeOpenAIToolCalls(calls []openAIToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for i, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			continue
		}
		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := jsonutil.DecodeWithFallback(rawArgs, &args); err != nil {
				continue
			}
		}
		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out = append(out, ToolCall{ID: id, Name: name, Arguments: args})
	}
	return out
}

func openAIWireMessageFrom(msg Message) openAIWireMessage {
	wire := openAIWireMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	for _, call := range msg.ToolCalls {
		rawArgs, err := json.Marshal(call.Arguments)
		if err != nil {
			rawArgs = []byte("{}")
		}
		wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
			ID:   call.ID,
			Type: "function",
			Function: openAIToolFunction{
				Name:      call.Name,
				Arguments: string(rawArgs),
			},
		})
	}
	return wire
}
