package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/agents"
	"github.com/chatrelay/chatrelay/conversation"
	"github.com/chatrelay/chatrelay/llm"
	"github.com/chatrelay/chatrelay/relay"
	"github.com/chatrelay/chatrelay/slack"
	"github.com/chatrelay/chatrelay/tools"
)

const testToken = "secret-token"

type stubProvider struct {
	name      string
	model     string
	available bool
	results   []*llm.ChatResult
	calls     int
}

func (s *stubProvider) Name() string                       { return s.name }
func (s *stubProvider) Model() string                      { return s.model }
func (s *stubProvider) Available() bool                    { return s.available }
func (s *stubProvider) HealthCheck(context.Context) bool   { return s.available }
func (s *stubProvider) ChatCompletion(_ context.Context, _ llm.ChatRequest) (*llm.ChatResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &llm.ChatResult{Content: "done", Model: s.model}, nil
}

func newTestServer(t *testing.T) (*Server, *llm.Table) {
	t.Helper()
	stub := &stubProvider{name: "openai", model: "gpt-4", available: true,
		results: []*llm.ChatResult{{Content: "Hello!", Model: "gpt-4", Usage: llm.Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10}}}}
	providers := map[string]llm.Provider{
		"openai": stub,
		"ollama": llm.NewOllamaProvider(llm.OllamaConfig{BaseURL: "http://localhost:11434"}),
	}
	table, err := llm.NewTable(providers, "openai")
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	agentsPath := filepath.Join(t.TempDir(), "agents.json")
	content := `{
  "agents": {"general": {"name": "General", "system_prompt": "You are helpful.", "tools": ["general"]}},
  "tool_categories": {"general": ["get_weather"]},
  "default_agent": "general"
}`
	if err := os.WriteFile(agentsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewWeatherTool())
	store := conversation.NewStore(50, nil)
	processor := relay.NewProcessor(table, registry, store, agents.NewManager(agentsPath), relay.Config{Temperature: 0.7})

	srv := NewServer(Options{
		Processor: processor,
		Verifier:  slack.NewVerifier("signing-secret"),
		AuthToken: testToken,
	})
	return srv, table
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestChatEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/ai/chat", testToken,
		map[string]any{"message": "Hi", "user_id": "u1", "channel_id": "c1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["response"] != "Hello!" || out["provider"] != "openai" || out["model"] != "gpt-4" {
		t.Fatalf("unexpected payload %v", out)
	}
	usage, ok := out["usage"].(map[string]any)
	if !ok || usage["total_tokens"] != float64(10) {
		t.Fatalf("unexpected usage %v", out["usage"])
	}
	history, ok := out["conversation_history"].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("unexpected history %v", out["conversation_history"])
	}
	first := history[0].(map[string]any)
	second := history[1].(map[string]any)
	if first["role"] != "user" || first["content"] != "[u1]: Hi" {
		t.Fatalf("unexpected first entry %v", first)
	}
	if second["role"] != "assistant" || second["content"] != "Hello!" {
		t.Fatalf("unexpected second entry %v", second)
	}
	if _, present := out["error"]; present {
		t.Fatalf("clean turn carried an error field: %v", out)
	}
	if id, _ := out["conversation_id"].(string); !strings.HasPrefix(id, "shared_c1_") {
		t.Fatalf("unexpected conversation id %v", out["conversation_id"])
	}
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/ai/chat", testToken,
		map[string]any{"message": "", "user_id": "u1", "channel_id": "c1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/ai/chat", "",
		map[string]any{"message": "Hi", "user_id": "u1", "channel_id": "c1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if decode(t, rec)["detail"] != "Not authenticated" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/ai/chat", "wrong-token",
		map[string]any{"message": "Hi", "user_id": "u1", "channel_id": "c1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", rec.Code)
	}
}

func TestAIHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/ai/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "healthy" || out["tools_count"] != float64(1) {
		t.Fatalf("unexpected payload %v", out)
	}
}

func TestProviderSwitch(t *testing.T) {
	srv, table := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/ai/provider/switch", testToken,
		map[string]any{"channel_id": "c1", "provider": "ollama"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if out := decode(t, rec); out["success"] != true || out["current_provider"] != "ollama" {
		t.Fatalf("switch rejected: %v", out)
	}
	if _, name := table.Resolve("c1"); name != "ollama" {
		t.Fatalf("table not updated, resolved %q", name)
	}

	// unknown provider is a failed outcome, not an HTTP error
	rec = doJSON(t, h, http.MethodPost, "/api/ai/provider/switch", testToken,
		map[string]any{"channel_id": "c1", "provider": "nope"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	out := decode(t, rec)
	if out["success"] != false {
		t.Fatalf("expected success=false, got %v", out)
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "unknown provider") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestProviderStatusAndReset(t *testing.T) {
	srv, table := newTestServer(t)
	h := srv.Handler()
	if err := table.Set("c9", "ollama"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/ai/provider/status/c9", testToken, nil)
	out := decode(t, rec)
	if out["channel_id"] != "c9" || out["current_provider"] != "ollama" || out["is_custom"] != true {
		t.Fatalf("unexpected status %v", out)
	}
	if out["default_provider"] != "openai" {
		t.Fatalf("unexpected default %v", out)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/ai/provider/reset/c9", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if _, name := table.Resolve("c9"); name != "openai" {
		t.Fatalf("reset did not apply, resolved %q", name)
	}
}

func TestListProviders(t *testing.T) {
	srv, table := newTestServer(t)
	if err := table.Set("c2", "ollama"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/ai/providers", testToken, nil)
	out := decode(t, rec)
	if out["default_provider"] != "openai" {
		t.Fatalf("unexpected default %v", out)
	}
	channels, ok := out["channel_providers"].(map[string]any)
	if !ok || channels["c2"] != "ollama" {
		t.Fatalf("unexpected channel map %v", out["channel_providers"])
	}
}

func TestReloadAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ai/reload/agents", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["success"] != true || out["agents_count"] != float64(1) {
		t.Fatalf("unexpected payload %v", out)
	}
}

func TestSlackWebhookChallenge(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	verifier := slack.NewVerifier("signing-secret")

	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", verifier.Sign(body, ts))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["challenge"] != "abc123" {
		t.Fatalf("challenge not echoed: %s", rec.Body.String())
	}
}

func TestSlackWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSlackWebhookGetLiveness(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/slack", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
