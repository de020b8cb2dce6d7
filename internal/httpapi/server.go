package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/llm"
	"github.com/chatrelay/chatrelay/relay"
	"github.com/chatrelay/chatrelay/slack"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server exposes the chat, provider-management and Slack webhook
// surface over HTTP. The bearer token guards the /api/ai routes; the
// Slack routes are authenticated by request signature instead.
type Server struct {
	processor *relay.Processor
	verifier  *slack.Verifier
	bot       *slack.Bot
	authToken string
}

type Options struct {
	Processor *relay.Processor
	Verifier  *slack.Verifier
	Bot       *slack.Bot
	AuthToken string
}

func NewServer(opts Options) *Server {
	return &Server{
		processor: opts.Processor,
		verifier:  opts.Verifier,
		bot:       opts.Bot,
		authToken: strings.TrimSpace(opts.AuthToken),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/ai/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("/api/ai/health", s.handleAIHealth)
	mux.HandleFunc("/api/ai/provider/switch", s.withAuth(s.handleProviderSwitch))
	mux.HandleFunc("/api/ai/provider/status/", s.withAuth(s.handleProviderStatus))
	mux.HandleFunc("/api/ai/provider/reset/", s.withAuth(s.handleProviderReset))
	mux.HandleFunc("/api/ai/providers", s.withAuth(s.handleProviders))
	mux.HandleFunc("/api/ai/reload/agents", s.withAuth(s.handleReloadAgents))
	mux.HandleFunc("/slack", s.handleSlackWebhook)
	mux.HandleFunc("/slack/events", s.handleSlackWebhook)
	return mux
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("http_server_start", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// withAuth enforces the bearer token: 401 when absent, 403 when wrong.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if s.authToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeDetail(w, http.StatusForbidden, "Invalid authentication credentials")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "chatrelay",
		"status":  "running",
		"endpoints": map[string]string{
			"chat":      "/api/ai/chat",
			"health":    "/api/ai/health",
			"providers": "/api/ai/providers",
			"slack":     "/slack/events",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "chatrelay",
		"version": Version,
	})
}

type chatRequest struct {
	Message     string   `json:"message"`
	UserID      string   `json:"user_id"`
	ChannelID   string   `json:"channel_id"`
	UseTools    *bool    `json:"use_tools,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ChannelID) == "" {
		writeDetail(w, http.StatusBadRequest, "message, user_id and channel_id are required")
		return
	}
	useTools := true
	if req.UseTools != nil {
		useTools = *req.UseTools
	}

	result := s.processor.ProcessMessage(r.Context(), relay.Request{
		Message:     req.Message,
		UserID:      req.UserID,
		ChannelID:   req.ChannelID,
		UseTools:    useTools,
		Temperature: req.Temperature,
	})

	payload := map[string]any{
		"response": result.Response,
		"provider": result.Provider,
		"model":    result.Model,
		"usage": map[string]int{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		},
		"conversation_history": result.History,
		"conversation_id":      result.ConversationID,
	}
	if result.Err != "" {
		payload["error"] = result.Err
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"tools_count": s.processor.Registry().Count(),
	})
}

type providerSwitchRequest struct {
	ChannelID string `json:"channel_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
}

func (s *Server) providerState(channelID, message string, success bool) map[string]any {
	table := s.processor.Table()
	_, current := table.Resolve(channelID)
	return map[string]any{
		"success":             success,
		"message":             message,
		"current_provider":    current,
		"available_providers": llm.ProviderNames(availableProviders(table)),
	}
}

func availableProviders(table *llm.Table) map[string]llm.Provider {
	out := make(map[string]llm.Provider)
	for _, name := range llm.Known {
		if p, ok := table.Get(name); ok && p.Available() {
			out[name] = p
		}
	}
	return out
}

func (s *Server) handleProviderSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req providerSwitchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	channelID := strings.TrimSpace(req.ChannelID)
	provider := strings.TrimSpace(req.Provider)
	if channelID == "" || provider == "" {
		writeDetail(w, http.StatusBadRequest, "channel_id and provider are required")
		return
	}
	// invalid provider is a business outcome, not an HTTP error
	if err := s.processor.Table().Set(channelID, provider); err != nil {
		writeJSON(w, http.StatusOK, s.providerState(channelID, err.Error(), false))
		return
	}
	slog.Info("provider_switched", "channel_id", channelID, "provider", provider)
	writeJSON(w, http.StatusOK, s.providerState(channelID, "Switched channel "+channelID+" to "+provider, true))
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	channelID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/ai/provider/status/"))
	if channelID == "" || strings.Contains(channelID, "/") {
		writeDetail(w, http.StatusBadRequest, "channel_id is required")
		return
	}
	table := s.processor.Table()
	_, current := table.Resolve(channelID)
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id":          channelID,
		"current_provider":    current,
		"default_provider":    table.Default(),
		"available_providers": llm.ProviderNames(availableProviders(table)),
		"is_custom":           table.IsCustom(channelID),
	})
}

func (s *Server) handleProviderReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	channelID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/ai/provider/reset/"))
	if channelID == "" || strings.Contains(channelID, "/") {
		writeDetail(w, http.StatusBadRequest, "channel_id is required")
		return
	}
	s.processor.Table().Reset(channelID)
	slog.Info("provider_reset", "channel_id", channelID)
	writeJSON(w, http.StatusOK, s.providerState(channelID, "Reset channel "+channelID+" to the default provider", true))
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	table := s.processor.Table()
	writeJSON(w, http.StatusOK, map[string]any{
		"available_providers": llm.ProviderNames(availableProviders(table)),
		"default_provider":    table.Default(),
		"channel_providers":   table.Snapshot(),
	})
}

func (s *Server) handleReloadAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	agentMgr := s.processor.Agents()
	if !agentMgr.Reload() {
		writeDetail(w, http.StatusInternalServerError, "Failed to reload agents configuration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Agents configuration reloaded",
		"agents_count": len(agentMgr.Available()),
	})
}

// handleSlackWebhook acknowledges events quickly and processes chat
// messages in the background; processing errors are reported to the
// originating channel by the bot, never to Slack's delivery retries.
func (s *Server) handleSlackWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Slack webhook endpoint is active"})
		return
	case http.MethodPost:
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Unreadable body")
		return
	}
	if s.verifier == nil || !s.verifier.VerifyRequest(r, body) {
		slog.Warn("slack_signature_invalid", "path", r.URL.Path)
		writeDetail(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	env, err := slack.ParseEnvelope(body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if env.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if s.bot != nil {
		if event, ok := slack.ParseMessageEvent(env, s.bot.BotUserID()); ok {
			go s.bot.HandleMessage(context.Background(), event)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
