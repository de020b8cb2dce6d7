package appwire

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatrelay/chatrelay/agents"
	"github.com/chatrelay/chatrelay/conversation"
	"github.com/chatrelay/chatrelay/internal/configutil"
	"github.com/chatrelay/chatrelay/llm"
	"github.com/chatrelay/chatrelay/relay"
	"github.com/chatrelay/chatrelay/storage"
	"github.com/chatrelay/chatrelay/tools"
)

// Runtime bundles the wired core of the service. Both the HTTP server
// command and the Socket Mode command build one of these from viper.
type Runtime struct {
	Processor *relay.Processor
	Table     *llm.Table
	Store     *conversation.Store
	Agents    *agents.Manager
	Registry  *tools.Registry

	redis *storage.RedisBackend
}

// Build assembles providers, storage, agents, tools and the processor
// from configuration. Redis is optional: when it is configured but
// unreachable the store falls back to memory-only operation.
func Build(ctx context.Context, cmd *cobra.Command) (*Runtime, error) {
	var backend conversation.Backend
	var redisBackend *storage.RedisBackend
	redisAddr := strings.TrimSpace(configutil.FlagOrViperString(cmd, "redis-addr", "redis.addr"))
	if redisAddr != "" {
		redisBackend = storage.NewRedisBackend(storage.RedisConfig{
			Addr:     redisAddr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Prefix:   viper.GetString("redis.prefix"),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisBackend.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("redis_unavailable", "addr", redisAddr, "error", err)
			_ = redisBackend.Close()
			redisBackend = nil
		} else {
			slog.Info("redis_connected", "addr", redisAddr)
			backend = redisBackend
		}
	}

	requestTimeout := configutil.FlagOrViperDuration(cmd, "llm-request-timeout", "llm.request_timeout")
	providers := llm.BuildProviders(llm.Config{
		OpenAI: llm.OpenAIConfig{
			BaseURL:        viper.GetString("openai.base_url"),
			APIKey:         viper.GetString("openai.api_key"),
			Model:          configutil.FlagOrViperString(cmd, "openai-model", "openai.model"),
			RequestTimeout: requestTimeout,
		},
		Ollama: llm.OllamaConfig{
			BaseURL:        viper.GetString("ollama.base_url"),
			Model:          configutil.FlagOrViperString(cmd, "ollama-model", "ollama.model"),
			RequestTimeout: requestTimeout,
		},
	})
	defaultProvider := strings.TrimSpace(configutil.FlagOrViperString(cmd, "provider", "ai.provider"))
	if defaultProvider == "" {
		defaultProvider = "openai"
	}
	table, err := llm.NewTable(providers, defaultProvider)
	if err != nil {
		return nil, err
	}

	agentsPath := strings.TrimSpace(configutil.FlagOrViperString(cmd, "agents-config", "agents.config_path"))
	if agentsPath == "" {
		agentsPath = "agents.json"
	}
	agentMgr := agents.NewManager(agentsPath)

	maxMessages := configutil.FlagOrViperInt(cmd, "max-messages", "conversation.max_messages")
	store := conversation.NewStore(maxMessages, backend)
	if redisBackend != nil {
		restoreConversations(ctx, redisBackend, store)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewWeatherTool())
	registry.Register(tools.NewDocSearchTool(viper.GetString("tools.docs_base_url")))
	registry.Register(tools.NewManageAgentsTool(agentMgr))
	registry.Register(tools.NewManageProvidersTool(table))
	registry.Register(tools.NewManageConversationsTool(store))

	processor := relay.NewProcessor(table, registry, store, agentMgr, relay.Config{
		Temperature: temperatureFromConfig(cmd),
		MaxMessages: maxMessages,
	})

	slog.Info("runtime_ready",
		"default_provider", defaultProvider,
		"tools", registry.Count(),
		"redis", redisBackend != nil,
		"agents_config", agentsPath)

	return &Runtime{
		Processor: processor,
		Table:     table,
		Store:     store,
		Agents:    agentMgr,
		Registry:  registry,
		redis:     redisBackend,
	}, nil
}

// temperatureFromConfig resolves the sampling temperature. Zero is a
// valid explicit setting; the 0.7 default applies only when neither the
// flag nor the config key is set.
func temperatureFromConfig(cmd *cobra.Command) float64 {
	viper.SetDefault("ai.temperature", 0.7)
	return configutil.FlagOrViperFloat64(cmd, "temperature", "ai.temperature")
}

// restoreConversations rehydrates the store from the snapshots Redis
// kept across restarts. Failures are logged and skipped; a restart
// never fails because of a bad stored snapshot.
func restoreConversations(ctx context.Context, backend *storage.RedisBackend, store *conversation.Store) {
	keys, err := backend.Keys(ctx)
	if err != nil {
		slog.Warn("conversation_restore_error", "error", err)
		return
	}
	restored := 0
	for _, key := range keys {
		userID, channelID, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		snap, err := backend.Load(ctx, userID, channelID)
		if err != nil {
			slog.Warn("conversation_restore_error", "channel_id", channelID, "error", err)
			continue
		}
		if snap == nil {
			continue
		}
		if store.Restore(*snap) {
			restored++
		}
	}
	if restored > 0 {
		slog.Info("conversations_restored", "count", restored)
	}
}

func (r *Runtime) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
}
