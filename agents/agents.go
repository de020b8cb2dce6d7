package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Profile is one selectable persona: a system prompt plus the tool
// categories the persona is allowed to use.
type Profile struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools"`
}

type config struct {
	Agents         map[string]Profile  `json:"agents"`
	ToolCategories map[string][]string `json:"tool_categories"`
	DefaultAgent   string              `json:"default_agent"`
}

// Manager loads agent profiles from a JSON file and tracks which agent
// each (user, channel) pair is currently using. Reads never fail: an
// unknown agent or user falls back to the default profile.
type Manager struct {
	mu    sync.RWMutex
	path  string
	cfg   config
	prefs map[string]string
}

// NewManager loads the config at path. A missing or invalid file is
// logged and replaced with an empty config so the process still starts.
func NewManager(path string) *Manager {
	m := &Manager{
		path:  path,
		prefs: make(map[string]string),
	}
	cfg, err := loadConfig(path)
	if err != nil {
		slog.Warn("agents_config_load_error", "path", path, "error", err)
		cfg = emptyConfig()
	}
	m.cfg = cfg
	return m
}

func emptyConfig() config {
	return config{
		Agents:         map[string]Profile{},
		ToolCategories: map[string][]string{},
		DefaultAgent:   "general",
	}
}

func loadConfig(path string) (config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return config{}, err
	}
	var cfg config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return config{}, fmt.Errorf("parse agents config: %w", err)
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]Profile{}
	}
	if cfg.ToolCategories == nil {
		cfg.ToolCategories = map[string][]string{}
	}
	if strings.TrimSpace(cfg.DefaultAgent) == "" {
		cfg.DefaultAgent = "general"
	}
	return cfg, nil
}

// Reload re-reads the config file. On any error the previous config is
// kept and false is returned.
func (m *Manager) Reload() bool {
	cfg, err := loadConfig(m.path)
	if err != nil {
		slog.Warn("agents_config_reload_error", "path", m.path, "error", err)
		return false
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	slog.Info("agents_config_reloaded", "path", m.path, "agents", len(cfg.Agents))
	return true
}

// Default returns the default agent id.
func (m *Manager) Default() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DefaultAgent
}

// Validate reports whether agentID exists in the config.
func (m *Manager) Validate(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cfg.Agents[agentID]
	return ok
}

// Info returns the profile for agentID and whether it exists.
func (m *Manager) Info(agentID string) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.cfg.Agents[agentID]
	return p, ok
}

// Available returns the sorted list of configured agent ids.
func (m *Manager) Available() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.cfg.Agents))
	for id := range m.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns a copy of every configured profile keyed by agent id.
func (m *Manager) All() map[string]Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Profile, len(m.cfg.Agents))
	for id, p := range m.cfg.Agents {
		out[id] = p
	}
	return out
}

func prefKey(userID, channelID string) string {
	return userID + ":" + channelID
}

// SetUserAgent records agentID as the active agent for the (user,
// channel) pair. The agent must exist.
func (m *Manager) SetUserAgent(userID, channelID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cfg.Agents[agentID]; !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	m.prefs[prefKey(userID, channelID)] = agentID
	return nil
}

// UserAgent returns the active agent id for the pair, falling back to
// the default when no preference is set or the preferred agent was
// removed by a reload.
func (m *Manager) UserAgent(userID, channelID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.prefs[prefKey(userID, channelID)]; ok {
		if _, exists := m.cfg.Agents[id]; exists {
			return id
		}
	}
	return m.cfg.DefaultAgent
}

// UserSystemPrompt returns the system prompt of the pair's active
// agent. It never fails: an unconfigured agent yields "".
func (m *Manager) UserSystemPrompt(userID, channelID string) string {
	id := m.UserAgent(userID, channelID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Agents[id].SystemPrompt
}

// AgentTools expands the agent's tool categories into a flat tool-name
// list, preserving category order. Unknown categories expand to nothing.
func (m *Manager) AgentTools(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.cfg.Agents[agentID]
	if !ok {
		return nil
	}
	var names []string
	for _, category := range profile.Tools {
		names = append(names, m.cfg.ToolCategories[category]...)
	}
	return names
}

// UserTools returns the tool names permitted for the pair's active
// agent. It never fails: unknown agents yield the default agent's tools.
func (m *Manager) UserTools(userID, channelID string) []string {
	return m.AgentTools(m.UserAgent(userID, channelID))
}
