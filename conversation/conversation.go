package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is one stored conversation turn. Role is one of "system",
// "user", "assistant" or "tool".
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is the shared history of one channel. Every user posting
// in the channel appends to the same conversation.
type Conversation struct {
	ID        string
	UserID    string
	ChannelID string
	Provider  string
	Model     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
}

// Snapshot is the minimal persisted form of a conversation. Tool
// messages are transient and excluded.
type Snapshot struct {
	UserID    string            `json:"user_id"`
	ChannelID string            `json:"channel_id"`
	Messages  []SnapshotMessage `json:"messages"`
}

type SnapshotMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend persists conversation snapshots. Implementations must be safe
// for concurrent use; errors degrade the store to memory-only.
type Backend interface {
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, userID, channelID string) error
}

// Store keeps per-channel conversations in memory, bounded to a maximum
// message count, with optional write-through persistence.
type Store struct {
	mu        sync.Mutex
	byChannel map[string]*Conversation
	capacity  int
	backend   Backend
}

// NewStore builds a store keeping at most capacity messages per
// conversation. backend may be nil for memory-only operation.
func NewStore(capacity int, backend Backend) *Store {
	if capacity <= 0 {
		capacity = 50
	}
	return &Store{
		byChannel: make(map[string]*Conversation),
		capacity:  capacity,
		backend:   backend,
	}
}

func newConversationID(channelID string, now time.Time) string {
	return fmt.Sprintf("shared_%s_%s", channelID, now.UTC().Format("20060102_150405"))
}

func (s *Store) getOrCreateLocked(channelID, provider, model string) *Conversation {
	if conv, ok := s.byChannel[channelID]; ok {
		return conv
	}
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        newConversationID(channelID, now),
		UserID:    "shared",
		ChannelID: channelID,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{"source": "slack", "type": "shared_channel"},
	}
	s.byChannel[channelID] = conv
	slog.Info("conversation_created", "conversation_id", conv.ID, "channel_id", channelID)
	return conv
}

func (c *Conversation) append(role, content string, metadata map[string]any) {
	now := time.Now().UTC()
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	})
	c.UpdatedAt = now
}

// AddUserMessage appends a user turn to the channel's conversation,
// creating it if needed. The content is tagged with the sender so the
// shared history keeps speakers apart.
func (s *Store) AddUserMessage(ctx context.Context, userID, channelID, content, provider, model string) *Conversation {
	s.mu.Lock()
	conv := s.getOrCreateLocked(channelID, provider, model)
	conv.append("user", fmt.Sprintf("[%s]: %s", userID, content), map[string]any{"sender_user_id": userID})
	s.trimLocked(conv)
	snap := conv.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return conv
}

// AddAssistantMessage appends an assistant turn. It is a no-op
// returning nil when the channel has no conversation yet.
func (s *Store) AddAssistantMessage(ctx context.Context, channelID, content string) *Conversation {
	s.mu.Lock()
	conv, ok := s.byChannel[channelID]
	if !ok {
		s.mu.Unlock()
		slog.Warn("conversation_missing", "channel_id", channelID)
		return nil
	}
	conv.append("assistant", content, nil)
	s.trimLocked(conv)
	snap := conv.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return conv
}

// AddToolResult records a tool execution in the channel's conversation.
// Tool turns are visible in history but never persisted or sent to the
// model. No-op returning nil when the channel has no conversation.
func (s *Store) AddToolResult(ctx context.Context, channelID, toolName, result string) *Conversation {
	s.mu.Lock()
	conv, ok := s.byChannel[channelID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	conv.append("tool", fmt.Sprintf("Tool %s executed: %s", toolName, result), nil)
	snap := conv.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return conv
}

// Restore seeds the channel's conversation from a persisted snapshot,
// typically at startup. A live in-memory conversation wins; it reports
// whether the snapshot was applied.
func (s *Store) Restore(snap Snapshot) bool {
	channelID := strings.TrimSpace(snap.ChannelID)
	if channelID == "" || len(snap.Messages) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byChannel[channelID]; ok {
		return false
	}
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        newConversationID(channelID, now),
		UserID:    "shared",
		ChannelID: channelID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{"source": "slack", "type": "shared_channel", "restored": true},
	}
	for _, msg := range snap.Messages {
		conv.Messages = append(conv.Messages, Message{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: now,
		})
	}
	s.trimLocked(conv)
	s.byChannel[channelID] = conv
	slog.Info("conversation_restored", "conversation_id", conv.ID, "channel_id", channelID, "messages", len(conv.Messages))
	return true
}

// Context returns the model-facing view of the channel's history: the
// user and assistant turns within the last max messages, oldest first.
// System and tool turns are excluded.
func (s *Store) Context(channelID string, max int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byChannel[channelID]
	if !ok {
		return nil
	}
	if max <= 0 {
		max = s.capacity
	}
	window := conv.Messages
	if len(window) > max {
		window = window[len(window)-max:]
	}
	out := make([]Message, 0, len(window))
	for _, msg := range window {
		if msg.Role == "user" || msg.Role == "assistant" {
			out = append(out, msg)
		}
	}
	return out
}

// Get returns the channel's conversation, if any.
func (s *Store) Get(channelID string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byChannel[channelID]
	return conv, ok
}

// Clear drops the channel's conversation from memory and the backend.
// It reports whether a conversation existed.
func (s *Store) Clear(ctx context.Context, channelID string) bool {
	s.mu.Lock()
	_, ok := s.byChannel[channelID]
	delete(s.byChannel, channelID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.backend != nil {
		if err := s.backend.Delete(ctx, "shared", channelID); err != nil {
			slog.Warn("conversation_delete_error", "channel_id", channelID, "error", err)
		}
	}
	slog.Info("conversation_cleared", "channel_id", channelID)
	return true
}

// Cleanup evicts the oldest conversations by update time until at most
// max remain. max <= 0 disables cleanup. Returns the eviction count.
func (s *Store) Cleanup(max int) int {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byChannel) <= max {
		return 0
	}
	type entry struct {
		channelID string
		updatedAt time.Time
	}
	entries := make([]entry, 0, len(s.byChannel))
	for id, conv := range s.byChannel {
		entries = append(entries, entry{id, conv.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})
	removed := 0
	for _, e := range entries[:len(entries)-max] {
		delete(s.byChannel, e.channelID)
		removed++
	}
	slog.Info("conversations_cleaned_up", "removed", removed)
	return removed
}

// Stats summarizes the store for diagnostics.
type Stats struct {
	TotalConversations int    `json:"total_conversations"`
	TotalMessages      int    `json:"total_messages"`
	MaxMessages        int    `json:"max_messages_per_conversation"`
	StorageType        string `json:"storage_type"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		TotalConversations: len(s.byChannel),
		MaxMessages:        s.capacity,
		StorageType:        "in-memory",
	}
	if s.backend != nil {
		stats.StorageType = "redis"
	}
	for _, conv := range s.byChannel {
		stats.TotalMessages += len(conv.Messages)
	}
	return stats
}

// Channels returns the channel ids with a live conversation, sorted.
func (s *Store) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byChannel))
	for id := range s.byChannel {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// trimLocked enforces the message cap: system turns survive, the rest
// is cut to the most recent capacity entries in original order.
func (s *Store) trimLocked(conv *Conversation) {
	if len(conv.Messages) <= s.capacity {
		return
	}
	var system, rest []Message
	for _, msg := range conv.Messages {
		if msg.Role == "system" {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) > s.capacity {
		rest = rest[len(rest)-s.capacity:]
	}
	conv.Messages = append(system, rest...)
	slog.Info("conversation_trimmed", "conversation_id", conv.ID, "messages", len(conv.Messages))
}

func (c *Conversation) snapshot() Snapshot {
	snap := Snapshot{UserID: c.UserID, ChannelID: c.ChannelID}
	for _, msg := range c.Messages {
		if msg.Role == "tool" {
			continue
		}
		snap.Messages = append(snap.Messages, SnapshotMessage{Role: msg.Role, Content: msg.Content})
	}
	return snap
}

func (s *Store) persist(ctx context.Context, snap Snapshot) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Save(ctx, snap); err != nil {
		slog.Warn("conversation_save_error", "channel_id", snap.ChannelID, "error", err)
	}
}
