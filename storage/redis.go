package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/chatrelay/conversation"
)

const defaultPrefix = "chatrelay:conversation:"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend persists conversation snapshots in Redis. One key per
// channel conversation; keys live until explicitly deleted.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

// Ping verifies connectivity. Callers use it at startup to decide
// whether to fall back to memory-only conversations.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) key(userID, channelID string) string {
	return b.prefix + userID + ":" + channelID
}

func (b *RedisBackend) Save(ctx context.Context, snap conversation.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return b.client.Set(ctx, b.key(snap.UserID, snap.ChannelID), raw, 0).Err()
}

// Load returns the stored snapshot, or nil when none exists.
func (b *RedisBackend) Load(ctx context.Context, userID, channelID string) (*conversation.Snapshot, error) {
	raw, err := b.client.Get(ctx, b.key(userID, channelID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap conversation.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &snap, nil
}

func (b *RedisBackend) Delete(ctx context.Context, userID, channelID string) error {
	return b.client.Del(ctx, b.key(userID, channelID)).Err()
}

// Keys lists the stored conversation identities ("user:channel").
func (b *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), b.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
