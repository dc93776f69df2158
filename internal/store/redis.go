// Package store provides storage backends for Conversia.
//
// This file implements a Redis-backed conversation store for deployments
// that want conversation positions to survive process restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/conversia/conversia/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultConversationTTL bounds how long an abandoned conversation is kept.
const DefaultConversationTTL = 30 * 24 * time.Hour

// RedisConversationStore implements ConversationStore on Redis.
type RedisConversationStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisConversationStore.
type RedisOption func(*RedisConversationStore)

// WithConversationTTL sets the expiration for stored conversations.
func WithConversationTTL(ttl time.Duration) RedisOption {
	return func(s *RedisConversationStore) { s.ttl = ttl }
}

// WithKeyPrefix sets the key prefix for conversation entries.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisConversationStore) { s.prefix = prefix }
}

// NewRedisConversationStore creates a store over a new Redis client.
func NewRedisConversationStore(addr, password string, db int, opts ...RedisOption) *RedisConversationStore {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedisConversationStoreFromClient(client, opts...)
}

// NewRedisConversationStoreFromClient creates a store from an existing client.
func NewRedisConversationStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisConversationStore {
	s := &RedisConversationStore{
		client: client,
		prefix: "conversia:conversation:",
		ttl:    DefaultConversationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisConversationStore) key(tenantID, partyID string) string {
	return s.prefix + tenantID + ":" + partyID
}

// GetConversation returns the party's conversation state, or nil.
func (s *RedisConversationStore) GetConversation(tenantID, partyID string) (*models.Conversation, error) {
	data, err := s.client.Get(context.Background(), s.key(tenantID, partyID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisConversationStore GetConversation failed", "error", err, "tenantID", tenantID, "partyID", partyID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var c models.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Error("RedisConversationStore GetConversation unmarshal failed", "error", err, "tenantID", tenantID, "partyID", partyID)
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &c, nil
}

// SaveConversation stores or replaces the party's conversation state.
func (s *RedisConversationStore) SaveConversation(c models.Conversation) error {
	if c.TenantID == "" {
		return models.ErrEmptyTenantID
	}
	if c.PartyID == "" {
		return models.ErrEmptyPartyID
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := s.client.Set(context.Background(), s.key(c.TenantID, c.PartyID), data, s.ttl).Err(); err != nil {
		slog.Error("RedisConversationStore SaveConversation failed", "error", err, "tenantID", c.TenantID, "partyID", c.PartyID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the party's conversation state.
func (s *RedisConversationStore) DeleteConversation(tenantID, partyID string) error {
	if err := s.client.Del(context.Background(), s.key(tenantID, partyID)).Err(); err != nil {
		slog.Error("RedisConversationStore DeleteConversation failed", "error", err, "tenantID", tenantID, "partyID", partyID)
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisConversationStore) Close() error {
	return s.client.Close()
}
