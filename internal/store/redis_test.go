package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia/conversia/internal/models"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) *RedisConversationStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisConversationStoreFromClient(client, opts...)
}

func TestRedisConversationStoreRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)

	conv, err := s.GetConversation("acme", "5511999")
	require.NoError(t, err)
	assert.Nil(t, conv, "absent conversation must be nil, not an error")

	c := models.Conversation{ID: "c1", TenantID: "acme", PartyID: "5511999", CurrentBlockID: "B", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveConversation(c))

	conv, err = s.GetConversation("acme", "5511999")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, "B", conv.CurrentBlockID)

	// Tenant scoping: same party under another tenant is separate.
	conv, err = s.GetConversation("other", "5511999")
	require.NoError(t, err)
	assert.Nil(t, conv)

	require.NoError(t, s.DeleteConversation("acme", "5511999"))
	conv, err = s.GetConversation("acme", "5511999")
	require.NoError(t, err)
	assert.Nil(t, conv)

	// Deleting absent state is not an error.
	assert.NoError(t, s.DeleteConversation("acme", "5511999"))
}

func TestRedisConversationStoreValidation(t *testing.T) {
	s := newTestRedisStore(t)

	err := s.SaveConversation(models.Conversation{PartyID: "5511999"})
	assert.ErrorIs(t, err, models.ErrEmptyTenantID)

	err = s.SaveConversation(models.Conversation{TenantID: "acme"})
	assert.ErrorIs(t, err, models.ErrEmptyPartyID)
}

func TestRedisConversationStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisConversationStoreFromClient(client, WithConversationTTL(time.Minute), WithKeyPrefix("test:conv:"))

	require.NoError(t, s.SaveConversation(models.Conversation{ID: "c1", TenantID: "acme", PartyID: "5511999", CurrentBlockID: "A"}))
	assert.True(t, mr.Exists("test:conv:acme:5511999"))

	mr.FastForward(2 * time.Minute)

	conv, err := s.GetConversation("acme", "5511999")
	require.NoError(t, err)
	assert.Nil(t, conv, "conversation should expire after its TTL")
}
