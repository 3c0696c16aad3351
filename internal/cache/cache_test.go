package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pandora-chat/internal/kvstore"
	"pandora-chat/internal/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(kvstore.NewMemoryStore(), 0)
	ctx := context.Background()

	msgs := []models.Message{
		{ID: "m1", Text: "hi", Sender: "alice", Recipient: "bob", CreatedAtMs: 100},
		{ID: "m2", Text: "yo", Sender: "bob", Recipient: "alice", CreatedAtMs: 200},
	}
	require.NoError(t, c.SaveMessages(ctx, "alice", "bob", msgs))

	loaded := c.LoadMessages(ctx, "alice", "bob")
	require.Len(t, loaded, 2)
	assert.Equal(t, "m1", loaded[0].ID)
	assert.Equal(t, models.OriginRemote, loaded[0].Origin)
}

func TestSaveSkipsOptimisticMessages(t *testing.T) {
	c := New(kvstore.NewMemoryStore(), 0)
	ctx := context.Background()

	msgs := []models.Message{
		{ID: "m1", Text: "confirmed", CreatedAtMs: 100},
		{ID: models.LocalIDPrefix + "x", Text: "pending", CreatedAtMs: 200, Origin: models.OriginLocal},
	}
	require.NoError(t, c.SaveMessages(ctx, "alice", "bob", msgs))

	loaded := c.LoadMessages(ctx, "alice", "bob")
	require.Len(t, loaded, 1)
	assert.Equal(t, "m1", loaded[0].ID)
}

func TestSaveCapsToNewestEntries(t *testing.T) {
	c := New(kvstore.NewMemoryStore(), 3)
	ctx := context.Background()

	msgs := make([]models.Message, 5)
	for i := range msgs {
		msgs[i] = models.Message{ID: fmt.Sprintf("m%d", i), CreatedAtMs: int64(i)}
	}
	require.NoError(t, c.SaveMessages(ctx, "alice", "bob", msgs))

	loaded := c.LoadMessages(ctx, "alice", "bob")
	require.Len(t, loaded, 3)
	assert.Equal(t, "m2", loaded[0].ID)
	assert.Equal(t, "m4", loaded[2].ID)
}

func TestLoadCorruptEntry(t *testing.T) {
	store := kvstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "pandora_dm_cache_alice_bob", "{not json"))

	c := New(store, 0)
	assert.Nil(t, c.LoadMessages(ctx, "alice", "bob"))
}

func TestCachedPeers(t *testing.T) {
	c := New(kvstore.NewMemoryStore(), 0)
	ctx := context.Background()

	require.NoError(t, c.SaveMessages(ctx, "alice", "bob", []models.Message{{ID: "m1"}}))
	require.NoError(t, c.SaveMessages(ctx, "alice", "carol", []models.Message{{ID: "m2"}}))
	require.NoError(t, c.SaveMessages(ctx, "dave", "erin", []models.Message{{ID: "m3"}}))

	peers, err := c.CachedPeers(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, peers)
}

func TestSeenMarkers(t *testing.T) {
	c := New(kvstore.NewMemoryStore(), 0)
	ctx := context.Background()

	assert.Empty(t, c.LastSeen(ctx, "alice"))

	require.NoError(t, c.MarkSeen(ctx, "alice", "bob", 1000))
	require.NoError(t, c.MarkSeen(ctx, "alice", "carol", 2000))
	require.NoError(t, c.MarkSeen(ctx, "alice", "bob", 3000))

	seen := c.LastSeen(ctx, "alice")
	assert.Equal(t, int64(3000), seen["bob"])
	assert.Equal(t, int64(2000), seen["carol"])
}
