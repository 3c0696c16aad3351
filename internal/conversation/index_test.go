package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pandora-chat/internal/directory"
	"pandora-chat/internal/mocks"
	"pandora-chat/internal/models"
	"pandora-chat/internal/notify"
)

func newTestIndex(env *testEnv, notifier notify.Notifier, resolver directory.Resolver) *Index {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return NewIndex(env.owner, env.registry, env.localCache, notifier, resolver)
}

func TestIndexSeedsFromCache(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "bob", []models.Message{
		{ID: "m1", Text: "old", CreatedAtMs: base.UnixMilli()},
		{ID: "m2", Text: "newest", CreatedAtMs: base.Add(time.Minute).UnixMilli()},
	}))

	x := newTestIndex(env, nil, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	snaps := x.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "bob", snaps[0].OtherIdentity)
	assert.Equal(t, "newest", snaps[0].LastText)
	assert.True(t, snaps[0].Unread, "never-seen conversations with messages start unread")
}

func TestIndexTracksLiveMessages(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	// Bind the channel so inbound events can be attributed.
	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", "bob", env.owner, "hi alice", time.Now()))

	snaps := x.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "bob", snaps[0].OtherIdentity)
	assert.Equal(t, "hi alice", snaps[0].LastText)
	assert.True(t, snaps[0].Unread)

	items := collector.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "New message", items[0].Title)
	assert.Equal(t, "bob: hi alice", items[0].Description)
	assert.Equal(t, "/messages/bob", items[0].LinkTarget)
}

func TestIndexOpenConversationSuppressesNotification(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	x.MarkOpen(context.Background(), "bob")
	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", "bob", env.owner, "hi", time.Now()))

	assert.Empty(t, collector.Items())
	snaps := x.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "hi", snaps[0].LastText, "the snapshot still updates while open")
}

func TestIndexNotifiesAgainAfterClose(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	x.MarkOpen(context.Background(), "bob")
	x.MarkClosed("bob")
	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", "bob", env.owner, "hi", time.Now()))

	assert.Len(t, collector.Items(), 1)
}

func TestIndexOwnMessageLabeledYou(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	// Own echo from another device while the conversation is not open.
	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", env.owner, "bob", "on my way", time.Now()))

	items := collector.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "You: on my way", items[0].Description)
}

func TestIndexResolvesDisplayName(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	resolver := new(mocks.ResolverMock)
	resolver.On("DisplayName", mock.Anything, "bob").Return("Bob the Builder", nil).Once()

	x := newTestIndex(env, collector, resolver)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", "bob", env.owner, "hi", time.Now()))

	items := collector.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Bob the Builder: hi", items[0].Description)
	resolver.AssertExpectations(t)
}

func TestIndexPreviewTruncated(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)

	long := strings.Repeat("å", 120)
	env.dialer.LastSocket().PushMessage(wireMsg(env.channelID(), "m1", "bob", env.owner, long, time.Now()))

	items := collector.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "bob: "+strings.Repeat("å", previewLength), items[0].Description)
}

func TestIndexFallsBackToPayloadIdentities(t *testing.T) {
	env := newTestEnv()
	collector := &notify.CollectingNotifier{}
	x := newTestIndex(env, collector, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	_, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)

	// No registry binding for this channel; the payload identities still
	// attribute the message.
	env.dialer.LastSocket().PushMessage(wireMsg("chan-unbound", "m1", "carol", env.owner, "surprise", time.Now()))

	snaps := x.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "carol", snaps[0].OtherIdentity)
}

func TestIndexMarkOpenClearsUnread(t *testing.T) {
	env := newTestEnv()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "bob", []models.Message{
		{ID: "m1", Text: "hi", CreatedAtMs: base.UnixMilli()},
	}))

	x := newTestIndex(env, nil, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	require.True(t, x.Snapshots()[0].Unread)
	x.MarkOpen(context.Background(), "bob")
	assert.False(t, x.Snapshots()[0].Unread)

	// The marker survives a restart through the store.
	y := newTestIndex(env, nil, nil)
	y.Start(context.Background(), env.dispatcher)
	defer y.Stop()
	assert.False(t, y.Snapshots()[0].Unread)
}

func TestIndexSnapshotsSortedByRecency(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "bob", []models.Message{
		{ID: "m1", Text: "older", CreatedAtMs: base.UnixMilli()},
	}))
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "carol", []models.Message{
		{ID: "m2", Text: "newer", CreatedAtMs: base.Add(time.Hour).UnixMilli()},
	}))

	x := newTestIndex(env, nil, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	snaps := x.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "carol", snaps[0].OtherIdentity)
	assert.Equal(t, "bob", snaps[1].OtherIdentity)
}

func TestRefreshFromHistoryFillsUnboundPeers(t *testing.T) {
	env := newTestEnv()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "bob", []models.Message{
		{ID: "m1", Text: "cached", CreatedAtMs: base.UnixMilli()},
	}))

	sock := mocks.NewFakeSocket()
	sock.HistoryFunc = func(string, int) ([]models.ChannelMessage, error) {
		return []models.ChannelMessage{
			wireMsg(env.channelID(), "m2", "bob", env.owner, "fresher", base.Add(time.Hour)),
		}, nil
	}
	env.dialer.NextSocket = sock

	x := newTestIndex(env, nil, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	x.RefreshFromHistory(context.Background(), conn)

	snaps := x.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "fresher", snaps[0].LastText)
	assert.Equal(t, 1, sock.JoinCalls())

	// Runs once per process; a second call is a no-op.
	x.RefreshFromHistory(context.Background(), conn)
	assert.Equal(t, 1, sock.JoinCalls())
}

func TestRefreshFromHistorySkipsBoundPeers(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.localCache.SaveMessages(context.Background(), env.owner, "bob", []models.Message{
		{ID: "m1", Text: "cached", CreatedAtMs: 100},
	}))

	x := newTestIndex(env, nil, nil)
	x.Start(context.Background(), env.dispatcher)
	defer x.Stop()

	conn, err := env.manager.Acquire(context.Background(), env.owner)
	require.NoError(t, err)
	_, err = env.registry.JoinDM(context.Background(), conn, env.owner, "bob")
	require.NoError(t, err)
	joinsBefore := env.dialer.LastSocket().JoinCalls()

	x.RefreshFromHistory(context.Background(), conn)
	assert.Equal(t, joinsBefore, env.dialer.LastSocket().JoinCalls(), "already-bound conversations are not rejoined")
}
