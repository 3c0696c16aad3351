package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pandora-chat/internal/client"
	"pandora-chat/internal/kvstore"
	"pandora-chat/internal/mocks"
	"pandora-chat/internal/models"
	"pandora-chat/internal/notify"
)

func newTestClient(t *testing.T) (*client.Client, *mocks.FakeDialer) {
	t.Helper()
	dialer := &mocks.FakeDialer{}
	chat := client.New("alice", &mocks.FakeAuthenticator{}, dialer, kvstore.NewMemoryStore(), notify.LogNotifier{}, nil)
	t.Cleanup(chat.Close)
	return chat, dialer
}

func setupStatusRouter(chat *client.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStatusHandler(chat)
	r.GET("/status", h.GetStatus)
	r.GET("/conversations", h.ListConversations)
	return r
}

func TestGetStatusBeforeStart(t *testing.T) {
	chat, _ := newTestClient(t)
	router := setupStatusRouter(chat)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp["identity"])
	assert.Equal(t, "disconnected", resp["status"])
	assert.Equal(t, false, resp["socket_open"])
	assert.Equal(t, float64(0), resp["channel_bindings"])
}

func TestGetStatusAfterStart(t *testing.T) {
	chat, _ := newTestClient(t)
	require.NoError(t, chat.Start(context.Background()))
	router := setupStatusRouter(chat)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "connected", resp["status"])
	assert.Equal(t, true, resp["socket_open"])
}

func TestListConversations(t *testing.T) {
	chat, dialer := newTestClient(t)
	require.NoError(t, chat.Start(context.Background()))

	store, err := chat.OpenConversation(context.Background(), "bob")
	require.NoError(t, err)
	dialer.LastSocket().PushMessage(models.ChannelMessage{
		ChannelID:  "chan-" + models.RoomName("alice", "bob"),
		MessageID:  "m1",
		SenderID:   "bob",
		Content:    json.RawMessage(`{"text":"hi alice","fromUid":"bob","toUid":"alice"}`),
		CreateTime: "2026-03-01T12:00:00Z",
	})
	require.Len(t, store.Messages(), 1)

	router := setupStatusRouter(chat)
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSnapshot `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].OtherIdentity)
	assert.Equal(t, "hi alice", resp.Conversations[0].LastText)
	assert.False(t, resp.Conversations[0].Unread, "the conversation is open, so it reads as seen")
}
