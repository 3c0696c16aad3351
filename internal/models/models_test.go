package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	assert.Equal(t, "alice_bob", ConversationKey("bob", "alice"))
}

func TestRoomNameOrderIndependent(t *testing.T) {
	assert.Equal(t, RoomName("alice", "bob"), RoomName("bob", "alice"))
	assert.Equal(t, "alice_bob_dm", RoomName("bob", "alice"))
}

func TestDecodePayload(t *testing.T) {
	payload, err := DecodePayload(json.RawMessage(`{"text":"hi","fromUid":"alice","toUid":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", payload.Text)
	assert.Equal(t, "alice", payload.FromUID)
	assert.Equal(t, "bob", payload.ToUID)
}

func TestDecodePayloadRejectsMissingText(t *testing.T) {
	_, err := DecodePayload(json.RawMessage(`{"fromUid":"alice"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", `"a string"`, `42`} {
		_, err := DecodePayload(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrMalformedPayload, "raw=%q", raw)
	}
}

func TestDecodePayloadAllowsEmptyText(t *testing.T) {
	payload, err := DecodePayload(json.RawMessage(`{"text":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", payload.Text)
}

func TestFromChannelMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := FromChannelMessage(ChannelMessage{
		ChannelID:  "chan-1",
		MessageID:  "m1",
		SenderID:   "session-user",
		Content:    json.RawMessage(`{"text":"hello","fromUid":"alice","toUid":"bob"}`),
		CreateTime: at.Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "alice", msg.Sender, "payload identity wins over transport metadata")
	assert.Equal(t, "bob", msg.Recipient)
	assert.Equal(t, at.UnixMilli(), msg.CreatedAtMs)
	assert.Equal(t, OriginRemote, msg.Origin)
}

func TestFromChannelMessageFallsBackToSenderID(t *testing.T) {
	msg, err := FromChannelMessage(ChannelMessage{
		MessageID: "m2",
		SenderID:  "carol",
		Content:   json.RawMessage(`{"text":"yo"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "carol", msg.Sender)
}

func TestFromChannelMessageBadCreateTime(t *testing.T) {
	before := time.Now().UnixMilli()
	msg, err := FromChannelMessage(ChannelMessage{
		MessageID:  "m3",
		Content:    json.RawMessage(`{"text":"x","fromUid":"a"}`),
		CreateTime: "yesterday-ish",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, msg.CreatedAtMs, before, "unparsable create_time falls back to receipt time")
}

func TestFromChannelMessageMalformedContent(t *testing.T) {
	_, err := FromChannelMessage(ChannelMessage{MessageID: "m4", Content: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestMessageIsLocal(t *testing.T) {
	assert.True(t, Message{ID: LocalIDPrefix + "abc"}.IsLocal())
	assert.False(t, Message{ID: "server-abc"}.IsLocal())
}
