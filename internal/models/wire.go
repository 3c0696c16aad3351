package models

import (
	"encoding/json"
	"errors"
	"time"
)

// MessagePayload is the JSON body the client writes to a channel. The shape
// is a contract this core defines for itself: attribution falls back to the
// embedded identities before trusting transport sender metadata, and the
// duplicate-suppression logic compares the payload text, so the field set
// must stay stable.
type MessagePayload struct {
	Text    string `json:"text"`
	FromUID string `json:"fromUid"`
	ToUID   string `json:"toUid,omitempty"`
}

var ErrMalformedPayload = errors.New("malformed message payload")

// DecodePayload parses an inbound channel message body. It fails closed:
// payloads without a text field are rejected so handlers can drop them
// instead of crashing on unexpected shapes.
func DecodePayload(raw json.RawMessage) (MessagePayload, error) {
	if len(raw) == 0 {
		return MessagePayload{}, ErrMalformedPayload
	}
	var probe struct {
		Text    *string `json:"text"`
		FromUID string  `json:"fromUid"`
		ToUID   string  `json:"toUid"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return MessagePayload{}, ErrMalformedPayload
	}
	if probe.Text == nil {
		return MessagePayload{}, ErrMalformedPayload
	}
	return MessagePayload{Text: *probe.Text, FromUID: probe.FromUID, ToUID: probe.ToUID}, nil
}

// ChannelMessage is the transport-level inbound message event.
type ChannelMessage struct {
	ChannelID  string          `json:"channel_id"`
	MessageID  string          `json:"message_id"`
	SenderID   string          `json:"sender_id"`
	Content    json.RawMessage `json:"content"`
	CreateTime string          `json:"create_time"`
}

// PresenceEvent reports membership churn on a channel.
type PresenceEvent struct {
	ChannelID string   `json:"channel_id"`
	Joins     []string `json:"joins,omitempty"`
	Leaves    []string `json:"leaves,omitempty"`
}

// FromChannelMessage converts a wire message into a displayable Message.
// Identities embedded in the payload win over transport metadata; an
// unparsable create_time falls back to the receipt time.
func FromChannelMessage(cm ChannelMessage) (Message, error) {
	payload, err := DecodePayload(cm.Content)
	if err != nil {
		return Message{}, err
	}

	sender := payload.FromUID
	if sender == "" {
		sender = cm.SenderID
	}

	createdMs := time.Now().UnixMilli()
	if cm.CreateTime != "" {
		if t, perr := time.Parse(time.RFC3339, cm.CreateTime); perr == nil {
			createdMs = t.UnixMilli()
		}
	}

	return Message{
		ID:          cm.MessageID,
		Text:        payload.Text,
		Sender:      sender,
		Recipient:   payload.ToUID,
		CreatedAtMs: createdMs,
		Origin:      OriginRemote,
	}, nil
}
