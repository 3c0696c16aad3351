package models

import (
	"strings"
	"time"
)

// Origin tags where a message entered the local view.
type Origin string

const (
	// OriginRemote marks messages delivered by the server, either through
	// channel history or a live push.
	OriginRemote Origin = "remote"
	// OriginLocal marks optimistic messages appended before the server
	// confirms the send.
	OriginLocal Origin = "local"
)

// LocalIDPrefix namespaces optimistic message ids. Server-assigned ids never
// start with it.
const LocalIDPrefix = "local-"

// Message is one direct message as displayed in a conversation.
type Message struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Sender      string `json:"fromUid"`
	Recipient   string `json:"toUid,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
	Origin      Origin `json:"-"`
}

// CreatedAt returns the creation time at millisecond resolution.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.CreatedAtMs)
}

// IsLocal reports whether the message is an unconfirmed optimistic send.
func (m Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}
