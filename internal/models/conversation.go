package models

import "sort"

// ConversationKey derives the deterministic pair key for a 1:1 conversation,
// identical regardless of which party initiated it.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}

// RoomName derives the server-side room channel name for a DM pair.
func RoomName(a, b string) string {
	parts := []string{"dm", a, b}
	sort.Strings(parts)
	name := parts[0]
	for _, p := range parts[1:] {
		name += "_" + p
	}
	return name
}

// ConversationSnapshot is the derived per-conversation view backing the
// conversation list. It is rebuilt from message streams and cached for fast
// rendering, never treated as the source of truth.
type ConversationSnapshot struct {
	OtherIdentity string `json:"other_identity"`
	LastText      string `json:"last_text,omitempty"`
	LastAtMs      int64  `json:"last_at_ms,omitempty"`
	Unread        bool   `json:"unread"`
}
