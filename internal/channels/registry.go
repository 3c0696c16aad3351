// Package channels tracks which conversation is bound to which
// server-assigned channel, in both directions: joins go out by room name,
// inbound events come back carrying only a channel id.
package channels

import (
	"context"
	"fmt"
	"log"
	"sync"

	"pandora-chat/internal/connection"
	"pandora-chat/internal/models"
	"pandora-chat/internal/observability"
	"pandora-chat/internal/transport"
)

// ChannelJoinError propagates a failed channel join. The registry does not
// retry; the caller decides.
type ChannelJoinError struct {
	ConversationKey string
	Err             error
}

func (e *ChannelJoinError) Error() string {
	return fmt.Sprintf("join %s: %v", e.ConversationKey, e.Err)
}

func (e *ChannelJoinError) Unwrap() error { return e.Err }

// BackgroundJoinLimit bounds how many cached conversations are joined in the
// background so their messages keep flowing into the aggregate index.
const BackgroundJoinLimit = 10

// Registry is the bidirectional conversation-to-channel binding map. A
// conversation has at most one binding at a time; the server may silently
// drop membership, so callers rejoin on demand rather than assume the server
// remembers.
type Registry struct {
	mu             sync.RWMutex
	byConversation map[string]string
	byChannel      map[string]string
	peerByChannel  map[string]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byConversation: make(map[string]string),
		byChannel:      make(map[string]string),
		peerByChannel:  make(map[string]string),
	}
}

// JoinDM joins the 1:1 room for (owner, other), idempotently: an existing
// binding is returned without a network round-trip.
func (r *Registry) JoinDM(ctx context.Context, conn *connection.Connection, owner, other string) (transport.ChannelHandle, error) {
	handle, err := r.Join(ctx, conn, models.ConversationKey(owner, other), models.RoomName(owner, other), true, false)
	if err != nil {
		return handle, err
	}
	r.mu.Lock()
	r.peerByChannel[handle.ID] = other
	r.mu.Unlock()
	return handle, nil
}

// PeerFor returns the other-party identity bound to a channel, for events
// that must be attributed without parsing the conversation key.
func (r *Registry) PeerFor(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peerByChannel[channelID]
	return peer, ok
}

// Join binds a conversation key to the server channel for room. Persistent
// joins keep channel history across membership churn server-side.
func (r *Registry) Join(ctx context.Context, conn *connection.Connection, conversationKey, room string, persistent, hidden bool) (transport.ChannelHandle, error) {
	r.mu.RLock()
	channelID, bound := r.byConversation[conversationKey]
	r.mu.RUnlock()
	if bound {
		return transport.ChannelHandle{ID: channelID}, nil
	}

	handle, err := conn.Socket.JoinChannel(ctx, room, persistent, hidden)
	if err != nil {
		return transport.ChannelHandle{}, &ChannelJoinError{ConversationKey: conversationKey, Err: err}
	}

	r.mu.Lock()
	// A concurrent join for the same conversation may have won; keep the
	// first binding so both directions stay consistent.
	if existing, ok := r.byConversation[conversationKey]; ok {
		r.mu.Unlock()
		return transport.ChannelHandle{ID: existing}, nil
	}
	r.byConversation[conversationKey] = handle.ID
	r.byChannel[handle.ID] = conversationKey
	size := len(r.byConversation)
	r.mu.Unlock()

	observability.SetChannelBindings(size)
	return handle, nil
}

// ResolveConversation maps an inbound event's channel id back to its
// conversation key.
func (r *Registry) ResolveConversation(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byChannel[channelID]
	return key, ok
}

// ChannelFor returns the bound channel id for a conversation, if any.
func (r *Registry) ChannelFor(conversationKey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channelID, ok := r.byConversation[conversationKey]
	return channelID, ok
}

// Leave drops the binding locally and fires the network leave without
// waiting on its outcome.
func (r *Registry) Leave(conn *connection.Connection, conversationKey string) {
	r.mu.Lock()
	channelID, ok := r.byConversation[conversationKey]
	if ok {
		delete(r.byConversation, conversationKey)
		delete(r.byChannel, channelID)
		delete(r.peerByChannel, channelID)
	}
	size := len(r.byConversation)
	r.mu.Unlock()

	observability.SetChannelBindings(size)

	if !ok || conn == nil || conn.Socket == nil {
		return
	}
	go func() {
		if err := conn.Socket.LeaveChannel(context.Background(), channelID); err != nil {
			log.Printf("channels: leave %s: %v", conversationKey, err)
		}
	}()
}

// Clear drops every binding. Used when the owning connection is reset; the
// server-side memberships die with the socket.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byConversation = make(map[string]string)
	r.byChannel = make(map[string]string)
	r.peerByChannel = make(map[string]string)
	r.mu.Unlock()
	observability.SetChannelBindings(0)
}

// Size returns the number of live bindings.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConversation)
}

// BackgroundJoin best-effort joins the rooms for up to BackgroundJoinLimit
// of the given peers so inactive-but-known conversations still feed the
// aggregate index. Failures are silent and block nothing.
func (r *Registry) BackgroundJoin(ctx context.Context, conn *connection.Connection, owner string, others []string) {
	if len(others) > BackgroundJoinLimit {
		others = others[:BackgroundJoinLimit]
	}
	for _, other := range others {
		if _, err := r.JoinDM(ctx, conn, owner, other); err != nil {
			log.Printf("channels: background join %s: %v", other, err)
		}
	}
}
