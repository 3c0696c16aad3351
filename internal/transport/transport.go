package transport

import (
	"context"
	"fmt"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/models"
)

// ChannelHandle is the server's reply to a channel join.
type ChannelHandle struct {
	ID        string   `json:"channel_id"`
	Presences []string `json:"presences,omitempty"`
}

// Callbacks receive transport-level events. They are installed at most once
// per socket instance; installing a second set would double-deliver every
// event downstream.
type Callbacks struct {
	OnMessage    func(models.ChannelMessage)
	OnPresence   func(models.PresenceEvent)
	OnDisconnect func(error)
	OnError      func(error)
}

// Socket is a live multiplexed connection to the realtime messaging server.
// All channel joins and writes for one identity share a single socket.
type Socket interface {
	JoinChannel(ctx context.Context, room string, persistent, hidden bool) (ChannelHandle, error)
	LeaveChannel(ctx context.Context, channelID string) error
	Write(ctx context.Context, channelID string, payload models.MessagePayload) error
	FetchHistory(ctx context.Context, channelID string, limit int, forward bool) ([]models.ChannelMessage, error)
	SetCallbacks(cb Callbacks) error
	IsOpen() bool
	Close() error
}

// Dialer opens sockets for authenticated sessions.
type Dialer interface {
	Connect(ctx context.Context, session *auth.Session) (Socket, error)
}

// SocketError wraps a transport-level failure. It triggers a connection
// reset and is eligible for caller-initiated retry.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }
