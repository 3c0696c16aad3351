package mocks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/models"
	"pandora-chat/internal/transport"
)

// FakeSocket is a scripted transport.Socket for tests. Behavior hooks can be
// swapped per test; Push* helpers inject events through the installed
// callbacks the way the real read loop would.
type FakeSocket struct {
	mu     sync.Mutex
	open   bool
	cbSet  bool
	cb     transport.Callbacks
	writes []WriteCall

	JoinFunc    func(room string) (transport.ChannelHandle, error)
	HistoryFunc func(channelID string, limit int) ([]models.ChannelMessage, error)
	WriteFunc   func(channelID string, payload models.MessagePayload) error

	joinCalls    int
	historyCalls int
}

// WriteCall records one Write invocation.
type WriteCall struct {
	ChannelID string
	Payload   models.MessagePayload
}

// NewFakeSocket returns an open socket whose joins succeed with a channel id
// derived from the room name, with empty history.
func NewFakeSocket() *FakeSocket {
	return &FakeSocket{open: true}
}

func (s *FakeSocket) JoinChannel(_ context.Context, room string, _, _ bool) (transport.ChannelHandle, error) {
	s.mu.Lock()
	s.joinCalls++
	fn := s.JoinFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(room)
	}
	return transport.ChannelHandle{ID: "chan-" + room}, nil
}

func (s *FakeSocket) LeaveChannel(context.Context, string) error { return nil }

func (s *FakeSocket) Write(_ context.Context, channelID string, payload models.MessagePayload) error {
	s.mu.Lock()
	fn := s.WriteFunc
	s.mu.Unlock()
	if fn != nil {
		if err := fn(channelID, payload); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.writes = append(s.writes, WriteCall{ChannelID: channelID, Payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *FakeSocket) FetchHistory(_ context.Context, channelID string, limit int, _ bool) ([]models.ChannelMessage, error) {
	s.mu.Lock()
	s.historyCalls++
	fn := s.HistoryFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(channelID, limit)
	}
	return nil, nil
}

func (s *FakeSocket) SetCallbacks(cb transport.Callbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cbSet {
		return errors.New("callbacks already installed")
	}
	s.cb = cb
	s.cbSet = true
	return nil
}

func (s *FakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

// Writes returns a copy of every recorded Write call.
func (s *FakeSocket) Writes() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteCall(nil), s.writes...)
}

// JoinCalls reports how many joins hit the network path.
func (s *FakeSocket) JoinCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCalls
}

// PushMessage delivers a live message through the installed callbacks.
func (s *FakeSocket) PushMessage(cm models.ChannelMessage) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb.OnMessage != nil {
		cb.OnMessage(cm)
	}
}

// PushPresence delivers a presence event through the installed callbacks.
func (s *FakeSocket) PushPresence(pe models.PresenceEvent) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb.OnPresence != nil {
		cb.OnPresence(pe)
	}
}

// FireDisconnect simulates an unexpected transport drop.
func (s *FakeSocket) FireDisconnect(err error) {
	s.mu.Lock()
	s.open = false
	cb := s.cb
	s.mu.Unlock()
	if cb.OnDisconnect != nil {
		cb.OnDisconnect(err)
	}
}

// FakeDialer hands out sockets and counts connect attempts.
type FakeDialer struct {
	mu       sync.Mutex
	sockets  []*FakeSocket
	connects atomic.Int32

	Err error
	// NextSocket, when set, is returned by the next Connect instead of a
	// fresh FakeSocket.
	NextSocket *FakeSocket
}

func (d *FakeDialer) Connect(_ context.Context, _ *auth.Session) (transport.Socket, error) {
	d.connects.Add(1)
	if d.Err != nil {
		return nil, d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sock := d.NextSocket
	if sock == nil {
		sock = NewFakeSocket()
	}
	d.NextSocket = nil
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

// Connects reports how many socket connects were attempted.
func (d *FakeDialer) Connects() int {
	return int(d.connects.Load())
}

// LastSocket returns the most recently dialed socket, if any.
func (d *FakeDialer) LastSocket() *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// FakeAuthenticator returns canned sessions and counts calls.
type FakeAuthenticator struct {
	calls atomic.Int32

	Err error
}

func (a *FakeAuthenticator) Authenticate(_ context.Context, identity string) (*auth.Session, error) {
	a.calls.Add(1)
	if a.Err != nil {
		return nil, a.Err
	}
	return &auth.Session{Identity: identity, UserID: identity, Token: "token-" + identity}, nil
}

// Calls reports how many authenticate attempts were made.
func (a *FakeAuthenticator) Calls() int {
	return int(a.calls.Load())
}
