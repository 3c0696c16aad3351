package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pandora-chat/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

var errSocketClosed = errors.New("socket closed")

// envelope is the wire frame shared by commands, replies and server pushes.
// Replies carry the cid of the command they answer; pushes carry none.
type envelope struct {
	CID     string          `json:"cid,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinRequest struct {
	Target      string `json:"target"`
	Persistence bool   `json:"persistence"`
	Hidden      bool   `json:"hidden"`
}

type leaveRequest struct {
	ChannelID string `json:"channel_id"`
}

type writeRequest struct {
	ChannelID string                `json:"channel_id"`
	Content   models.MessagePayload `json:"content"`
}

type historyRequest struct {
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit"`
	Forward   bool   `json:"forward"`
}

type historyResponse struct {
	Messages []models.ChannelMessage `json:"messages"`
}

type serverError struct {
	Message string `json:"message"`
}

// wsSocket is the gorilla/websocket implementation of Socket. A single read
// loop routes cid-bearing replies to pending callers and pushes to the
// installed callbacks.
type wsSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	cbSet   bool
	cb      Callbacks
	pending map[string]chan envelope
	nextCID int64

	done chan struct{}
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	s := &wsSocket{
		conn:    conn,
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.readLoop()
	go s.pingLoop()
	return s
}

// SetCallbacks installs the event handlers. A socket accepts exactly one set;
// a second install is rejected to prevent double delivery.
func (s *wsSocket) SetCallbacks(cb Callbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cbSet {
		return errors.New("callbacks already installed for this socket")
	}
	s.cb = cb
	s.cbSet = true
	return nil
}

func (s *wsSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *wsSocket) JoinChannel(ctx context.Context, room string, persistent, hidden bool) (ChannelHandle, error) {
	reply, err := s.call(ctx, "channel_join", joinRequest{Target: room, Persistence: persistent, Hidden: hidden})
	if err != nil {
		return ChannelHandle{}, err
	}
	var handle ChannelHandle
	if err := json.Unmarshal(reply.Payload, &handle); err != nil {
		return ChannelHandle{}, &SocketError{Op: "join", Err: err}
	}
	if handle.ID == "" {
		return ChannelHandle{}, &SocketError{Op: "join", Err: errors.New("empty channel id in join reply")}
	}
	return handle, nil
}

func (s *wsSocket) LeaveChannel(ctx context.Context, channelID string) error {
	_, err := s.call(ctx, "channel_leave", leaveRequest{ChannelID: channelID})
	return err
}

func (s *wsSocket) Write(ctx context.Context, channelID string, payload models.MessagePayload) error {
	_, err := s.call(ctx, "channel_message_send", writeRequest{ChannelID: channelID, Content: payload})
	return err
}

func (s *wsSocket) FetchHistory(ctx context.Context, channelID string, limit int, forward bool) ([]models.ChannelMessage, error) {
	reply, err := s.call(ctx, "channel_history", historyRequest{ChannelID: channelID, Limit: limit, Forward: forward})
	if err != nil {
		return nil, err
	}
	var parsed historyResponse
	if err := json.Unmarshal(reply.Payload, &parsed); err != nil {
		return nil, &SocketError{Op: "history", Err: err}
	}
	return parsed.Messages, nil
}

func (s *wsSocket) call(ctx context.Context, msgType string, payload any) (envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, &SocketError{Op: msgType, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return envelope{}, &SocketError{Op: msgType, Err: errSocketClosed}
	}
	s.nextCID++
	cid := strconv.FormatInt(s.nextCID, 10)
	reply := make(chan envelope, 1)
	s.pending[cid] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, cid)
		s.mu.Unlock()
	}()

	frame, err := json.Marshal(envelope{CID: cid, Type: msgType, Payload: body})
	if err != nil {
		return envelope{}, &SocketError{Op: msgType, Err: err}
	}

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = s.conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		return envelope{}, &SocketError{Op: msgType, Err: err}
	}

	select {
	case <-ctx.Done():
		return envelope{}, &SocketError{Op: msgType, Err: ctx.Err()}
	case <-s.done:
		return envelope{}, &SocketError{Op: msgType, Err: errSocketClosed}
	case env := <-reply:
		if env.Type == "error" {
			var se serverError
			_ = json.Unmarshal(env.Payload, &se)
			return envelope{}, &SocketError{Op: msgType, Err: fmt.Errorf("server: %s", se.Message)}
		}
		return env, nil
	}
}

func (s *wsSocket) readLoop() {
	var readErr error
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("socket: dropping malformed frame: %v", err)
			continue
		}

		if env.CID != "" {
			s.mu.Lock()
			reply, ok := s.pending[env.CID]
			s.mu.Unlock()
			if ok {
				reply <- env
			}
			continue
		}

		s.dispatchPush(env)
	}

	s.mu.Lock()
	intentional := s.closed
	s.closed = true
	cb := s.cb
	s.mu.Unlock()
	close(s.done)

	if intentional {
		return
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		if cb.OnDisconnect != nil {
			cb.OnDisconnect(nil)
		}
		return
	}
	if cb.OnError != nil {
		cb.OnError(readErr)
	}
	if cb.OnDisconnect != nil {
		cb.OnDisconnect(readErr)
	}
}

func (s *wsSocket) dispatchPush(env envelope) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()

	switch env.Type {
	case "channel_message":
		if cb.OnMessage == nil {
			return
		}
		var cm models.ChannelMessage
		if err := json.Unmarshal(env.Payload, &cm); err != nil {
			log.Printf("socket: dropping malformed channel message: %v", err)
			return
		}
		cb.OnMessage(cm)
	case "channel_presence_event":
		if cb.OnPresence == nil {
			return
		}
		var pe models.PresenceEvent
		if err := json.Unmarshal(env.Payload, &pe); err != nil {
			log.Printf("socket: dropping malformed presence event: %v", err)
			return
		}
		cb.OnPresence(pe)
	default:
		log.Printf("socket: unhandled push type %q", env.Type)
	}
}

func (s *wsSocket) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
