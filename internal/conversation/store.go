// Package conversation holds the message-sync core: the per-conversation
// store that reconciles cached, historical and live messages into one
// deduplicated timeline, and the aggregate index behind the conversation
// list.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pandora-chat/internal/cache"
	"pandora-chat/internal/channels"
	"pandora-chat/internal/connection"
	"pandora-chat/internal/dispatch"
	"pandora-chat/internal/models"
	"pandora-chat/internal/observability"
)

// State is a conversation store's lifecycle phase. Send is only permitted
// from StateReady.
type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateReady   State = "ready"
	StateError   State = "error"
)

const (
	// historyLimit bounds how many messages a join pulls from the server.
	historyLimit = 50

	// duplicateWindow is the receive-side heuristic: an incoming message
	// with the same sender and text as the immediately preceding one, within
	// this window, is treated as a transport redelivery and dropped. It can
	// in principle swallow a legitimate rapid repeat; it stays because the
	// double delivery it defends against was observed in production.
	duplicateWindow = time.Second

	// resendWindow is the send-side guard: identical text submitted twice
	// inside it is a silent no-op.
	resendWindow = 800 * time.Millisecond
)

// ErrNotReady rejects sends while the conversation is not in StateReady.
var ErrNotReady = errors.New("conversation not ready")

// SendError wraps a failed write on an otherwise-open channel. The
// optimistic message has already been rolled back; the caller may retry
// without resetting the connection.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

type incomingMark struct {
	sender string
	text   string
	atMs   int64
}

type sentMark struct {
	text string
	at   time.Time
}

// Store synchronizes a single open conversation. It loads the local cache
// for instant paint, joins the channel, merges server history, then folds in
// live messages, deduplicating across all three paths.
type Store struct {
	owner string
	other string

	manager    *connection.Manager
	registry   *channels.Registry
	dispatcher *dispatch.Dispatcher
	localCache *cache.LocalCache

	mu           sync.Mutex
	state        State
	lastErr      error
	channelID    string
	messages     []models.Message
	known        map[string]struct{}
	lastIncoming *incomingMark
	lastSent     *sentMark
	onlineCount  int
	closed       bool

	unsubMsg      dispatch.Unsubscribe
	unsubPresence dispatch.Unsubscribe
}

// NewStore builds an idle store for the (owner, other) conversation.
func NewStore(owner, other string, manager *connection.Manager, registry *channels.Registry, dispatcher *dispatch.Dispatcher, localCache *cache.LocalCache) *Store {
	return &Store{
		owner:      owner,
		other:      other,
		manager:    manager,
		registry:   registry,
		dispatcher: dispatcher,
		localCache: localCache,
		state:      StateIdle,
		known:      make(map[string]struct{}),
	}
}

// Other returns the other party's identity.
func (s *Store) Other() string { return s.other }

// State returns the current lifecycle phase.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the store into StateError, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// OnlineCount returns the channel's presence count.
func (s *Store) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineCount
}

// Messages returns a copy of the merged, time-ordered timeline.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

// Open moves the store to StateJoining, paints the cached tail immediately,
// then joins the channel and merges server history. Callable again from
// StateError to retry.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateJoining:
		s.mu.Unlock()
		return nil
	}
	s.state = StateJoining
	s.lastErr = nil
	s.closed = false
	s.mu.Unlock()

	// The cache may be stale or partial; it is shown immediately for
	// perceived responsiveness and corrected by the history merge.
	cached := s.localCache.LoadMessages(ctx, s.owner, s.other)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mergeLocked(cached)
	s.mu.Unlock()

	if err := s.establish(ctx); err != nil {
		return err
	}

	s.subscribe()
	s.persist()
	return nil
}

// establish acquires the connection, joins the channel and merges the last
// historyLimit messages. Shared by Open and Resync.
func (s *Store) establish(ctx context.Context) error {
	conn, err := s.manager.Acquire(ctx, s.owner)
	if err != nil {
		return s.fail(err)
	}

	handle, err := s.registry.JoinDM(ctx, conn, s.owner, s.other)
	if err != nil {
		return s.fail(err)
	}

	history, err := conn.Socket.FetchHistory(ctx, handle.ID, historyLimit, false)
	if err != nil {
		return s.fail(err)
	}

	incoming := make([]models.Message, 0, len(history))
	for _, cm := range history {
		msg, cerr := models.FromChannelMessage(cm)
		if cerr != nil {
			log.Printf("conversation %s: dropping malformed history message: %v", s.other, cerr)
			continue
		}
		incoming = append(incoming, msg)
	}

	s.mu.Lock()
	if s.closed {
		// The view was torn down while the join was in flight; discard.
		s.mu.Unlock()
		return nil
	}
	s.channelID = handle.ID
	if n := len(handle.Presences); n > 0 {
		s.onlineCount = n
	} else if s.onlineCount == 0 {
		s.onlineCount = 1
	}
	s.mergeLocked(incoming)
	s.state = StateReady
	s.mu.Unlock()
	return nil
}

// Resync rejoins the channel and re-merges history after a reconnect. The
// in-memory timeline is kept; the merge adds without duplicating.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateJoining
	s.mu.Unlock()

	if err := s.establish(ctx); err != nil {
		return err
	}
	s.persist()
	return nil
}

// Send appends an optimistic message and writes it over the socket. Empty
// trimmed text is a no-op; a repeat of the previous text inside the resend
// window is silently dropped. On write failure the optimistic message is
// rolled back and a retriable SendError returned.
func (s *Store) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	now := time.Now()

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.lastSent != nil && s.lastSent.text == text && now.Sub(s.lastSent.at) < resendWindow {
		s.mu.Unlock()
		observability.IncDuplicateSuppressed("resend_guard")
		return nil
	}
	s.lastSent = &sentMark{text: text, at: now}

	localID := models.LocalIDPrefix + uuid.NewString()
	optimistic := models.Message{
		ID:          localID,
		Text:        text,
		Sender:      s.owner,
		Recipient:   s.other,
		CreatedAtMs: now.UnixMilli(),
		Origin:      models.OriginLocal,
	}
	s.messages = append(s.messages, optimistic)
	s.known[localID] = struct{}{}
	s.sortLocked()
	s.mu.Unlock()

	s.persist()

	conn, err := s.manager.Acquire(ctx, s.owner)
	if err != nil {
		s.rollback(localID)
		observability.IncSend("failure")
		return &SendError{Err: err}
	}

	// The channel id cached at open time dies with the socket; the join is
	// idempotent, so re-resolving here makes the first post-reconnect send
	// land instead of bouncing off a stale id.
	handle, err := s.registry.JoinDM(ctx, conn, s.owner, s.other)
	if err != nil {
		s.rollback(localID)
		observability.IncSend("failure")
		return &SendError{Err: err}
	}

	s.mu.Lock()
	if !s.closed {
		s.channelID = handle.ID
	}
	s.mu.Unlock()

	payload := models.MessagePayload{Text: text, FromUID: s.owner, ToUID: s.other}
	if err := conn.Socket.Write(ctx, handle.ID, payload); err != nil {
		s.rollback(localID)
		observability.IncSend("failure")
		return &SendError{Err: err}
	}

	observability.IncSend("success")
	return nil
}

// Close tears down the view: subscriptions are dropped and any in-flight
// join or fetch result is discarded. Channel membership is kept so the
// aggregate index keeps receiving this conversation's messages.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.state = StateIdle
	unsubMsg, unsubPresence := s.unsubMsg, s.unsubPresence
	s.unsubMsg, s.unsubPresence = nil, nil
	s.mu.Unlock()

	if unsubMsg != nil {
		unsubMsg()
	}
	if unsubPresence != nil {
		unsubPresence()
	}
}

func (s *Store) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.unsubMsg != nil {
		return
	}
	s.unsubMsg = s.dispatcher.OnMessage(s.handleLive)
	s.unsubPresence = s.dispatcher.OnPresence(s.handlePresence)
}

// handleLive folds one live-pushed message into the timeline. Duplicates are
// expected: the server echoes the sender's own messages back, history and
// live delivery overlap, and the transport may redeliver.
func (s *Store) handleLive(cm models.ChannelMessage) {
	s.mu.Lock()
	if s.closed || s.channelID == "" || cm.ChannelID != s.channelID {
		s.mu.Unlock()
		return
	}

	if _, ok := s.known[cm.MessageID]; ok {
		s.mu.Unlock()
		observability.IncDuplicateSuppressed("known_id")
		return
	}

	msg, err := models.FromChannelMessage(cm)
	if err != nil {
		s.mu.Unlock()
		log.Printf("conversation %s: dropping malformed live message: %v", s.other, err)
		return
	}

	if last := s.lastIncoming; last != nil &&
		last.sender == msg.Sender && last.text == msg.Text &&
		absMs(msg.CreatedAtMs-last.atMs) < duplicateWindow.Milliseconds() {
		s.mu.Unlock()
		observability.IncDuplicateSuppressed("rapid_repeat")
		return
	}
	s.lastIncoming = &incomingMark{sender: msg.Sender, text: msg.Text, atMs: msg.CreatedAtMs}

	if msg.Sender == s.owner {
		// Server confirmation of an optimistic send: drop the local entries
		// and let the confirmed message take their place.
		s.dropLocalLocked()
	}

	s.messages = append(s.messages, msg)
	s.known[msg.ID] = struct{}{}
	s.sortLocked()
	s.mu.Unlock()

	s.persist()
}

func (s *Store) handlePresence(pe models.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.channelID == "" || pe.ChannelID != s.channelID {
		return
	}
	s.onlineCount += len(pe.Joins) - len(pe.Leaves)
	if s.onlineCount < 0 {
		s.onlineCount = 0
	}
}

// mergeLocked unions incoming messages into the timeline keyed by id. The
// server payload wins when an id is already present. Idempotent: merging the
// same batch twice leaves the timeline unchanged.
func (s *Store) mergeLocked(incoming []models.Message) {
	index := make(map[string]int, len(s.messages))
	for i, m := range s.messages {
		index[m.ID] = i
	}
	for _, m := range incoming {
		if i, ok := index[m.ID]; ok {
			s.messages[i] = m
			continue
		}
		index[m.ID] = len(s.messages)
		s.messages = append(s.messages, m)
		s.known[m.ID] = struct{}{}
	}
	s.sortLocked()
}

// sortLocked orders by timestamp ascending; ties keep arrival order.
func (s *Store) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAtMs < s.messages[j].CreatedAtMs
	})
}

func (s *Store) dropLocalLocked() {
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.IsLocal() {
			delete(s.known, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
}

func (s *Store) rollback(localID string) {
	s.mu.Lock()
	for i, m := range s.messages {
		if m.ID == localID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	delete(s.known, localID)
	// A failed send must not arm the resend guard against its own retry.
	s.lastSent = nil
	s.mu.Unlock()
	s.persist()
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.state = StateError
	s.lastErr = err
	return err
}

// persist writes the current timeline through to the local cache. Cache
// writes are deliberately detached from the caller's context: a cancelled
// view should not lose the messages it already merged.
func (s *Store) persist() {
	s.mu.Lock()
	snapshot := append([]models.Message(nil), s.messages...)
	s.mu.Unlock()

	if err := s.localCache.SaveMessages(context.Background(), s.owner, s.other, snapshot); err != nil {
		log.Printf("conversation %s: persist: %v", s.other, err)
	}
}

func absMs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
