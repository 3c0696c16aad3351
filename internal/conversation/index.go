package conversation

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"pandora-chat/internal/cache"
	"pandora-chat/internal/channels"
	"pandora-chat/internal/connection"
	"pandora-chat/internal/directory"
	"pandora-chat/internal/dispatch"
	"pandora-chat/internal/models"
	"pandora-chat/internal/notify"
	"pandora-chat/internal/observability"
)

const previewLength = 80

type snapshotState struct {
	lastText string
	lastAtMs int64
}

// Index is the aggregate view across all of one viewer's conversations. It
// subscribes globally, attributes every inbound message to a conversation,
// maintains last-message snapshots and unread markers, and raises
// notifications for conversations that are not currently open.
type Index struct {
	owner string

	registry   *channels.Registry
	localCache *cache.LocalCache
	notifier   notify.Notifier
	resolver   directory.Resolver

	mu        sync.Mutex
	snapshots map[string]*snapshotState
	lastSeen  map[string]int64
	open      string
	refreshed bool

	unsub dispatch.Unsubscribe
}

// NewIndex builds the viewer's conversation index. resolver may be nil;
// notification senders then fall back to raw identities.
func NewIndex(owner string, registry *channels.Registry, localCache *cache.LocalCache, notifier notify.Notifier, resolver directory.Resolver) *Index {
	return &Index{
		owner:      owner,
		registry:   registry,
		localCache: localCache,
		notifier:   notifier,
		resolver:   resolver,
		snapshots:  make(map[string]*snapshotState),
		lastSeen:   make(map[string]int64),
	}
}

// Start seeds snapshots from the local cache and subscribes to the
// dispatcher. Seeding is best-effort; a cold cache just means an empty list.
func (x *Index) Start(ctx context.Context, dispatcher *dispatch.Dispatcher) {
	x.mu.Lock()
	x.lastSeen = x.localCache.LastSeen(ctx, x.owner)
	x.mu.Unlock()

	peers, err := x.localCache.CachedPeers(ctx, x.owner)
	if err != nil {
		log.Printf("index: listing cached peers: %v", err)
	}
	for _, other := range peers {
		msgs := x.localCache.LoadMessages(ctx, x.owner, other)
		x.mu.Lock()
		snap := x.snapshotFor(other)
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			snap.lastText = last.Text
			snap.lastAtMs = last.CreatedAtMs
		}
		x.mu.Unlock()
	}

	x.mu.Lock()
	if x.unsub == nil {
		x.unsub = dispatcher.OnMessage(x.handleMessage)
	}
	x.mu.Unlock()
}

// Stop drops the dispatcher subscription.
func (x *Index) Stop() {
	x.mu.Lock()
	unsub := x.unsub
	x.unsub = nil
	x.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// MarkOpen records that the viewer opened a conversation: it becomes the
// open conversation, is marked seen, and stops raising notifications.
func (x *Index) MarkOpen(ctx context.Context, other string) {
	now := time.Now().UnixMilli()
	x.mu.Lock()
	x.open = other
	x.lastSeen[other] = now
	x.snapshotFor(other)
	x.mu.Unlock()

	if err := x.localCache.MarkSeen(ctx, x.owner, other, now); err != nil {
		log.Printf("index: mark seen %s: %v", other, err)
	}
}

// MarkClosed clears the open conversation if it is still the given one.
func (x *Index) MarkClosed(other string) {
	x.mu.Lock()
	if x.open == other {
		x.open = ""
	}
	x.mu.Unlock()
}

// Snapshots returns the conversation list sorted by recency. Unread means
// the last message arrived after the viewer last saw the conversation.
func (x *Index) Snapshots() []models.ConversationSnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	list := make([]models.ConversationSnapshot, 0, len(x.snapshots))
	for other, snap := range x.snapshots {
		list = append(list, models.ConversationSnapshot{
			OtherIdentity: other,
			LastText:      snap.lastText,
			LastAtMs:      snap.lastAtMs,
			Unread:        snap.lastAtMs > x.lastSeen[other],
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastAtMs > list[j].LastAtMs
	})
	return list
}

func (x *Index) handleMessage(cm models.ChannelMessage) {
	payload, err := models.DecodePayload(cm.Content)
	if err != nil {
		return
	}
	sender := payload.FromUID
	if sender == "" {
		sender = cm.SenderID
	}

	other, ok := x.registry.PeerFor(cm.ChannelID)
	if !ok {
		// Unbound channel: fall back to the identities embedded in the
		// payload.
		if sender == x.owner {
			other = payload.ToUID
		} else {
			other = sender
		}
	}
	if other == "" {
		return
	}

	createdMs := time.Now().UnixMilli()
	if cm.CreateTime != "" {
		if t, perr := time.Parse(time.RFC3339, cm.CreateTime); perr == nil {
			createdMs = t.UnixMilli()
		}
	}

	x.mu.Lock()
	snap := x.snapshotFor(other)
	snap.lastText = payload.Text
	snap.lastAtMs = createdMs
	openNow := x.open
	x.mu.Unlock()

	if openNow != other {
		x.notify(sender, other, payload.Text)
	}
}

func (x *Index) notify(sender, other, text string) {
	label := "You"
	if sender != x.owner {
		label = sender
		if x.resolver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if name, err := x.resolver.DisplayName(ctx, sender); err == nil && name != "" {
				label = name
			}
			cancel()
		}
	}

	preview := []rune(text)
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}

	observability.IncNotification()
	x.notifier.Push(context.Background(), notify.Notification{
		Title:       "New message",
		Description: label + ": " + string(preview),
		LinkTarget:  "/messages/" + other,
	})
}

// snapshotFor returns the snapshot entry for other, creating it if needed.
// Callers hold x.mu.
func (x *Index) snapshotFor(other string) *snapshotState {
	snap, ok := x.snapshots[other]
	if !ok {
		snap = &snapshotState{}
		x.snapshots[other] = snap
	}
	return snap
}

// RefreshFromHistory refreshes last-message snapshots for cached
// conversations that have no live binding yet, by joining each room, reading
// the newest history entry and leaving again. Runs once per process and
// never surfaces errors; a failed refresh just leaves the snapshot stale.
func (x *Index) RefreshFromHistory(ctx context.Context, conn *connection.Connection) {
	x.mu.Lock()
	if x.refreshed {
		x.mu.Unlock()
		return
	}
	x.refreshed = true
	x.mu.Unlock()

	peers, err := x.localCache.CachedPeers(ctx, x.owner)
	if err != nil {
		return
	}
	if len(peers) > channels.BackgroundJoinLimit {
		peers = peers[:channels.BackgroundJoinLimit]
	}

	for _, other := range peers {
		if _, bound := x.registry.ChannelFor(models.ConversationKey(x.owner, other)); bound {
			continue
		}
		handle, err := conn.Socket.JoinChannel(ctx, models.RoomName(x.owner, other), true, false)
		if err != nil {
			continue
		}
		history, err := conn.Socket.FetchHistory(ctx, handle.ID, historyLimit, false)
		if err == nil && len(history) > 0 {
			if msg, cerr := models.FromChannelMessage(history[len(history)-1]); cerr == nil {
				x.mu.Lock()
				snap := x.snapshotFor(other)
				if msg.CreatedAtMs >= snap.lastAtMs {
					snap.lastText = msg.Text
					snap.lastAtMs = msg.CreatedAtMs
				}
				x.mu.Unlock()
			}
		}
		_ = conn.Socket.LeaveChannel(ctx, handle.ID)
	}
}
