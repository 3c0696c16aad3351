// Package client composes the chat core into one service object with an
// explicit lifecycle: construct, Start, open conversations, Close. All
// cross-component wiring (dispatcher installation, reset propagation,
// liveness recovery) lives here instead of in package-level state.
package client

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/cache"
	"pandora-chat/internal/channels"
	"pandora-chat/internal/connection"
	"pandora-chat/internal/conversation"
	"pandora-chat/internal/directory"
	"pandora-chat/internal/dispatch"
	"pandora-chat/internal/kvstore"
	"pandora-chat/internal/notify"
	"pandora-chat/internal/transport"
)

// livenessInterval is the polling fallback behind the transport's
// disconnect callbacks.
const livenessInterval = 10 * time.Second

// Client is the realtime DM core for one viewer identity.
type Client struct {
	owner string

	manager    *connection.Manager
	registry   *channels.Registry
	dispatcher *dispatch.Dispatcher
	localCache *cache.LocalCache
	index      *conversation.Index
	notifier   notify.Notifier

	mu          sync.Mutex
	stores      map[string]*conversation.Store
	cancelWatch context.CancelFunc
}

// New wires a Client for the given viewer. resolver may be nil.
func New(owner string, authenticator auth.Authenticator, dialer transport.Dialer, store kvstore.Store, notifier notify.Notifier, resolver directory.Resolver) *Client {
	localCache := cache.New(store, 0)
	manager := connection.NewManager(authenticator, dialer)
	registry := channels.NewRegistry()
	dispatcher := dispatch.NewDispatcher()
	index := conversation.NewIndex(owner, registry, localCache, notifier, resolver)

	c := &Client{
		owner:      owner,
		manager:    manager,
		registry:   registry,
		dispatcher: dispatcher,
		localCache: localCache,
		index:      index,
		notifier:   notifier,
		stores:     make(map[string]*conversation.Store),
	}

	// Every new socket gets exactly one dispatcher install; a transport
	// failure tears the connection down so dependents re-acquire.
	manager.OnSocket(func(identity string, sock transport.Socket) {
		if err := dispatcher.Attach(sock, func(err error) {
			if err != nil {
				log.Printf("client: transport failure for %s: %v", identity, err)
			}
			manager.Reset(identity)
		}); err != nil {
			log.Printf("client: dispatcher attach: %v", err)
		}
	})

	// Channel bindings reference the dead socket; drop them all so joins
	// happen fresh on the next connection.
	manager.OnReset(func(string) {
		registry.Clear()
	})

	return c
}

// Owner returns the viewer identity.
func (c *Client) Owner() string { return c.owner }

// Index exposes the aggregate conversation view.
func (c *Client) Index() *conversation.Index { return c.index }

// Manager exposes the connection manager, mainly for status reporting.
func (c *Client) Manager() *connection.Manager { return c.manager }

// Registry exposes the channel registry.
func (c *Client) Registry() *channels.Registry { return c.registry }

// Start connects the viewer, seeds the index, background-joins cached
// conversations and launches the liveness watchdog.
func (c *Client) Start(ctx context.Context) error {
	ctx, span := otel.Tracer("pandora-chat/client").Start(ctx, "client.start")
	defer span.End()

	c.index.Start(ctx, c.dispatcher)

	conn, err := c.manager.Acquire(ctx, c.owner)
	if err != nil {
		return err
	}

	c.backgroundJoin(ctx, conn)
	c.index.RefreshFromHistory(ctx, conn)

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelWatch = cancel
	c.mu.Unlock()
	go c.manager.Watch(watchCtx, c.owner, livenessInterval, c.recover)

	return nil
}

func (c *Client) backgroundJoin(ctx context.Context, conn *connection.Connection) {
	peers, err := c.localCache.CachedPeers(ctx, c.owner)
	if err != nil {
		log.Printf("client: listing cached peers: %v", err)
		return
	}
	c.registry.BackgroundJoin(ctx, conn, c.owner, peers)
}

// recover runs after the watchdog re-established the connection: rejoin
// background channels and resync every open conversation.
func (c *Client) recover() {
	ctx := context.Background()
	conn, err := c.manager.Acquire(ctx, c.owner)
	if err != nil {
		return
	}
	c.backgroundJoin(ctx, conn)

	c.mu.Lock()
	stores := make([]*conversation.Store, 0, len(c.stores))
	for _, s := range c.stores {
		stores = append(stores, s)
	}
	c.mu.Unlock()

	for _, s := range stores {
		if err := s.Resync(ctx); err != nil {
			log.Printf("client: resync %s: %v", s.Other(), err)
		}
	}
}

// OpenConversation opens (or retries) the conversation with other and marks
// it seen.
func (c *Client) OpenConversation(ctx context.Context, other string) (*conversation.Store, error) {
	ctx, span := otel.Tracer("pandora-chat/client").Start(ctx, "conversation.open")
	defer span.End()

	c.mu.Lock()
	s, ok := c.stores[other]
	if !ok {
		s = conversation.NewStore(c.owner, other, c.manager, c.registry, c.dispatcher, c.localCache)
		c.stores[other] = s
	}
	c.mu.Unlock()

	if err := s.Open(ctx); err != nil {
		return s, err
	}
	c.index.MarkOpen(ctx, other)
	return s, nil
}

// CloseConversation tears down the open view for other; channel membership
// is kept so the index stays live.
func (c *Client) CloseConversation(other string) {
	c.mu.Lock()
	s, ok := c.stores[other]
	delete(c.stores, other)
	c.mu.Unlock()

	if ok {
		s.Close()
	}
	c.index.MarkClosed(other)
}

// Close stops the watchdog, drops the connection and releases collaborators.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancelWatch
	c.cancelWatch = nil
	stores := make([]*conversation.Store, 0, len(c.stores))
	for _, s := range c.stores {
		stores = append(stores, s)
	}
	c.stores = make(map[string]*conversation.Store)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, s := range stores {
		s.Close()
	}
	c.index.Stop()
	c.manager.Reset(c.owner)
	if err := c.notifier.Close(); err != nil {
		log.Printf("client: closing notifier: %v", err)
	}
}
