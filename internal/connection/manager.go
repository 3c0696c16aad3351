// Package connection owns the per-identity session and socket lifecycle:
// exactly one live connection exists per authenticated identity, concurrent
// acquisitions share one attempt, and broken sockets are reset so dependents
// can re-acquire.
package connection

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/observability"
	"pandora-chat/internal/transport"
)

// Status describes an identity's connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Connection bundles an authenticated session with its live socket.
type Connection struct {
	Identity string
	Session  *auth.Session
	Socket   transport.Socket
}

// SocketHook runs once for every newly established socket, before the
// connection is handed to any caller. The dispatcher uses it to install its
// transport handlers.
type SocketHook func(identity string, sock transport.Socket)

// ResetHook runs after a connection is torn down. The channel registry uses
// it to drop bindings that referenced the dead socket.
type ResetHook func(identity string)

// Manager holds at most one Connection per identity.
type Manager struct {
	authenticator auth.Authenticator
	dialer        transport.Dialer

	group singleflight.Group

	mu          sync.Mutex
	conns       map[string]*Connection
	statuses    map[string]Status
	socketHooks []SocketHook
	resetHooks  []ResetHook
}

// NewManager constructs a Manager.
func NewManager(authenticator auth.Authenticator, dialer transport.Dialer) *Manager {
	return &Manager{
		authenticator: authenticator,
		dialer:        dialer,
		conns:         make(map[string]*Connection),
		statuses:      make(map[string]Status),
	}
}

// OnSocket registers a hook invoked for each newly opened socket.
func (m *Manager) OnSocket(hook SocketHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socketHooks = append(m.socketHooks, hook)
}

// OnReset registers a hook invoked after a connection teardown.
func (m *Manager) OnReset(hook ResetHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetHooks = append(m.resetHooks, hook)
}

// Acquire returns the identity's live connection, establishing it if needed.
// Concurrent callers before the first attempt resolves share exactly one
// authenticate and one socket connect.
func (m *Manager) Acquire(ctx context.Context, identity string) (*Connection, error) {
	if conn := m.liveConnection(identity); conn != nil {
		return conn, nil
	}

	result, err, _ := m.group.Do(identity, func() (any, error) {
		// A concurrent caller may have finished the connect while this one
		// queued behind the singleflight.
		if conn := m.liveConnection(identity); conn != nil {
			return conn, nil
		}
		return m.connect(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Connection), nil
}

func (m *Manager) setStatus(identity string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[identity] = status
}

func (m *Manager) connect(ctx context.Context, identity string) (*Connection, error) {
	m.setStatus(identity, StatusConnecting)
	observability.IncConnectionAttempt()

	session, err := m.authenticator.Authenticate(ctx, identity)
	if err != nil {
		m.setStatus(identity, StatusFailed)
		observability.IncConnectionFailure("auth")
		return nil, err
	}

	sock, err := m.dialer.Connect(ctx, session)
	if err != nil {
		m.setStatus(identity, StatusFailed)
		observability.IncConnectionFailure("socket")
		return nil, err
	}

	conn := &Connection{Identity: identity, Session: session, Socket: sock}

	m.mu.Lock()
	m.conns[identity] = conn
	m.statuses[identity] = StatusConnected
	hooks := append([]SocketHook(nil), m.socketHooks...)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(identity, sock)
	}

	log.Printf("connection: %s connected", identity)
	return conn, nil
}

// Reset force-closes the identity's socket, swallowing close errors, and
// discards the cached connection. Reset hooks then clear dependent state.
func (m *Manager) Reset(identity string) {
	m.mu.Lock()
	conn := m.conns[identity]
	delete(m.conns, identity)
	m.statuses[identity] = StatusDisconnected
	hooks := append([]ResetHook(nil), m.resetHooks...)
	m.mu.Unlock()

	m.group.Forget(identity)

	if conn != nil && conn.Socket != nil {
		_ = conn.Socket.Close()
	}

	for _, hook := range hooks {
		hook(identity)
	}
	log.Printf("connection: %s reset", identity)
}

// IsOpen is a cheap synchronous liveness predicate: it trusts the cached
// handle's socket state without touching the network.
func (m *Manager) IsOpen(identity string) bool {
	m.mu.Lock()
	conn := m.conns[identity]
	m.mu.Unlock()
	return conn != nil && conn.Socket != nil && conn.Socket.IsOpen()
}

// Status reports the identity's lifecycle state.
func (m *Manager) Status(identity string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[identity]
	if !ok {
		return StatusDisconnected
	}
	return status
}

func (m *Manager) liveConnection(identity string) *Connection {
	m.mu.Lock()
	conn := m.conns[identity]
	m.mu.Unlock()
	if conn == nil || conn.Socket == nil || !conn.Socket.IsOpen() {
		return nil
	}
	if conn.Session.Expired(time.Now()) {
		return nil
	}
	return conn
}

// Watch polls the identity's socket at the given interval and recovers a
// silently dead connection through the reset-then-acquire path. It is a
// fallback behind the transport's disconnect callbacks, not a replacement
// for them. onRecover runs after each successful re-acquire so dependents
// can rejoin channels and refresh state.
func (m *Manager) Watch(ctx context.Context, identity string, interval time.Duration, onRecover func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.IsOpen(identity) {
				continue
			}
			log.Printf("connection: %s liveness check failed, reconnecting", identity)
			m.Reset(identity)
			if _, err := m.Acquire(ctx, identity); err != nil {
				log.Printf("connection: %s reconnect failed: %v", identity, err)
				continue
			}
			if onRecover != nil {
				onRecover()
			}
		}
	}
}
