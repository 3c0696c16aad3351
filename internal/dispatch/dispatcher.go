// Package dispatch fans every inbound realtime event out to any number of
// registered subscribers. Subscribers filter for themselves; the dispatcher
// never reorders, buffers or drops.
package dispatch

import (
	"log"
	"sync"

	"pandora-chat/internal/models"
	"pandora-chat/internal/observability"
	"pandora-chat/internal/transport"
)

// MessageHandler receives every inbound channel message.
type MessageHandler func(models.ChannelMessage)

// PresenceHandler receives every inbound presence event.
type PresenceHandler func(models.PresenceEvent)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

type messageEntry struct {
	id int
	fn MessageHandler
}

type presenceEntry struct {
	id int
	fn PresenceHandler
}

// Dispatcher is the single fan-out point between the socket and all message
// consumers (open conversations, the conversation index).
type Dispatcher struct {
	mu               sync.Mutex
	nextID           int
	messageHandlers  []messageEntry
	presenceHandlers []presenceEntry
	attached         transport.Socket
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Attach installs the dispatcher's handler set on a socket. Each socket gets
// exactly one install; attaching the same socket twice is a no-op, so events
// are never double-delivered. onFailure fires on transport disconnects and
// errors, after the socket is detached.
func (d *Dispatcher) Attach(sock transport.Socket, onFailure func(error)) error {
	d.mu.Lock()
	if d.attached == sock {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := sock.SetCallbacks(transport.Callbacks{
		OnMessage:  d.handleMessage,
		OnPresence: d.handlePresence,
		OnDisconnect: func(err error) {
			observability.IncRealtimeEvent("disconnect")
			d.detach(sock)
			if onFailure != nil {
				onFailure(err)
			}
		},
		OnError: func(err error) {
			observability.IncRealtimeEvent("transport_error")
			log.Printf("dispatch: transport error: %v", err)
		},
	})
	if err != nil {
		// Only a successful install counts as attached; otherwise a later
		// retry would short-circuit on the no-op check.
		return err
	}

	d.mu.Lock()
	d.attached = sock
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) detach(sock transport.Socket) {
	d.mu.Lock()
	if d.attached == sock {
		d.attached = nil
	}
	d.mu.Unlock()
}

// OnMessage registers a handler for all inbound messages regardless of
// conversation. Filtering is the subscriber's job.
func (d *Dispatcher) OnMessage(fn MessageHandler) Unsubscribe {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.messageHandlers = append(d.messageHandlers, messageEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, entry := range d.messageHandlers {
			if entry.id == id {
				d.messageHandlers = append(d.messageHandlers[:i], d.messageHandlers[i+1:]...)
				return
			}
		}
	}
}

// OnPresence registers a handler for all presence events.
func (d *Dispatcher) OnPresence(fn PresenceHandler) Unsubscribe {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.presenceHandlers = append(d.presenceHandlers, presenceEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, entry := range d.presenceHandlers {
			if entry.id == id {
				d.presenceHandlers = append(d.presenceHandlers[:i], d.presenceHandlers[i+1:]...)
				return
			}
		}
	}
}

func (d *Dispatcher) handleMessage(cm models.ChannelMessage) {
	observability.IncRealtimeEvent("channel_message")

	d.mu.Lock()
	handlers := append([]messageEntry(nil), d.messageHandlers...)
	d.mu.Unlock()

	for _, entry := range handlers {
		invokeMessage(entry.fn, cm)
	}
}

func (d *Dispatcher) handlePresence(pe models.PresenceEvent) {
	observability.IncRealtimeEvent("channel_presence")

	d.mu.Lock()
	handlers := append([]presenceEntry(nil), d.presenceHandlers...)
	d.mu.Unlock()

	for _, entry := range handlers {
		invokePresence(entry.fn, pe)
	}
}

// invokeMessage shields the fan-out from a panicking subscriber; the
// remaining handlers still run.
func invokeMessage(fn MessageHandler, cm models.ChannelMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: message handler panic: %v", r)
		}
	}()
	fn(cm)
}

func invokePresence(fn PresenceHandler, pe models.PresenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: presence handler panic: %v", r)
		}
	}()
	fn(pe)
}
