// Package notify delivers cross-conversation alerts to whatever surface
// renders them. Delivery is fire-and-forget; a failed push never interrupts
// message handling.
package notify

import (
	"context"
	"log"
	"sync"
)

// Notification is one toast-style alert.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LinkTarget  string `json:"link_target,omitempty"`
}

// Notifier pushes notifications.
type Notifier interface {
	Push(ctx context.Context, n Notification)
	Close() error
}

// LogNotifier writes notifications to the process log. Default when no
// broker is configured.
type LogNotifier struct{}

func (LogNotifier) Push(_ context.Context, n Notification) {
	log.Printf("notify: %s: %s", n.Title, n.Description)
}

func (LogNotifier) Close() error { return nil }

// CollectingNotifier records pushes for inspection in tests.
type CollectingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (c *CollectingNotifier) Push(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
}

func (c *CollectingNotifier) Close() error { return nil }

// Items returns a copy of everything pushed so far.
func (c *CollectingNotifier) Items() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}
