package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pandora-chat/internal/client"
)

// StatusHandler exposes the daemon's operational view of the chat core.
type StatusHandler struct {
	chat *client.Client
}

// NewStatusHandler builds a StatusHandler.
func NewStatusHandler(chat *client.Client) *StatusHandler {
	return &StatusHandler{chat: chat}
}

// GetStatus reports the connection and binding state for the daemon's
// identity.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	identity := h.chat.Owner()
	c.JSON(http.StatusOK, gin.H{
		"identity":         identity,
		"status":           h.chat.Manager().Status(identity),
		"socket_open":      h.chat.Manager().IsOpen(identity),
		"channel_bindings": h.chat.Registry().Size(),
	})
}

// ListConversations returns the aggregate conversation list with unread
// markers, most recent first.
func (h *StatusHandler) ListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": h.chat.Index().Snapshots()})
}
