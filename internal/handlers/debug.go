package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pandora-chat/internal/notify"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, notifier notify.Notifier, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/toast-test", func(c *gin.Context) {
		if notifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifier not configured"})
			return
		}
		notifier.Push(c.Request.Context(), notify.Notification{
			Title:       "Test notification",
			Description: "debug toast",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
