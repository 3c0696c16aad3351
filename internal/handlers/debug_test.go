package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pandora-chat/internal/notify"
)

func TestDebugToastPushesNotification(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	collector := &notify.CollectingNotifier{}
	RegisterDebugRoutes(r, collector, true)

	req := httptest.NewRequest(http.MethodGet, "/debug/toast-test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	items := collector.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Test notification", items[0].Title)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, &notify.CollectingNotifier{}, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/toast-test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
