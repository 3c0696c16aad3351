package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"pandora-chat/internal/auth"
)

// WebSocketDialer connects authenticated sessions to the realtime server
// using gorilla/websocket.
type WebSocketDialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWebSocketDialer builds a dialer for the given server base URL. http(s)
// schemes are rewritten to ws(s).
func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	return &WebSocketDialer{baseURL: baseURL, dialer: websocket.DefaultDialer}
}

// Connect opens the socket for a session. The session token rides on the
// query string, the convention of the hosted server's websocket endpoint.
func (d *WebSocketDialer) Connect(ctx context.Context, session *auth.Session) (Socket, error) {
	wsURL := strings.Replace(d.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws?token=" + url.QueryEscape(session.Token)

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &SocketError{Op: "connect", Err: err}
	}
	return newWSSocket(conn), nil
}
