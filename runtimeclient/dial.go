package runtimeclient

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// handshakeHeaders are generated by the dialer itself and rejected when
// supplied by the caller.
var handshakeHeaders = map[string]bool{
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
}

// DialHeader returns the descriptor's headers minus the WebSocket handshake
// headers, in the form expected by websocket.Dialer.
func (c *Connection) DialHeader() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		ck := http.CanonicalHeaderKey(k)
		if handshakeHeaders[ck] {
			continue
		}
		h.Set(ck, v)
	}
	return h
}

// Dial opens the WebSocket described by c. A nil dialer uses
// websocket.DefaultDialer.
func (c *Connection) Dial(ctx context.Context, d *websocket.Dialer) (*websocket.Conn, *http.Response, error) {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return d.DialContext(ctx, c.URL, c.DialHeader())
}
