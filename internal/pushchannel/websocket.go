package pushchannel

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/adminsync/internal/session"
)

const maxFrameBytes = 1 << 20

// WebSocketDialer dials the push endpoint over WebSocket, authenticating
// with the same credentials as REST calls.
type WebSocketDialer struct {
	URL           string
	Credentials   session.Credentials
	ServiceHeader string
	HTTPClient    *http.Client
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	h := http.Header{}
	if d.Credentials != nil {
		tok, err := d.Credentials.Bearer()
		if err != nil {
			return nil, fmt.Errorf("push dial: %w", err)
		}
		h.Set("Authorization", "Bearer "+tok)
		if d.ServiceHeader != "" {
			key, err := d.Credentials.ServiceKey()
			if err != nil {
				return nil, fmt.Errorf("push dial: %w", err)
			}
			h.Set(d.ServiceHeader, key)
		}
	}

	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: h,
	})
	if err != nil {
		return nil, fmt.Errorf("push dial %s: %w", d.URL, err)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("server closed push channel (%d): %w", status, err)
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) RequestState(ctx context.Context) error {
	return wsjson.Write(ctx, w.c, Event{Type: RequestCurrentState})
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
