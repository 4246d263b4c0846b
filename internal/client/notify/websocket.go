package notify

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/auditflow/fieldsync/pkg/api"
)

// WebsocketDialer returns the production Dialer backed by a websocket
// connection with JSON frames.
func WebsocketDialer() Dialer {
	return func(ctx context.Context, url, token string) (Conn, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: header,
		})
		if err != nil {
			return nil, fmt.Errorf("websocket dial failed: %w", err)
		}

		return &wsConn{c: c}, nil
	}
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context, f *api.Frame) error {
	return wsjson.Read(ctx, w.c, f)
}

func (w *wsConn) Write(ctx context.Context, f *api.Frame) error {
	return wsjson.Write(ctx, w.c, f)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closing")
}
