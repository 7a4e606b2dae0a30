package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
)

const wsWriteWait = 10 * time.Second

// WSConn adapts a websocket to a byte stream. Each Write is sent as one
// text message; Read returns message payloads back to back.
type WSConn struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
}

// NewWSConn wraps an established websocket.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, timeout time.Duration) (*WSConn, error) {
	d := websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, _, err := d.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, classify(rawURL, timeout, err)
	}
	return NewWSConn(conn), nil
}

func (c *WSConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, errors.ReadFailed(err)
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, errors.WriteFailed(err)
	}
	return len(p), nil
}

// Close sends a close frame and closes the socket.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// ServeFunc runs a controller session on a link.
type ServeFunc func(ctx context.Context, rw io.ReadWriter) error

// WebSocketHandler upgrades requests and hands each connection to serve.
func WebSocketHandler(serve ServeFunc) http.Handler {
	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	logger := log.GetLogger("transport")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		ws := NewWSConn(conn)
		defer ws.Close()
		logger.WithField("remote", r.RemoteAddr).Info("websocket session started")
		if err := serve(r.Context(), ws); err != nil {
			logger.WithError(err).Warn("websocket session ended")
		}
	})
}
