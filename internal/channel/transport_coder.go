package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// CoderDialer dials with github.com/coder/websocket. It is interchangeable
// with GorillaDialer.
type CoderDialer struct {
	HTTPClient   *http.Client  // nil uses http.DefaultClient
	WriteTimeout time.Duration // zero uses 10s
	ReadLimit    int64         // zero uses 1 MiB
}

func (d CoderDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)

	wt := d.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}

	// The connection outlives the dial context; reads are bound to this one.
	connCtx, cancel := context.WithCancel(context.Background())
	return &coderConn{conn: ws, ctx: connCtx, cancel: cancel, writeTimeout: wt}, nil
}

type coderConn struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
}

func (c *coderConn) WriteJSON(v any) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, v)
}

func (c *coderConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *coderConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	return err
}
