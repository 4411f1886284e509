package inspector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// conn wraps a gorilla websocket so reads and writes honour ctx.
type conn struct {
	ws *websocket.Conn
}

func dial(ctx context.Context, d *websocket.Dialer, urlStr string) (*conn, error) {
	var dialer websocket.Dialer
	if d != nil {
		dialer = *d
	}
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if dialer.HandshakeTimeout == 0 || dialer.HandshakeTimeout > left {
			dialer.HandshakeTimeout = left
		}
	}
	ws, resp, err := dialer.DialContext(ctx, urlStr, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &conn{ws: ws}, nil
}

// interruptOnDone moves the socket deadline to now once ctx is done so a
// blocked gorilla call returns. The returned func must be called when the
// call completes.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	var active atomic.Bool
	active.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if active.Load() {
			_ = setDeadline(time.Now())
		}
	})
	return func() {
		active.Store(false)
		stop()
	}
}

func mapTimeout(ctx context.Context, err error, deadline time.Time, hasDeadline bool) error {
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

func (c *conn) read(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	_ = c.ws.SetReadDeadline(deadline)
	done := interruptOnDone(ctx, c.ws.SetReadDeadline)
	mt, b, err := c.ws.ReadMessage()
	done()
	if err != nil {
		return 0, nil, mapTimeout(ctx, err, deadline, hasDeadline)
	}
	return mt, b, nil
}

func (c *conn) writeText(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	_ = c.ws.SetWriteDeadline(deadline)
	done := interruptOnDone(ctx, c.ws.SetWriteDeadline)
	err := c.ws.WriteMessage(websocket.TextMessage, data)
	done()
	if err != nil {
		return mapTimeout(ctx, err, deadline, hasDeadline)
	}
	return nil
}

func (c *conn) close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
