// Package ws provides the WebSocket front-end transport of the gateway.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// aLongTimeAgo is used to unblock pending reads and writes.
var aLongTimeAgo = time.Unix(1, 0)

// Conn adapts a server-side WebSocket connection to chat.Conn.
// Every frame read is returned whole; every write is sent as one frame of
// the connection's opcode.
type Conn struct {
	conn       net.Conn
	rw         io.ReadWriter
	op         ws.OpCode
	remoteAddr string

	// wmu guards writes, including control replies sent while reading.
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded connection. r holds bytes that were buffered
// during the upgrade and may be nil. op selects text or binary frames for
// writes.
func NewConn(conn net.Conn, r io.Reader, op ws.OpCode, remoteAddr string) *Conn {
	if r == nil {
		r = conn
	}
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	c := &Conn{conn: conn, op: op, remoteAddr: remoteAddr}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	return c
}

// Read implements chat.Conn.
// Pings are answered and a close frame from the peer reads as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	data, _, err := wsutil.ReadClientData(c.rw)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var closed wsutil.ClosedError
		if errors.As(err, &closed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.conn, c.op, data)
}

// Close implements chat.Conn. It sends a normal closure frame before
// closing the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}
