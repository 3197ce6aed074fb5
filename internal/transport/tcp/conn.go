// Package tcp provides the raw TCP front-end transport: one JSON envelope
// per newline-terminated line.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// MaxLineSize bounds a single inbound envelope line.
const MaxLineSize = 64 * 1024

var aLongTimeAgo = time.Unix(1, 0)

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

// NewConn wraps a net.Conn. r may carry bytes already read from conn
// (for example while sniffing the protocol); nil reads from conn directly.
func NewConn(conn net.Conn, r io.Reader) *Conn {
	if r == nil {
		r = conn
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &Conn{conn: conn, scanner: sc}
}

// Read implements chat.Conn.
// Returns the next non-blank line without its terminator.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}

	err := c.scanner.Err()
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil, errors.Is(err, net.ErrClosed):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// Write implements chat.Conn. A newline is appended to data.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(append(buf, data...), '\n')
	_, err := c.conn.Write(buf)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
