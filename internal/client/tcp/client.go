// Package tcp provides a line-oriented TCP client for the gateway.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/pvpgn-gateway/internal/client"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// ErrNotConnected is returned when sending without a connection.
var ErrNotConnected = errors.New("not connected to server")

// maxLineSize bounds a single envelope line from the gateway.
const maxLineSize = 1 << 20

var _ client.Client = (*Client)(nil)

// Client represents a TCP gateway client
type Client struct {
	address   string
	conn      net.Conn
	envelopes chan protocol.Envelope
	logger    *slog.Logger
	mu        sync.RWMutex
	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new Client instance
func New(address string, log *slog.Logger) *Client {
	return &Client{
		address:   address,
		envelopes: make(chan protocol.Envelope, 64),
		logger:    logger.OrDefault(log).With(logger.Component("tcp-client")),
		done:      make(chan struct{}),
	}
}

// Connect establishes a connection to the server
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receive(conn)

	return nil
}

// Disconnect closes the connection to the server
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Login asks the gateway to open a backend session.
func (c *Client) Login(ctx context.Context, p protocol.LoginPayload) error {
	return c.send(ctx, protocol.Login(p))
}

// Chat sends a line of chat text.
func (c *Client) Chat(ctx context.Context, text string) error {
	return c.send(ctx, protocol.Chat(text))
}

// Logout closes the backend session but keeps the gateway connection.
func (c *Client) Logout(ctx context.Context) error {
	return c.send(ctx, protocol.Disconnect())
}

// Envelopes returns the channel of received envelopes.
func (c *Client) Envelopes() <-chan protocol.Envelope {
	return c.envelopes
}

func (c *Client) send(ctx context.Context, env protocol.Envelope) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.JSON.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Type, err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

// receive reads one envelope per line until the connection ends.
func (c *Client) receive(conn net.Conn) {
	defer c.wg.Done()
	defer close(c.envelopes)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		env, err := protocol.JSON.Unmarshal(sc.Bytes())
		if err != nil {
			c.logger.Warn("failed to decode envelope", logger.Error(err))
			continue
		}

		select {
		case c.envelopes <- env:
		case <-c.done:
			return
		}
	}

	select {
	case <-c.done:
	default:
		if err := sc.Err(); err != nil {
			c.logger.Warn("error reading from server", logger.Error(err))
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}
}
