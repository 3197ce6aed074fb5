// Package ws provides a WebSocket client for the gateway.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/omochice/pvpgn-gateway/internal/client"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// ErrNotConnected is returned when sending without a connection.
var ErrNotConnected = errors.New("not connected to server")

var _ client.Client = (*Client)(nil)

// Client represents a WebSocket gateway client.
type Client struct {
	url       string
	codec     protocol.Codec
	conn      *websocket.Conn
	envelopes chan protocol.Envelope
	logger    *slog.Logger
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a client for the gateway at url (ws:// or wss://). A nil codec
// selects JSON; the url must request the matching encoding.
func New(url string, codec protocol.Codec, log *slog.Logger) *Client {
	if codec == nil {
		codec = protocol.JSON
	}
	return &Client{
		url:       url,
		codec:     codec,
		envelopes: make(chan protocol.Envelope, 64),
		logger:    logger.OrDefault(log).With(logger.Component("ws-client")),
		done:      make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the gateway.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
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

// Disconnect closes the WebSocket connection and waits for the receiver.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
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

	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Type, err)
	}

	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	if err := conn.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) receive(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.envelopes)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Warn("error reading from server", logger.Error(err))
			}
			return
		}

		env, err := c.codec.Unmarshal(data)
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
}
