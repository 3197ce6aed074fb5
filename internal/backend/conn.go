package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// initiation selects the chat protocol on a fresh PvPGN connection.
const initiation = 0x03

var crlf = []byte("\r\n")

// Conn is one outbound link to a PvPGN server.
//
// All mutable state is guarded by mu. Bytes from the reader goroutine and
// timer firings are processed synchronously under the lock, so events are
// delivered to the Observer in the order they were received.
type Conn struct {
	addr   string
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	observer Observer
	stream   net.Conn
	buf      []byte
	channel  string

	username string
	password string
	auth     authStep

	cancelDial context.CancelFunc
	loginTimer *time.Timer
	keepAlive  *time.Timer

	// gen is bumped whenever the stream and timers are released. Dial
	// results and timer firings carrying an older generation are ignored.
	gen uint64
}

// New creates a disconnected Conn targeting addr (host:port).
func New(addr string, opts Options, log *slog.Logger) *Conn {
	return &Conn{
		addr:   addr,
		opts:   opts.withDefaults(),
		logger: logger.OrDefault(log).With(logger.Component("backend"), slog.String("addr", addr)),
		state:  StateDisconnected,
	}
}

// SetObserver installs o as the receiver of status, message and error
// signals. Passing nil detaches the current observer; once SetObserver
// returns no further callback reaches the previous one.
func (c *Conn) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Addr returns the target address.
func (c *Conn) Addr() string {
	return c.addr
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel returns the channel last reported by the server, or "".
func (c *Conn) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Connect starts dialing the server and returns immediately. Progress is
// reported through the Observer.
func (c *Conn) Connect(username, password string) error {
	if username == "" || password == "" {
		return ErrMissingCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected && c.state != StateError {
		return fmt.Errorf("%w (state: %s)", ErrAlreadyConnecting, c.state)
	}

	c.gen++
	gen := c.gen
	c.username = username
	c.password = password
	c.auth = awaitUsername
	c.buf = nil
	c.channel = ""

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	c.cancelDial = cancel

	c.setState(StateConnecting, "Connecting to "+c.addr)
	go c.dial(ctx, gen)
	return nil
}

// Send writes one line of chat text. It fails without side effects unless
// the handshake has completed and the stream is open.
func (c *Conn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.stream == nil {
		return fmt.Errorf("%w (state: %s)", ErrNotConnected, c.state)
	}
	if err := c.writeLine(text); err != nil {
		c.fault(err)
		return err
	}
	return nil
}

// Disconnect aborts any dial in flight, closes the stream, cancels every
// timer and moves to StateDisconnected. It is safe to call repeatedly.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.release()
	c.setState(StateDisconnected, "Manual disconnect")
}

func (c *Conn) dial(ctx context.Context, gen uint64) {
	stream, err := c.opts.Dialer.DialContext(ctx, "tcp", c.addr)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateConnecting {
		// Aborted while dialing.
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		c.fault(&NetworkError{Op: "dial", Addr: c.addr, Err: err})
		return
	}

	c.stream = stream
	if err := c.write([]byte{initiation}); err != nil {
		c.fault(err)
		return
	}
	c.setState(StateAuthenticating, "Connection established, authenticating")
	c.armLoginTimer()

	go c.readLoop(stream)
}

func (c *Conn) readLoop(stream net.Conn) {
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		if c.opts.IdleTimeout > 0 {
			_ = stream.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}
		n, err := stream.Read(buf)
		if n > 0 && !c.handleData(stream, buf[:n]) {
			return
		}
		if err != nil {
			c.handleReadError(stream, err)
			return
		}
	}
}

// handleData reports whether the reader should keep going.
func (c *Conn) handleData(stream net.Conn, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != stream {
		return false
	}
	c.buf = append(c.buf, data...)
	c.consume()
	return c.stream == stream
}

func (c *Conn) handleReadError(stream net.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != stream {
		// Closed by Disconnect or an earlier fault.
		return
	}

	switch {
	case errors.Is(err, io.EOF):
		c.release()
		c.setState(StateDisconnected, "Connection closed")
	case errors.Is(err, os.ErrDeadlineExceeded):
		c.fault(fmt.Errorf("%w (%s inactivity)", ErrIdleTimeout, c.opts.IdleTimeout))
	default:
		c.fault(&NetworkError{Op: "read", Addr: c.addr, Err: err})
	}
}

// consume extracts complete lines from the buffer, then looks for prompts
// the server sends without a terminator.
func (c *Conn) consume() {
	stream := c.stream
	lines := 0
	for {
		i := bytes.Index(c.buf, crlf)
		if i < 0 {
			break
		}
		lines++
		if lines > c.opts.MaxLinesPerRead {
			c.buf = nil
			c.fault(ErrLineLimit)
			return
		}
		line := string(c.buf[:i])
		c.buf = c.buf[i+len(crlf):]

		c.handleLine(line)
		if c.stream != stream {
			return
		}
	}

	if c.state == StateAuthenticating && len(c.buf) > 0 {
		c.scanRemainder()
	}
}

func (c *Conn) handleLine(line string) {
	switch c.state {
	case StateAuthenticating:
		c.handshakeLine(line)
	case StateConnected:
		c.connectedLine(line)
	default:
		c.logger.Debug("dropping line outside of session", slog.String("line", line), logger.State(c.state))
	}
}

func (c *Conn) connectedLine(line string) {
	if hasPrompt(line) {
		c.logger.Warn("ignoring authentication prompt after login", slog.String("line", line))
		return
	}
	ev, ok := pvpgn.Decode(line)
	if !ok {
		return
	}
	if ev.Kind == pvpgn.KindChannel {
		c.channel = ev.Channel
		c.logger.Info("joined channel", slog.String("channel", ev.Channel))
	}
	c.emitMessage(ev)
}

func (c *Conn) armLoginTimer() {
	gen := c.gen
	c.loginTimer = time.AfterFunc(c.opts.LoginTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.state != StateAuthenticating {
			return
		}
		c.loginTimer = nil
		c.fault(ErrLoginTimeout)
	})
}

func (c *Conn) stopLoginTimer() {
	if c.loginTimer != nil {
		c.loginTimer.Stop()
		c.loginTimer = nil
	}
}

func (c *Conn) startKeepAlive() {
	c.stopKeepAlive()
	if c.opts.KeepAliveInterval <= 0 {
		return
	}
	gen := c.gen
	c.keepAlive = time.AfterFunc(c.opts.KeepAliveInterval, func() { c.keepAliveTick(gen) })
}

func (c *Conn) keepAliveTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateConnected || c.keepAlive == nil {
		return
	}
	c.logger.Debug("sending keep-alive")
	if err := c.writeLine(c.opts.KeepAliveCommand); err != nil {
		c.fault(err)
		return
	}
	c.keepAlive.Reset(c.opts.KeepAliveInterval)
}

func (c *Conn) stopKeepAlive() {
	if c.keepAlive != nil {
		c.keepAlive.Stop()
		c.keepAlive = nil
	}
}

func (c *Conn) writeLine(s string) error {
	data := make([]byte, 0, len(s)+len(crlf))
	data = append(data, s...)
	data = append(data, crlf...)
	return c.write(data)
}

// write sends data on the stream. A successful write pushes the idle
// deadline forward.
func (c *Conn) write(data []byte) error {
	if c.stream == nil {
		return fmt.Errorf("%w (state: %s)", ErrNotConnected, c.state)
	}
	_ = c.stream.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.stream.Write(data); err != nil {
		return &NetworkError{Op: "write", Addr: c.addr, Err: err}
	}
	if c.opts.IdleTimeout > 0 {
		_ = c.stream.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	}
	return nil
}

// release cancels timers and any dial in flight, and closes the stream.
// It never notifies.
func (c *Conn) release() {
	c.gen++
	c.stopLoginTimer()
	c.stopKeepAlive()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.buf = nil
	c.username = ""
	c.password = ""
}

// fault tears the link down after an unrecoverable error. A fault while
// already in StateError is only logged.
func (c *Conn) fault(err error) {
	c.release()
	if c.state == StateError {
		c.logger.Warn("additional error after failure", logger.Error(err))
		return
	}
	c.logger.Error("connection failed", logger.Error(err), logger.State(c.state))
	c.setState(StateError, err.Error())
	if c.observer != nil {
		c.observer.OnError(err)
	}
}

func (c *Conn) setState(s State, message string) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.logger.Info("state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()),
		slog.String("message", message))

	if s == StateConnected {
		c.startKeepAlive()
	} else if prev == StateConnected {
		c.stopKeepAlive()
	}

	if c.observer != nil {
		c.observer.OnStatus(Status{State: s, Message: message})
	}
}

func (c *Conn) emitMessage(ev pvpgn.Event) {
	if c.observer != nil {
		c.observer.OnMessage(ev)
	}
}
