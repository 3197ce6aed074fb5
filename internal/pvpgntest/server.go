// Package pvpgntest provides a scripted stand-in for a PvPGN chat gateway,
// listening on the loopback interface, for use in tests.
package pvpgntest

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking expectation.
const DefaultTimeout = 2 * time.Second

// Server accepts backend connections and hands them to the test as Peers.
type Server struct {
	ln    net.Listener
	peers chan *Peer

	mu     sync.Mutex
	open   []*Peer
	closed bool
}

// NewServer starts a server on 127.0.0.1 with a random port. It is closed
// automatically when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)

	s := &Server{
		ln:    ln,
		peers: make(chan *Peer, 16),
	}
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			close(s.peers)
			return
		}
		p := &Peer{conn: conn, r: bufio.NewReader(conn)}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.open = append(s.open, p)
		s.mu.Unlock()
		s.peers <- p
	}
}

// Accept waits for the next backend connection.
func (s *Server) Accept(tb testing.TB) *Peer {
	tb.Helper()
	select {
	case p, ok := <-s.peers:
		require.True(tb, ok, "server closed before a connection arrived")
		return p
	case <-time.After(DefaultTimeout):
		require.FailNow(tb, "no backend connection within timeout")
		return nil
	}
}

// Close stops listening and closes every accepted connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	open := s.open
	s.open = nil
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, p := range open {
		p.Close()
	}
}

// Peer is the server side of one backend connection.
type Peer struct {
	conn net.Conn
	r    *bufio.Reader
}

// Send writes s verbatim. Line terminators must be included by the caller,
// so prompts can be sent unterminated.
func (p *Peer) Send(tb testing.TB, s string) {
	tb.Helper()
	_, err := p.conn.Write([]byte(s))
	require.NoError(tb, err)
}

// Sendln writes s followed by CR-LF.
func (p *Peer) Sendln(tb testing.TB, s string) {
	tb.Helper()
	p.Send(tb, s+"\r\n")
}

// ExpectInitiation consumes the protocol selection byte.
func (p *Peer) ExpectInitiation(tb testing.TB) {
	tb.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	b, err := p.r.ReadByte()
	require.NoError(tb, err)
	require.Equal(tb, byte(0x03), b, "first byte must select the chat protocol")
}

// ReadLine returns the next CR-LF terminated line without its terminator.
func (p *Peer) ReadLine(tb testing.TB) string {
	tb.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	line, err := p.r.ReadString('\n')
	require.NoError(tb, err, "partial line %q", line)
	require.True(tb, strings.HasSuffix(line, "\r\n"), "line %q is not CR-LF terminated", line)
	return strings.TrimSuffix(line, "\r\n")
}

// ExpectLine reads the next line and requires it to equal want.
func (p *Peer) ExpectLine(tb testing.TB, want string) {
	tb.Helper()
	require.Equal(tb, want, p.ReadLine(tb))
}

// ExpectSilence requires that nothing arrives within d.
func (p *Peer) ExpectSilence(tb testing.TB, d time.Duration) {
	tb.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
	b, err := p.r.Peek(1)
	if err == nil {
		require.FailNowf(tb, "unexpected data", "received %q", b)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		require.FailNowf(tb, "connection failed while expecting silence", "%v", err)
	}
}

// ExpectClosed requires the client to close the connection within the
// default timeout and returns whatever it sent before closing.
func (p *Peer) ExpectClosed(tb testing.TB) []byte {
	tb.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	var rest []byte
	for {
		b, err := p.r.ReadByte()
		if err == nil {
			rest = append(rest, b)
			continue
		}
		require.False(tb, errors.Is(err, os.ErrDeadlineExceeded), "connection still open")
		return rest
	}
}

// Login plays the server side of a successful interactive login and returns
// once the join command was received.
func (p *Peer) Login(tb testing.TB, username, password, channel string) {
	tb.Helper()
	p.ExpectInitiation(tb)
	p.Send(tb, "Username: ")
	p.ExpectLine(tb, username)
	p.Send(tb, "Password: ")
	p.ExpectLine(tb, password)
	p.ExpectLine(tb, "/join "+channel)
}

// Close closes the connection from the server side.
func (p *Peer) Close() {
	_ = p.conn.Close()
}
