package chat_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/pvpgn-gateway/internal/backend"
	"github.com/omochice/pvpgn-gateway/internal/chat"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/metrics"
	"github.com/omochice/pvpgn-gateway/internal/pvpgntest"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

const frameTimeout = 2 * time.Second

func newTestHub(t *testing.T) (*chat.Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	hub := chat.NewHub(chat.HubConfig{
		Logger:  logger.Discard(),
		Metrics: m,
	})
	return hub, m
}

// newTestSession registers a session whose frames are read straight from
// its queue, without a writer goroutine.
func newTestSession(t *testing.T, hub *chat.Hub) *chat.Session {
	t.Helper()
	s := hub.NewSession(newMockConn("127.0.0.1:50000"), protocol.JSON)
	hub.Register(s)
	t.Cleanup(func() { hub.Close(s) })
	return s
}

func nextFrame(t *testing.T, frames <-chan []byte) protocol.Envelope {
	t.Helper()
	select {
	case data, ok := <-frames:
		require.True(t, ok, "frame queue closed")
		env, err := protocol.JSON.Unmarshal(data)
		require.NoError(t, err)
		return env
	case <-time.After(frameTimeout):
		require.FailNow(t, "no frame received")
		return protocol.Envelope{}
	}
}

func expectNoFrame(t *testing.T, frames <-chan []byte, d time.Duration) {
	t.Helper()
	select {
	case data := <-frames:
		require.FailNowf(t, "unexpected frame", "%s", data)
	case <-time.After(d):
	}
}

func expectStatus(t *testing.T, frames <-chan []byte, state string) protocol.StatusPayload {
	t.Helper()
	env := nextFrame(t, frames)
	require.Equal(t, protocol.TypeStatus, env.Type, "payload %s", env.Payload)
	var p protocol.StatusPayload
	require.NoError(t, env.DecodePayload(&p))
	require.Equal(t, state, p.State, "status message %q", p.Message)
	return p
}

func expectUserList(t *testing.T, frames <-chan []byte, want ...string) {
	t.Helper()
	env := nextFrame(t, frames)
	require.Equal(t, protocol.TypeUserList, env.Type, "payload %s", env.Payload)
	var users []string
	require.NoError(t, env.DecodePayload(&users))
	if want == nil {
		want = []string{}
	}
	assert.Equal(t, want, users)
}

func expectMessage(t *testing.T, frames <-chan []byte) pvpgn.Event {
	t.Helper()
	env := nextFrame(t, frames)
	require.Equal(t, protocol.TypeMessage, env.Type, "payload %s", env.Payload)
	var ev pvpgn.Event
	require.NoError(t, env.DecodePayload(&ev))
	return ev
}

func expectError(t *testing.T, frames <-chan []byte, source string) string {
	t.Helper()
	env := nextFrame(t, frames)
	require.Equal(t, protocol.TypeError, env.Type, "payload %s", env.Payload)
	var p protocol.ErrorPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, source, p.Source)
	return p.Message
}

func loginFrame(t *testing.T, addr, username, password string) []byte {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	data, err := protocol.JSON.Marshal(protocol.Login(protocol.LoginPayload{
		Host: host, Port: protocol.Port(n), Username: username, Password: password,
	}))
	require.NoError(t, err)
	return data
}

func frame(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.JSON.Marshal(env)
	require.NoError(t, err)
	return data
}

// login drives a session through a successful backend handshake.
func login(t *testing.T, hub *chat.Hub, s *chat.Session, srv *pvpgntest.Server) *pvpgntest.Peer {
	t.Helper()
	hub.Dispatch(s, loginFrame(t, srv.Addr(), "alice", "secret"))
	expectStatus(t, s.Outgoing, "CONNECTING")

	peer := srv.Accept(t)
	peer.Login(t, "alice", "secret", backend.DefaultChannel)
	expectStatus(t, s.Outgoing, "AUTHENTICATING")
	expectStatus(t, s.Outgoing, "CONNECTED")
	return peer
}

func TestHub_Register(t *testing.T) {
	hub, m := newTestHub(t)

	for i := 0; i < 3; i++ {
		hub.Register(hub.NewSession(newMockConn("127.0.0.1:1234"), nil))
	}
	if got := hub.ClientCount(); got != 3 {
		t.Errorf("ClientCount() = %d, want 3", got)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestHub_Unregister(t *testing.T) {
	hub, _ := newTestHub(t)
	s := hub.NewSession(newMockConn("127.0.0.1:1234"), nil)

	hub.Register(s)
	hub.Register(s)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(s)
	hub.Unregister(s)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestHub_SessionIDsAreUnique(t *testing.T) {
	hub, _ := newTestHub(t)
	a := hub.NewSession(newMockConn("a"), nil)
	b := hub.NewSession(newMockConn("b"), nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestHub_DispatchRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		wantSource string
		wantMsg    string
	}{
		{
			name:       "not structured data",
			frame:      "hello there",
			wantSource: protocol.SourceServer,
			wantMsg:    "Invalid message format received.",
		},
		{
			name:       "null frame",
			frame:      "null",
			wantSource: protocol.SourceServer,
			wantMsg:    "Invalid message format received.",
		},
		{
			name:       "array frame",
			frame:      `[{"type":"chat"}]`,
			wantSource: protocol.SourceServer,
			wantMsg:    "Invalid message format received.",
		},
		{
			name:       "login with fractional port",
			frame:      `{"type":"login","payload":{"host":"localhost","port":6112.9,"username":"a","password":"b"}}`,
			wantSource: protocol.SourceClient,
			wantMsg:    "Invalid login payload. Missing fields.",
		},
		{
			name:       "unknown type",
			frame:      `{"type":"dance"}`,
			wantSource: protocol.SourceClient,
			wantMsg:    "Unknown command type: dance",
		},
		{
			name:       "login without password",
			frame:      `{"type":"login","payload":{"host":"localhost","port":6112,"username":"alice"}}`,
			wantSource: protocol.SourceClient,
			wantMsg:    "Invalid login payload. Missing fields.",
		},
		{
			name:       "login without payload",
			frame:      `{"type":"login"}`,
			wantSource: protocol.SourceClient,
			wantMsg:    "Invalid login payload. Missing fields.",
		},
		{
			name:       "login with non numeric port",
			frame:      `{"type":"login","payload":{"host":"localhost","port":"abc","username":"a","password":"b"}}`,
			wantSource: protocol.SourceClient,
			wantMsg:    "Invalid login payload. Missing fields.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, m := newTestHub(t)
			s := newTestSession(t, hub)

			hub.Dispatch(s, []byte(tt.frame))

			assert.Equal(t, tt.wantMsg, expectError(t, s.Outgoing, tt.wantSource))
			assert.Equal(t, backend.StateDisconnected, hub.State(s))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(tt.wantSource)))
		})
	}
}

func TestHub_ChatWhileDisconnected(t *testing.T) {
	hub, _ := newTestHub(t)
	s := newTestSession(t, hub)

	hub.Dispatch(s, frame(t, protocol.Chat("hello")))

	msg := expectError(t, s.Outgoing, protocol.SourceClient)
	assert.Equal(t, "Cannot send message, not fully connected (state: DISCONNECTED).", msg)
	expectNoFrame(t, s.Outgoing, 50*time.Millisecond)
}

func TestHub_ChatWhileAuthenticating(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, _ := newTestHub(t)
	s := newTestSession(t, hub)

	hub.Dispatch(s, loginFrame(t, srv.Addr(), "alice", "secret"))
	expectStatus(t, s.Outgoing, "CONNECTING")
	peer := srv.Accept(t)
	peer.ExpectInitiation(t)
	expectStatus(t, s.Outgoing, "AUTHENTICATING")

	hub.Chat(s, "too early")

	msg := expectError(t, s.Outgoing, protocol.SourceClient)
	assert.Contains(t, msg, "(state: AUTHENTICATING)")
	peer.ExpectSilence(t, 100*time.Millisecond)
}

func TestHub_LoginAndRoster(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, m := newTestHub(t)
	s := newTestSession(t, hub)
	peer := login(t, hub, s, srv)

	peer.Sendln(t, "1007 CHANNEL Tah'kaka chat")
	peer.Sendln(t, "1001 USER Alice")
	peer.Sendln(t, "1001 USER Alice")

	expectUserList(t, s.Outgoing)
	assert.Equal(t, pvpgn.KindChannel, expectMessage(t, s.Outgoing).Kind)

	expectUserList(t, s.Outgoing, "Alice")
	assert.Equal(t, "Alice", expectMessage(t, s.Outgoing).User)

	// The duplicate is relayed but does not rebroadcast the roster.
	ev := expectMessage(t, s.Outgoing)
	assert.Equal(t, pvpgn.KindUser, ev.Kind)
	expectNoFrame(t, s.Outgoing, 50*time.Millisecond)

	assert.Equal(t, []string{"Alice"}, s.Users())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDecoded.WithLabelValues("USER"))+
		testutil.ToFloat64(m.EventsDecoded.WithLabelValues("CHANNEL")))
}

func TestHub_ChatForwardsText(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, _ := newTestHub(t)
	s := newTestSession(t, hub)
	peer := login(t, hub, s, srv)

	hub.Dispatch(s, frame(t, protocol.Chat("hello everyone")))
	peer.ExpectLine(t, "hello everyone")

	hub.Dispatch(s, []byte(`{"type":"chat","payload":{"text":"nope"}}`))
	assert.Equal(t, "Invalid chat payload.", expectError(t, s.Outgoing, protocol.SourceClient))
	peer.ExpectSilence(t, 50*time.Millisecond)
}

func TestHub_Disconnect(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, m := newTestHub(t)
	s := newTestSession(t, hub)
	peer := login(t, hub, s, srv)

	peer.Sendln(t, "1001 USER Alice")
	expectUserList(t, s.Outgoing, "Alice")
	expectMessage(t, s.Outgoing)

	hub.Dispatch(s, frame(t, protocol.Disconnect()))

	st := expectStatus(t, s.Outgoing, "DISCONNECTED")
	assert.Equal(t, "Disconnected.", st.Message)
	expectUserList(t, s.Outgoing)
	expectNoFrame(t, s.Outgoing, 50*time.Millisecond)

	peer.ExpectClosed(t)
	assert.Empty(t, s.Users())
	assert.Equal(t, backend.StateDisconnected, hub.State(s))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveBackends))
}

func TestHub_DisconnectWithoutBackend(t *testing.T) {
	hub, _ := newTestHub(t)
	s := newTestSession(t, hub)

	hub.Disconnect(s)

	expectStatus(t, s.Outgoing, "DISCONNECTED")
	expectUserList(t, s.Outgoing)
}

func TestHub_BackendLoginFailure(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, m := newTestHub(t)
	s := newTestSession(t, hub)

	hub.Dispatch(s, loginFrame(t, srv.Addr(), "alice", "wrong"))
	expectStatus(t, s.Outgoing, "CONNECTING")

	peer := srv.Accept(t)
	peer.ExpectInitiation(t)
	peer.Send(t, "Login failed - bad password\r\n")

	expectStatus(t, s.Outgoing, "AUTHENTICATING")
	st := expectStatus(t, s.Outgoing, "ERROR")
	assert.Contains(t, st.Message, "Login failed")
	expectUserList(t, s.Outgoing)
	assert.Contains(t, expectError(t, s.Outgoing, protocol.SourceBackend), "Login failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFaults.WithLabelValues(metrics.FaultHandshake)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendFaults.WithLabelValues(metrics.FaultStream)))

	hub.Chat(s, "hello")
	assert.Contains(t, expectError(t, s.Outgoing, protocol.SourceClient), "(state: ERROR)")
}

func TestHub_RemoteCloseClearsRoster(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, _ := newTestHub(t)
	s := newTestSession(t, hub)
	peer := login(t, hub, s, srv)

	peer.Sendln(t, "1002 JOIN Bob")
	expectUserList(t, s.Outgoing, "Bob")
	expectMessage(t, s.Outgoing)

	peer.Close()

	st := expectStatus(t, s.Outgoing, "DISCONNECTED")
	assert.Equal(t, "Connection closed", st.Message)
	expectUserList(t, s.Outgoing)
	assert.Empty(t, s.Users())
}

func TestHub_ReloginReplacesBackend(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, m := newTestHub(t)
	s := newTestSession(t, hub)
	first := login(t, hub, s, srv)

	hub.Dispatch(s, loginFrame(t, srv.Addr(), "alice", "secret"))

	expectStatus(t, s.Outgoing, "DISCONNECTED")
	expectUserList(t, s.Outgoing)
	expectStatus(t, s.Outgoing, "CONNECTING")
	first.ExpectClosed(t)

	second := srv.Accept(t)
	second.Login(t, "alice", "secret", backend.DefaultChannel)
	expectStatus(t, s.Outgoing, "AUTHENTICATING")
	expectStatus(t, s.Outgoing, "CONNECTED")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveBackends))
}

func TestHub_CloseDoesNotNotify(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, m := newTestHub(t)
	s := hub.NewSession(newMockConn("127.0.0.1:50001"), protocol.JSON)
	hub.Register(s)
	peer := login(t, hub, s, srv)

	hub.Close(s)

	peer.ExpectClosed(t)
	_, ok := <-s.Outgoing
	assert.False(t, ok, "queue must be closed without further frames")
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))

	// Operations after close are harmless.
	hub.Close(s)
	hub.Chat(s, "anyone?")
}

func TestHub_Serve(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := newMockConn("127.0.0.1:50002")
	s := hub.NewSession(conn, nil)

	done := make(chan error, 1)
	go func() { done <- hub.Serve(context.Background(), s) }()

	st := expectStatus(t, conn.writeCh, "DISCONNECTED")
	assert.Equal(t, "Please login", st.Message)
	assert.Equal(t, 1, hub.ClientCount())

	conn.readCh <- []byte(`{"type":"chat","payload":"hi"}`)
	expectError(t, conn.writeCh, protocol.SourceClient)

	close(conn.readCh)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(frameTimeout):
		t.Fatal("Serve did not return after the connection closed")
	}
	assert.Equal(t, 0, hub.ClientCount())
	assert.True(t, conn.IsClosed())
}

func TestHub_ServeWithProtoCodec(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := newMockConn("127.0.0.1:50003")
	s := hub.NewSession(conn, protocol.Proto)

	go func() { _ = hub.Serve(context.Background(), s) }()
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case data := <-conn.writeCh:
		env, err := protocol.Proto.Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeStatus, env.Type)
	case <-time.After(frameTimeout):
		t.Fatal("no greeting")
	}
}

func TestHub_Shutdown(t *testing.T) {
	srv := pvpgntest.NewServer(t)
	hub, _ := newTestHub(t)
	conn := newMockConn("127.0.0.1:50004")
	s := hub.NewSession(conn, nil)

	served := make(chan error, 1)
	go func() { served <- hub.Serve(context.Background(), s) }()
	expectStatus(t, conn.writeCh, "DISCONNECTED")

	conn.readCh <- loginFrame(t, srv.Addr(), "alice", "secret")
	expectStatus(t, conn.writeCh, "CONNECTING")
	peer := srv.Accept(t)
	peer.Login(t, "alice", "secret", backend.DefaultChannel)
	expectStatus(t, conn.writeCh, "AUTHENTICATING")
	expectStatus(t, conn.writeCh, "CONNECTED")

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	expectStatus(t, conn.writeCh, "DISCONNECTED")
	expectUserList(t, conn.writeCh)
	st := expectStatus(t, conn.writeCh, "DISCONNECTED")
	assert.Equal(t, "Server shutting down", st.Message)

	require.NoError(t, <-served)
	peer.ExpectClosed(t)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 0, hub.ClientCount())
}
