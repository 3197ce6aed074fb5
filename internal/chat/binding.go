package chat

import (
	"github.com/omochice/pvpgn-gateway/internal/backend"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/metrics"
	"github.com/omochice/pvpgn-gateway/pkg/protocol"
	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// binding relays the signals of one backend connection to the session that
// owns it. It is detached before the connection is torn down, so it never
// outlives its registration.
type binding struct {
	hub     *Hub
	session *Session
}

var _ backend.Observer = (*binding)(nil)

func (b *binding) OnStatus(st backend.Status) {
	b.hub.metrics.BackendState(st.State.String())
	b.hub.send(b.session, protocol.Status(st.State.String(), st.Message))

	if st.State == backend.StateDisconnected || st.State == backend.StateError {
		b.session.roster.Clear()
		b.hub.send(b.session, protocol.UserList(nil))
	}
}

// OnMessage updates the roster before relaying the event, so the user list
// a client holds is current when the event arrives.
func (b *binding) OnMessage(ev pvpgn.Event) {
	b.hub.metrics.Event(string(ev.Kind))
	if b.session.roster.Apply(ev) {
		b.hub.send(b.session, protocol.UserList(b.session.roster.List()))
	}
	b.hub.send(b.session, protocol.Message(ev))
}

func (b *binding) OnError(err error) {
	if backend.IsHandshakeFailure(err) {
		b.hub.metrics.BackendFault(metrics.FaultHandshake)
		b.session.logger.Warn("backend login failed", logger.Error(err))
	} else {
		b.hub.metrics.BackendFault(metrics.FaultStream)
		b.session.logger.Error("backend connection failed", logger.Error(err))
	}
	b.hub.sendError(b.session, protocol.SourceBackend, err.Error())
}
