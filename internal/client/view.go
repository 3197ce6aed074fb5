package client

import (
	"fmt"
	"strings"

	"github.com/omochice/pvpgn-gateway/pkg/protocol"
	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// View tracks what a terminal shows for one gateway session: the link
// state, the roster and the transcript lines to print.
type View struct {
	State   string
	Message string
	Users   []string
}

// NewView returns a view for a session that has not logged in.
func NewView() *View {
	return &View{State: "DISCONNECTED", Users: []string{}}
}

// Connected reports whether chat input can be sent.
func (v *View) Connected() bool {
	return v.State == "CONNECTED"
}

// Apply updates the view from env and returns the line to print, if any.
func (v *View) Apply(env protocol.Envelope) (string, bool) {
	switch env.Type {
	case protocol.TypeStatus:
		var st protocol.StatusPayload
		if err := env.DecodePayload(&st); err != nil {
			return "", false
		}
		v.State, v.Message = st.State, st.Message
		if st.Message == "" {
			return fmt.Sprintf("*** %s", st.State), true
		}
		return fmt.Sprintf("*** %s: %s", st.State, st.Message), true

	case protocol.TypeUserList:
		var users []string
		if err := env.DecodePayload(&users); err != nil {
			return "", false
		}
		if users == nil {
			users = []string{}
		}
		v.Users = users
		if len(users) == 0 {
			return "", false
		}
		return fmt.Sprintf("*** Users (%d): %s", len(users), strings.Join(users, ", ")), true

	case protocol.TypeMessage:
		var ev pvpgn.Event
		if err := env.DecodePayload(&ev); err != nil {
			return "", false
		}
		return FormatEvent(ev)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := env.DecodePayload(&p); err != nil {
			return "", false
		}
		return fmt.Sprintf("!!! [%s] %s", p.Source, p.Message), true
	}
	return "", false
}

// FormatEvent renders a chat event as one transcript line. Roster-only
// events are not printed.
func FormatEvent(ev pvpgn.Event) (string, bool) {
	if !ev.Transcript() {
		return "", false
	}

	switch ev.Kind {
	case pvpgn.KindTalk:
		return fmt.Sprintf("%s: %s", ev.User, ev.Message), true
	case pvpgn.KindWhisper:
		return fmt.Sprintf("[Whisper from %s]: %s", ev.User, ev.Message), true
	case pvpgn.KindWhisperTo:
		return fmt.Sprintf("[Whisper to %s]: %s", ev.User, ev.Message), true
	case pvpgn.KindJoin:
		return fmt.Sprintf("User %s has joined the channel.", ev.User), true
	case pvpgn.KindLeave:
		return fmt.Sprintf("User %s has left the channel.", ev.User), true
	case pvpgn.KindChannel:
		return fmt.Sprintf("[%s] %s", ev.Kind, ev.Channel), true
	}

	if ev.Degraded() && ev.Code != "" {
		return fmt.Sprintf("[%s] (%s) %s", ev.Kind, ev.Code, ev.Message), true
	}
	return fmt.Sprintf("[%s] %s", ev.Kind, ev.Message), true
}

// LocalEcho renders chat text the user just sent.
func LocalEcho(text string) string {
	return "You: " + text
}
