// Package pvpgn decodes the line-oriented chat protocol spoken by PvPGN
// (Battle.net compatible) servers into structured events.
package pvpgn

// Kind identifies the variant of an Event.
type Kind string

const (
	KindUser      Kind = "USER"       // user listed in the current channel
	KindJoin      Kind = "JOIN"       // user entered the channel
	KindLeave     Kind = "LEAVE"      // user left the channel
	KindWhisper   Kind = "WHISPER"    // whisper received
	KindTalk      Kind = "TALK"       // public channel message
	KindChannel   Kind = "CHANNEL"    // channel entered, roster must be reset
	KindWhisperTo Kind = "WHISPER_TO" // acknowledgement of a whisper we sent
	KindInfo      Kind = "INFO"
	KindError     Kind = "ERROR"
	KindStats     Kind = "STATS"

	// Degraded variants. Message holds the original line verbatim.
	KindRaw          Kind = "RAW"
	KindUnrecognized Kind = "UNRECOGNIZED"
	KindParseError   Kind = "PARSE_ERROR"
)

// Event is one decoded protocol line. Events are values and never mutated
// after Decode returns them.
type Event struct {
	Kind    Kind   `json:"type"`
	Code    string `json:"code,omitempty"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ResetsRoster reports whether consuming the event must clear the user list.
func (e Event) ResetsRoster() bool {
	return e.Kind == KindChannel
}

// Transcript reports whether the event belongs in a chat transcript.
// USER lines only describe channel membership and are consumed by the
// roster without being echoed.
func (e Event) Transcript() bool {
	return e.Kind != KindUser
}

// Degraded reports whether the line could not be decoded into a known shape.
func (e Event) Degraded() bool {
	switch e.Kind {
	case KindRaw, KindUnrecognized, KindParseError:
		return true
	default:
		return false
	}
}
