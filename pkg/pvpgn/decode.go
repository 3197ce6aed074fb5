package pvpgn

import "strings"

// shape describes how the tokens following the code are interpreted.
type shape int

const (
	shapeUser shape = iota
	shapeUserMessage
	shapeMessage
	shapeChannel
)

type codeEntry struct {
	kind  Kind
	shape shape
}

// codes maps the numeric prefix of a server line to its event kind.
var codes = map[string]codeEntry{
	"1001": {KindUser, shapeUser},
	"1002": {KindJoin, shapeUser},
	"1003": {KindLeave, shapeUser},
	"1004": {KindWhisper, shapeUserMessage},
	"1005": {KindTalk, shapeUserMessage},
	"1007": {KindChannel, shapeChannel},
	"1009": {KindUser, shapeUser},
	"1010": {KindWhisperTo, shapeUserMessage},
	"1018": {KindInfo, shapeMessage},
	"1019": {KindError, shapeMessage},
	"1020": {KindStats, shapeMessage},
}

// Decode turns one line (without its CR-LF terminator) into an Event.
// It returns false only when the line is blank. Lines that cannot be
// decoded produce a RAW, UNRECOGNIZED or PARSE_ERROR event instead.
func Decode(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}, false
	}

	code := fields[0]
	if !isNumeric(code) {
		return Event{Kind: KindRaw, Message: line}, true
	}

	entry, ok := codes[code]
	if !ok {
		return Event{Kind: KindUnrecognized, Code: code, Message: line}, true
	}

	rest := fields[1:]
	// The server usually repeats the kind name after the code ("1005 TALK ...").
	if len(rest) > 0 && strings.EqualFold(rest[0], string(entry.kind)) {
		rest = rest[1:]
	}

	ev := Event{Kind: entry.kind, Code: code}
	switch entry.shape {
	case shapeUser:
		if len(rest) < 1 {
			return parseError(code, line), true
		}
		ev.User = rest[0]
	case shapeUserMessage:
		if len(rest) < 2 {
			return parseError(code, line), true
		}
		ev.User = rest[0]
		ev.Message = strings.Join(rest[1:], " ")
	case shapeMessage:
		ev.Message = strings.Join(rest, " ")
	case shapeChannel:
		ev.Channel = strings.Join(rest, " ")
	}
	return ev, true
}

func parseError(code, line string) Event {
	return Event{Kind: KindParseError, Code: code, Message: line}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
