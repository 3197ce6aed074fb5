package pvpgn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want pvpgn.Event
	}{
		{
			name: "talk with message",
			line: "1005 TALK Bob hey there",
			want: pvpgn.Event{Kind: pvpgn.KindTalk, Code: "1005", User: "Bob", Message: "hey there"},
		},
		{
			name: "talk collapses whitespace in message",
			line: "1005 TALK Bob   hey    there ",
			want: pvpgn.Event{Kind: pvpgn.KindTalk, Code: "1005", User: "Bob", Message: "hey there"},
		},
		{
			name: "user list entry ignores flags",
			line: "1001 USER Alice 0010 [CHAT]",
			want: pvpgn.Event{Kind: pvpgn.KindUser, Code: "1001", User: "Alice"},
		},
		{
			name: "alternate user code",
			line: "1009 USER Carol 0000",
			want: pvpgn.Event{Kind: pvpgn.KindUser, Code: "1009", User: "Carol"},
		},
		{
			name: "join",
			line: "1002 JOIN Dave 0010 [W3XP]",
			want: pvpgn.Event{Kind: pvpgn.KindJoin, Code: "1002", User: "Dave"},
		},
		{
			name: "leave",
			line: "1003 LEAVE Dave",
			want: pvpgn.Event{Kind: pvpgn.KindLeave, Code: "1003", User: "Dave"},
		},
		{
			name: "whisper received",
			line: "1004 WHISPER Eve psst over here",
			want: pvpgn.Event{Kind: pvpgn.KindWhisper, Code: "1004", User: "Eve", Message: "psst over here"},
		},
		{
			name: "whisper acknowledgement",
			line: "1010 WHISPER_TO Eve ok",
			want: pvpgn.Event{Kind: pvpgn.KindWhisperTo, Code: "1010", User: "Eve", Message: "ok"},
		},
		{
			name: "channel with spaces",
			line: "1007 CHANNEL Tah'kaka chat",
			want: pvpgn.Event{Kind: pvpgn.KindChannel, Code: "1007", Channel: "Tah'kaka chat"},
		},
		{
			name: "info",
			line: "1018 INFO Welcome to the server",
			want: pvpgn.Event{Kind: pvpgn.KindInfo, Code: "1018", Message: "Welcome to the server"},
		},
		{
			name: "error",
			line: "1019 ERROR That user is not logged on.",
			want: pvpgn.Event{Kind: pvpgn.KindError, Code: "1019", Message: "That user is not logged on."},
		},
		{
			name: "stats",
			line: "1020 STATS wins 3 losses 1",
			want: pvpgn.Event{Kind: pvpgn.KindStats, Code: "1020", Message: "wins 3 losses 1"},
		},
		{
			name: "kind name repetition is case insensitive",
			line: "1018 info hello",
			want: pvpgn.Event{Kind: pvpgn.KindInfo, Code: "1018", Message: "hello"},
		},
		{
			name: "kind name omitted",
			line: "1005 Bob hi",
			want: pvpgn.Event{Kind: pvpgn.KindTalk, Code: "1005", User: "Bob", Message: "hi"},
		},
		{
			name: "info without body",
			line: "1018 INFO",
			want: pvpgn.Event{Kind: pvpgn.KindInfo, Code: "1018"},
		},
		{
			name: "unknown code keeps line verbatim",
			line: "2000 NULL ",
			want: pvpgn.Event{Kind: pvpgn.KindUnrecognized, Code: "2000", Message: "2000 NULL "},
		},
		{
			name: "non numeric first token",
			line: " Login failed - bad password",
			want: pvpgn.Event{Kind: pvpgn.KindRaw, Message: " Login failed - bad password"},
		},
		{
			name: "talk without message",
			line: "1005 TALK Bob",
			want: pvpgn.Event{Kind: pvpgn.KindParseError, Code: "1005", Message: "1005 TALK Bob"},
		},
		{
			name: "join without user",
			line: "1002 JOIN",
			want: pvpgn.Event{Kind: pvpgn.KindParseError, Code: "1002", Message: "1002 JOIN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pvpgn.Decode(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_BlankLine(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		_, ok := pvpgn.Decode(line)
		assert.False(t, ok, "Decode(%q) should yield no event", line)
	}
}

func TestDecode_Total(t *testing.T) {
	inputs := []string{
		"1", "1005", "1007", "1001 USER", "\x00\x01\x02", "9999999999999999999999 x",
		"1005 TALK", "-1 INFO", "１００５ TALK Bob hi", "1005\tTALK\tBob\thi",
	}
	for _, line := range inputs {
		assert.NotPanics(t, func() { pvpgn.Decode(line) }, "Decode(%q)", line)
	}
}

func TestEvent_Helpers(t *testing.T) {
	channel, _ := pvpgn.Decode("1007 CHANNEL Lobby")
	user, _ := pvpgn.Decode("1001 USER Alice")
	raw, _ := pvpgn.Decode("hello")

	assert.True(t, channel.ResetsRoster())
	assert.False(t, user.ResetsRoster())

	assert.False(t, user.Transcript())
	assert.True(t, channel.Transcript())

	assert.True(t, raw.Degraded())
	assert.False(t, user.Degraded())
}
